package agent

import (
	"context"
	"sort"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/bus"
	"github.com/noah-isme/sma-timetable-agents/internal/directory"
	"github.com/noah-isme/sma-timetable-agents/internal/dto"
	"github.com/noah-isme/sma-timetable-agents/internal/evaluator"
	"github.com/noah-isme/sma-timetable-agents/internal/models"
	"github.com/noah-isme/sma-timetable-agents/internal/store"
	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
	"github.com/noah-isme/sma-timetable-agents/pkg/config"
)

type fsmState int

const (
	stateSetup fsmState = iota
	stateCollecting
	stateEvaluating
	stateFinished
)

func (s fsmState) String() string {
	switch s {
	case stateSetup:
		return "SETUP"
	case stateCollecting:
		return "COLLECTING"
	case stateEvaluating:
		return "EVALUATING"
	default:
		return "FINISHED"
	}
}

// Professor drives the initiator side of the contract net for its own list of
// subjects. All mutable state is owned by the FSM goroutine.
type Professor struct {
	name     string
	order    int
	partTime bool
	subjects []models.Subject
	// instances[i] counts earlier occurrences of subjects[i].Code, so
	// repeated codes keep distinct instance keys.
	instances []int

	idx     int
	pending int
	retries int
	record  *models.AssignationRecord

	campusAt      map[models.Day]map[int]string
	subjectBlocks map[models.Day][]int
	dayUsage      map[models.Day]int
	roomUse       map[string]int
	assignments   []models.ProfessorAssignment
	requests      int
	completed     int

	// Per-round negotiation state.
	convID    string
	corrID    string
	expected  mapset.Set
	proposals []evaluator.Proposal
	seen      map[string]struct{}

	b       *bus.Bus
	inbox   *bus.Inbox
	dir     *directory.Directory
	filter  *evaluator.Filter
	profs   *store.ProfessorStore
	cfg     config.NegotiationConfig
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewProfessor wires a professor agent and registers its inbox on the bus.
func NewProfessor(
	name string,
	order int,
	partTime bool,
	subjects []models.Subject,
	b *bus.Bus,
	dir *directory.Directory,
	filter *evaluator.Filter,
	profs *store.ProfessorStore,
	cfg config.NegotiationConfig,
	logger *zap.Logger,
	metrics *telemetry.Metrics,
) *Professor {
	if logger == nil {
		logger = zap.NewNop()
	}
	instances := make([]int, len(subjects))
	counts := make(map[string]int, len(subjects))
	for i, sub := range subjects {
		instances[i] = counts[sub.Code]
		counts[sub.Code]++
	}
	return &Professor{
		name:          name,
		order:         order,
		partTime:      partTime,
		subjects:      subjects,
		instances:     instances,
		campusAt:      make(map[models.Day]map[int]string),
		subjectBlocks: make(map[models.Day][]int),
		dayUsage:      make(map[models.Day]int),
		roomUse:       make(map[string]int),
		seen:          make(map[string]struct{}),
		b:             b,
		inbox:         b.Register(name, cfg.InboxBuffer),
		dir:           dir,
		filter:        filter,
		profs:         profs,
		cfg:           cfg,
		logger:        logger.Named("professor").With(zap.String("agent", name), zap.Int("order", order)),
		metrics:       metrics,
	}
}

// Address returns the agent's bus address.
func (p *Professor) Address() string {
	return p.name
}

// Assignments returns the confirmed schedule, for reporting and tests.
func (p *Professor) Assignments() []models.ProfessorAssignment {
	return append([]models.ProfessorAssignment(nil), p.assignments...)
}

// Run registers the professor, waits for its turn token, then negotiates
// every subject to completion.
func (p *Professor) Run(ctx context.Context) error {
	err := p.dir.Register(p.name, []directory.Capability{{
		ServiceType: directory.ServiceProfessor,
		Properties:  map[string]string{directory.PropOrder: strconv.Itoa(p.order)},
	}})
	if err != nil {
		return err
	}
	p.logger.Info("professor online", zap.Int("subjects", len(p.subjects)))

	if !p.awaitStart(ctx) {
		p.cleanup()
		return ctx.Err()
	}

	state := stateSetup
	for state != stateFinished {
		if ctx.Err() != nil {
			break
		}
		next := p.step(ctx, state)
		if next != state {
			p.logger.Debug("transition", zap.String("from", state.String()), zap.String("to", next.String()))
		}
		state = next
	}

	p.finish()
	return nil
}

// step runs one state handler. An uncaught panic inside a transition falls
// back to SETUP so the FSM never leaves its named states.
func (p *Professor) step(ctx context.Context, state fsmState) (next fsmState) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("transition panicked, falling back to SETUP", zap.Any("panic", r))
			next = stateSetup
		}
	}()

	switch state {
	case stateSetup:
		return p.setup(ctx)
	case stateCollecting:
		return p.collect(ctx)
	case stateEvaluating:
		return p.evaluate(ctx)
	default:
		return stateFinished
	}
}

// awaitStart blocks until the turn token with this professor's order arrives.
// Duplicate tokens received later are drained and ignored by the round loops.
func (p *Professor) awaitStart(ctx context.Context) bool {
	want := strconv.Itoa(p.order)
	for {
		env, ok := p.inbox.Receive(ctx, time.Second)
		if !ok {
			if ctx.Err() != nil {
				return false
			}
			_ = p.dir.Heartbeat(p.name)
			continue
		}
		if env.ConversationID != bus.ConversationNegotiationStart &&
			env.ConversationID != bus.ConversationNegotiationStartBase {
			continue
		}
		if env.Meta(bus.MetaNextOrder) != want {
			continue
		}
		p.logger.Info("turn token received", zap.String("conversation", env.ConversationID))
		return true
	}
}

// setup prepares the round for the current subject and broadcasts CFPs.
func (p *Professor) setup(ctx context.Context) fsmState {
	if p.idx >= len(p.subjects) {
		return stateFinished
	}
	sub := p.subjects[p.idx]

	// Entering with no remaining demand means this is a fresh subject.
	if p.pending == 0 {
		p.pending = sub.Hours
		p.record = nil
		p.retries = 0
		p.subjectBlocks = make(map[models.Day][]int)
	}

	rooms := p.candidateRooms(sub)
	if len(rooms) == 0 {
		p.retries++
		p.logger.Debug("no candidate rooms", zap.String("subject", sub.Name), zap.Int("retries", p.retries))
		if p.retries >= p.cfg.MaxRetries {
			p.advanceSubject(false)
			return stateSetup
		}
		// Slow down the spam between empty rounds.
		p.sleep(ctx, p.cfg.MinCollectWindow)
		return stateSetup
	}

	p.sendCFPs(sub, rooms)
	return stateCollecting
}

// candidateRooms queries the directory and applies the quick-reject filter.
func (p *Professor) candidateRooms(sub models.Subject) []models.Room {
	entries := p.dir.Search(directory.Query{ServiceType: directory.ServiceClassroom})
	rooms := make([]models.Room, 0, len(entries))
	for _, entry := range entries {
		room, ok := roomFromEntry(entry)
		if !ok {
			continue
		}
		if !p.filter.Allow(sub, room) {
			continue
		}
		rooms = append(rooms, room)
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Code < rooms[j].Code })
	return rooms
}

// sendCFPs starts a fresh round: new conversation and correlation ids, and a
// remembered responder set for early termination.
func (p *Professor) sendCFPs(sub models.Subject, rooms []models.Room) {
	p.convID = "neg-" + p.name + "-" + strconv.Itoa(p.pending)
	p.corrID = bus.NewCorrelationID()
	p.expected = mapset.NewSet()
	p.proposals = nil

	body := dto.CFP{
		Name:          sub.Name,
		Enrollment:    sub.Enrollment,
		Level:         sub.Level,
		Campus:        sub.Campus,
		PendingBlocks: p.pending,
	}
	if p.record != nil {
		body.AssignedRoom = p.record.Room
		body.LastDay = string(p.record.Day)
		body.LastBlock = p.record.Block
	}

	for _, room := range rooms {
		env := bus.NewEnvelope(bus.CFP, p.name, room.Code)
		env.Protocol = bus.ProtocolContractNet
		env.Ontology = bus.OntologyClassroomAvailability
		env.ConversationID = p.convID
		env.CorrelationID = p.corrID
		env, err := env.WithBody(body)
		if err != nil {
			p.logger.Error("encode cfp", zap.Error(err))
			continue
		}
		if err := p.b.Send(env); err != nil {
			// A lost send is retried by the next round's backoff.
			p.logger.Warn("cfp not delivered", zap.String("room", room.Code), zap.Error(err))
			continue
		}
		p.expected.Add(room.Code)
		p.requests++
	}
	p.logger.Debug("cfp round started",
		zap.String("subject", sub.Name),
		zap.Int("pending", p.pending),
		zap.Int("cfps", p.expected.Cardinality()))
}

// collect gathers PROPOSE/REFUSE replies until the backoff deadline, early
// terminating once every expected responder answered.
func (p *Professor) collect(ctx context.Context) fsmState {
	sub := p.subjects[p.idx]
	window := p.cfg.BaseTimeout + (1<<uint(p.retries))*p.cfg.BackoffOffset
	start := time.Now()
	deadline := start.Add(window)
	responded := mapset.NewSet()

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		env, ok := p.inbox.Receive(ctx, remaining)
		if !ok {
			break
		}
		if _, dup := p.seen[env.MessageID]; dup {
			continue
		}
		p.seen[env.MessageID] = struct{}{}
		if env.ConversationID != p.convID || env.CorrelationID != p.corrID {
			continue
		}

		switch env.Performative {
		case bus.Propose:
			var avail dto.ClassroomAvailability
			if err := env.Decode(&avail); err != nil {
				p.metrics.ObserveDrop()
				continue
			}
			p.proposals = append(p.proposals, proposalFrom(env, avail))
			p.metrics.ObserveProposal()
			responded.Add(env.Sender)
		case bus.Refuse:
			responded.Add(env.Sender)
		default:
		}

		if responded.Cardinality() >= p.expected.Cardinality() {
			if waited := time.Since(start); waited < p.cfg.MinCollectWindow {
				p.sleep(ctx, p.cfg.MinCollectWindow-waited)
			}
			break
		}
	}
	p.metrics.ObserveRound(time.Since(start))

	if len(p.proposals) > 0 {
		return stateEvaluating
	}

	if p.pending == sub.Hours {
		// No progress on this subject at all; look at the next one.
		p.advanceSubject(false)
		return stateSetup
	}
	if p.record != nil {
		// Broaden future CFPs by dropping the room preference.
		p.record.Room = ""
	}
	p.retries++
	if p.retries >= p.cfg.MaxRetries {
		p.advanceSubject(false)
	}
	return stateSetup
}

// evaluate scores the collected proposals and commits batches best-first.
func (p *Professor) evaluate(ctx context.Context) fsmState {
	sub := p.subjects[p.idx]
	proposals := p.proposals
	p.proposals = nil

	type candidate struct {
		prop   evaluator.Proposal
		usable map[models.Day][]int
	}

	view := p.buildView(sub)
	var valid []candidate
	for _, prop := range proposals {
		usable, score, ok := evaluator.Evaluate(sub, prop, view)
		if !ok {
			continue
		}
		prop.Score = score
		valid = append(valid, candidate{prop: prop, usable: usable})
	}
	sort.SliceStable(valid, func(i, j int) bool {
		if valid[i].prop.Score != valid[j].prop.Score {
			return valid[i].prop.Score > valid[j].prop.Score
		}
		return valid[i].prop.Room.Code < valid[j].prop.Room.Code
	})

	committed := 0
	for _, cand := range valid {
		if p.pending == 0 {
			break
		}
		view = p.buildView(sub)
		batch := p.buildBatch(sub, cand.prop.Room, cand.usable, view)
		if len(batch) == 0 {
			continue
		}
		confirmed := p.commitBatch(ctx, sub, cand.prop, batch)
		committed += confirmed
		if confirmed > 0 {
			p.metrics.ObserveAcceptedProposal()
		}
	}

	if p.pending == 0 {
		p.advanceSubject(true)
		return stateSetup
	}
	if committed > 0 {
		// Progress made; rebroadcast CFPs for the remainder.
		rooms := p.candidateRooms(sub)
		if len(rooms) > 0 {
			p.sendCFPs(sub, rooms)
			return stateCollecting
		}
		return stateSetup
	}

	p.retries++
	if p.retries >= p.cfg.MaxRetries {
		if p.record != nil && p.record.Room != "" {
			p.record.Room = ""
			p.retries = 0
		} else {
			p.advanceSubject(false)
		}
	}
	return stateSetup
}

// buildBatch selects the blocks of one proposal that survive the professor's
// own schedule, the per-day cap, and the remaining demand. The scratch view
// is extended block by block so intra-batch combinations stay legal.
func (p *Professor) buildBatch(sub models.Subject, room evaluator.RoomInfo, usable map[models.Day][]int, view evaluator.View) []dto.AssignmentRequest {
	scratch := view.Clone()
	var batch []dto.AssignmentRequest

	for _, day := range models.Weekdays {
		blocks, ok := usable[day]
		if !ok {
			continue
		}
		for _, block := range blocks {
			if scratch.Pending <= 0 {
				break
			}
			if !evaluator.BlockAllowed(sub, room, day, block, scratch) {
				continue
			}
			sat := evaluator.Satisfaction(sub, room, day, block, scratch)
			batch = append(batch, dto.AssignmentRequest{
				Day:           string(day),
				Block:         block,
				SubjectName:   sub.Name,
				Satisfaction:  sat,
				ClassroomCode: room.Code,
				Vacancy:       sub.Enrollment,
			})
			scratch.Add(day, block, room.Campus)
		}
	}
	return batch
}

// commitBatch sends ACCEPT_PROPOSAL and applies whatever the room confirms.
func (p *Professor) commitBatch(ctx context.Context, sub models.Subject, prop evaluator.Proposal, batch []dto.AssignmentRequest) int {
	env := bus.NewEnvelope(bus.AcceptProposal, p.name, prop.Responder)
	env.Protocol = bus.ProtocolContractNet
	env.Ontology = bus.OntologyRoomAssignment
	env.ConversationID = prop.ConversationID
	env.CorrelationID = bus.NewCorrelationID()
	env, err := env.WithBody(dto.BatchAssignmentRequest{Requests: batch})
	if err != nil {
		p.logger.Error("encode batch", zap.Error(err))
		return 0
	}
	if err := p.b.Send(env); err != nil {
		p.logger.Warn("accept not delivered", zap.String("room", prop.Responder), zap.Error(err))
		return 0
	}

	reply, ok := p.inbox.ReceiveMatch(ctx, p.cfg.InformTimeout, func(in bus.Envelope) bool {
		return in.Performative == bus.Inform &&
			in.Sender == prop.Responder &&
			in.ConversationID == prop.ConversationID
	})
	if !ok {
		p.logger.Debug("no inform before timeout", zap.String("room", prop.Responder))
		return 0
	}

	var confirmation dto.BatchAssignmentConfirmation
	if err := reply.Decode(&confirmation); err != nil {
		p.metrics.ObserveDrop()
		return 0
	}

	for _, c := range confirmation.Confirmed {
		day, ok := models.ParseDay(c.Day)
		if !ok {
			continue
		}
		p.applyCommit(sub, day, c.Block, c.ClassroomCode, c.Satisfaction, prop.Room.Campus)
	}
	if n := len(confirmation.Confirmed); n > 0 {
		p.profs.Upsert(p.name, p.Snapshot())
		return n
	}
	return 0
}

// applyCommit records one confirmed block in the professor's own schedule.
func (p *Professor) applyCommit(sub models.Subject, day models.Day, block int, room string, satisfaction int, campus string) {
	if p.campusAt[day] == nil {
		p.campusAt[day] = make(map[int]string)
	}
	if _, taken := p.campusAt[day][block]; taken {
		// Never record the same (day, block) twice.
		return
	}
	p.campusAt[day][block] = campus
	p.subjectBlocks[day] = append(p.subjectBlocks[day], block)
	sort.Ints(p.subjectBlocks[day])
	p.dayUsage[day]++
	p.roomUse[room]++
	p.assignments = append(p.assignments, models.ProfessorAssignment{
		SubjectName:  sub.Name,
		SubjectCode:  sub.Code,
		Instance:     p.instances[p.idx],
		Activity:     sub.Activity,
		Room:         room,
		Day:          day,
		Block:        block,
		Satisfaction: satisfaction,
	})
	if p.pending > 0 {
		p.pending--
	}
	p.record = &models.AssignationRecord{Day: day, Block: block, Room: room}
	p.metrics.ObserveAssignments(1)
}

// advanceSubject moves to the next subject, optionally counting the current
// one as completed.
func (p *Professor) advanceSubject(completed bool) {
	if completed {
		p.completed++
	}
	p.idx++
	p.pending = 0
	p.retries = 0
	p.record = nil
	p.subjectBlocks = make(map[models.Day][]int)
}

// buildView snapshots the professor state for the evaluator.
func (p *Professor) buildView(sub models.Subject) evaluator.View {
	view := evaluator.NewView()
	view.PartTime = p.partTime
	view.Pending = p.pending
	view.Required = sub.Hours
	view.Record = p.record
	for day, blocks := range p.campusAt {
		m := make(map[int]string, len(blocks))
		for b, c := range blocks {
			m[b] = c
		}
		view.CampusAt[day] = m
	}
	for day, blocks := range p.subjectBlocks {
		view.SubjectBlocks[day] = append([]int(nil), blocks...)
	}
	for day, n := range p.dayUsage {
		view.DayUsage[day] = n
	}
	for room, n := range p.roomUse {
		view.RoomUse[room] = n
	}
	if len(p.roomUse) > 0 {
		rooms := lo.Keys(p.roomUse)
		sort.Strings(rooms)
		best := rooms[0]
		for _, room := range rooms {
			if p.roomUse[room] > p.roomUse[best] {
				best = room
			}
		}
		view.MostUsedRoom = best
	}
	return view
}

// finish hands the turn forward, then tears the agent down under the
// watchdog. Errors are absorbed; the professor always terminates.
func (p *Professor) finish() {
	p.profs.Upsert(p.name, p.Snapshot())

	if next, ok := p.dir.FindProfessorByOrder(p.order + 1); ok {
		env := bus.NewEnvelope(bus.Inform, p.name, next.Address)
		env.Protocol = bus.ProtocolSystemControl
		env.Ontology = bus.OntologyAgentStatus
		env.ConversationID = bus.ConversationNegotiationStart
		env = env.WithMeta(bus.MetaNextOrder, strconv.Itoa(p.order+1))
		env.Body = []byte(`"START"`)
		if err := p.b.Send(env); err != nil {
			p.logger.Warn("handoff not delivered", zap.String("next", next.Address), zap.Error(err))
		} else {
			p.logger.Info("turn passed", zap.String("next", next.Address))
		}
	} else {
		p.notifySupervisor()
	}

	done := make(chan struct{})
	go func() {
		p.cleanup()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(p.cfg.CleanupWatchdog):
		p.logger.Error("cleanup watchdog expired, forcing stop")
	}
}

// notifySupervisor reports end-of-run when no higher order exists.
func (p *Professor) notifySupervisor() {
	monitors := p.dir.Search(directory.Query{ServiceType: directory.ServiceMonitor})
	if len(monitors) == 0 {
		p.logger.Warn("no supervisor registered")
		return
	}
	env := bus.NewEnvelope(bus.Inform, p.name, monitors[0].Address)
	env.Protocol = bus.ProtocolSystemControl
	env.Ontology = bus.OntologySystemControl
	env.ConversationID = bus.ConversationNegotiationStart
	env.Body = []byte(`"SHUTDOWN"`)
	if err := p.b.Send(env); err != nil {
		p.logger.Warn("shutdown inform not delivered", zap.Error(err))
	} else {
		p.logger.Info("supervisor notified, run complete")
	}
}

func (p *Professor) cleanup() {
	err := multierr.Combine(
		p.profs.ForceFlush(),
		p.dir.Deregister(p.name),
	)
	p.b.Unregister(p.name)
	if err != nil {
		p.logger.Warn("cleanup finished with errors", zap.Error(err))
	}
}

// Snapshot renders the professor's confirmed schedule row.
func (p *Professor) Snapshot() dto.ProfessorScheduleEntry {
	subjects := make([]dto.ScheduledSubject, 0, len(p.assignments))
	for _, a := range p.assignments {
		subjects = append(subjects, dto.ScheduledSubject{
			Name:         a.SubjectName,
			Room:         a.Room,
			Block:        a.Block,
			Day:          string(a.Day),
			Satisfaction: a.Satisfaction,
			SubjectCode:  a.SubjectCode,
			Instance:     a.Instance,
			Activity:     string(a.Activity),
		})
	}
	return dto.ProfessorScheduleEntry{
		Name:              p.name,
		Subjects:          subjects,
		Requests:          p.requests,
		CompletedSubjects: p.completed,
	}
}

func (p *Professor) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// proposalFrom decodes an availability reply into an evaluator proposal.
func proposalFrom(env bus.Envelope, avail dto.ClassroomAvailability) evaluator.Proposal {
	blocks := make(map[models.Day][]int, len(avail.AvailableBlocks))
	for raw, list := range avail.AvailableBlocks {
		day, ok := models.ParseDay(raw)
		if !ok {
			continue
		}
		blocks[day] = list
	}
	return evaluator.Proposal{
		Room: evaluator.RoomInfo{
			Code:     avail.Code,
			Campus:   avail.Campus,
			Capacity: avail.Capacity,
		},
		Blocks:         blocks,
		ConversationID: env.ConversationID,
		Responder:      env.Sender,
	}
}

// roomFromEntry rebuilds a room model from its directory capabilities.
func roomFromEntry(entry directory.Entry) (models.Room, bool) {
	for _, c := range entry.Capabilities {
		if c.ServiceType != directory.ServiceClassroom {
			continue
		}
		capacity, err := strconv.Atoi(c.Properties["capacity"])
		if err != nil {
			return models.Room{}, false
		}
		shift, _ := strconv.Atoi(c.Properties["turno"])
		return models.Room{
			Code:     entry.Address,
			Campus:   c.Properties["campus"],
			Capacity: capacity,
			Shift:    shift,
		}, true
	}
	return models.Room{}, false
}
