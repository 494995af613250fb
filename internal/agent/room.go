package agent

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/bus"
	"github.com/noah-isme/sma-timetable-agents/internal/directory"
	"github.com/noah-isme/sma-timetable-agents/internal/dto"
	"github.com/noah-isme/sma-timetable-agents/internal/models"
	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
	"github.com/noah-isme/sma-timetable-agents/pkg/jobs"
)

// Room is the responder side of the contract net. It services one message
// end-to-end before the next, so slot verification and installation form a
// critical section without explicit locks.
type Room struct {
	info models.Room
	grid map[models.Day][]*models.Assignment

	b         *bus.Bus
	inbox     *bus.Inbox
	dir       *directory.Directory
	snapshots *jobs.Queue
	validate  *validator.Validate
	logger    *zap.Logger
	metrics   *telemetry.Metrics
}

// NewRoom wires a room agent and registers its inbox on the bus.
func NewRoom(info models.Room, b *bus.Bus, dir *directory.Directory, snapshots *jobs.Queue, inboxBuffer int, logger *zap.Logger, metrics *telemetry.Metrics) *Room {
	if logger == nil {
		logger = zap.NewNop()
	}
	grid := make(map[models.Day][]*models.Assignment, len(models.Weekdays))
	for _, day := range models.Weekdays {
		grid[day] = make([]*models.Assignment, models.MaxBlock)
	}
	return &Room{
		info:      info,
		grid:      grid,
		b:         b,
		inbox:     b.Register(info.Code, inboxBuffer),
		dir:       dir,
		snapshots: snapshots,
		validate:  validator.New(),
		logger:    logger.Named("room").With(zap.String("agent", info.Code)),
		metrics:   metrics,
	}
}

// Address returns the agent's bus address.
func (r *Room) Address() string {
	return r.info.Code
}

// Run registers the room in the directory and services the inbox until the
// context is cancelled.
func (r *Room) Run(ctx context.Context) error {
	err := r.dir.Register(r.info.Code, []directory.Capability{{
		ServiceType: directory.ServiceClassroom,
		Properties: map[string]string{
			"campus":   r.info.Campus,
			"capacity": strconv.Itoa(r.info.Capacity),
			"turno":    strconv.Itoa(r.info.Shift),
		},
	}})
	if err != nil {
		return err
	}
	r.logger.Info("room online", zap.String("campus", r.info.Campus), zap.Int("capacity", r.info.Capacity))

	for {
		env, ok := r.inbox.Receive(ctx, time.Second)
		if !ok {
			if ctx.Err() != nil {
				r.shutdown()
				return nil
			}
			_ = r.dir.Heartbeat(r.info.Code)
			continue
		}

		switch env.Performative {
		case bus.CFP:
			r.handleCFP(env)
		case bus.AcceptProposal:
			r.handleAccept(env)
		default:
			// Anything else is not ours to answer.
		}
	}
}

func (r *Room) shutdown() {
	_ = r.dir.Deregister(r.info.Code)
	r.b.Unregister(r.info.Code)
	r.logger.Info("room offline")
}

func (r *Room) handleCFP(env bus.Envelope) {
	var cfp dto.CFP
	if err := env.Decode(&cfp); err != nil {
		r.dropMalformed(env, err)
		return
	}
	if err := r.validate.Struct(cfp); err != nil {
		r.dropMalformed(env, err)
		return
	}

	available := r.freeBlocks()
	if len(available) == 0 {
		reply := r.reply(bus.Refuse, env)
		if err := r.b.Send(reply); err != nil {
			r.logger.Warn("refuse not delivered", zap.Error(err))
		}
		return
	}

	body := dto.ClassroomAvailability{
		Code:            r.info.Code,
		Campus:          r.info.Campus,
		Capacity:        r.info.Capacity,
		AvailableBlocks: available,
	}
	reply, err := r.reply(bus.Propose, env).WithBody(body)
	if err != nil {
		r.logger.Error("encode availability", zap.Error(err))
		return
	}
	if err := r.b.Send(reply); err != nil {
		r.logger.Warn("propose not delivered", zap.Error(err))
	}
}

func (r *Room) handleAccept(env bus.Envelope) {
	var batch dto.BatchAssignmentRequest
	if err := env.Decode(&batch); err != nil {
		r.dropMalformed(env, err)
		return
	}
	if err := r.validate.Struct(batch); err != nil {
		r.dropMalformed(env, err)
		return
	}

	confirmed := make([]dto.ConfirmedAssignment, 0, len(batch.Requests))
	for _, req := range batch.Requests {
		day, ok := models.ParseDay(req.Day)
		if !ok {
			continue
		}
		// Requests failing verification are dropped; the professor infers
		// the failures from the confirmation diff.
		if req.ClassroomCode != r.info.Code {
			continue
		}
		if req.Block < 1 || req.Block > models.MaxBlock {
			continue
		}
		if r.grid[day][req.Block-1] != nil {
			continue
		}
		r.grid[day][req.Block-1] = &models.Assignment{
			SubjectName:  req.SubjectName,
			Satisfaction: req.Satisfaction,
			Occupancy:    float64(req.Vacancy) / float64(r.info.Capacity),
		}
		confirmed = append(confirmed, dto.ConfirmedAssignment{
			Day:           req.Day,
			Block:         req.Block,
			ClassroomCode: r.info.Code,
			Satisfaction:  req.Satisfaction,
		})
	}

	reply, err := r.reply(bus.Inform, env).WithBody(dto.BatchAssignmentConfirmation{Confirmed: confirmed})
	if err != nil {
		r.logger.Error("encode confirmation", zap.Error(err))
		return
	}
	reply.Ontology = bus.OntologyRoomAssignment
	if err := r.b.Send(reply); err != nil {
		r.logger.Warn("inform not delivered", zap.Error(err))
	}
	r.metrics.ObserveAssignments(len(confirmed))

	if len(confirmed) > 0 {
		r.enqueueSnapshot()
	}
}

// reply builds a response that keeps the originator's conversation and
// correlation ids.
func (r *Room) reply(performative bus.Performative, env bus.Envelope) bus.Envelope {
	out := bus.NewEnvelope(performative, r.info.Code, env.Sender)
	out.Protocol = bus.ProtocolContractNet
	out.Ontology = bus.OntologyClassroomAvailability
	out.ConversationID = env.ConversationID
	out.CorrelationID = env.CorrelationID
	return out
}

// freeBlocks lists the empty block indices per day, omitting full days.
func (r *Room) freeBlocks() map[string][]int {
	out := make(map[string][]int)
	for _, day := range models.Weekdays {
		var free []int
		for b := 1; b <= models.MaxBlock; b++ {
			if r.grid[day][b-1] == nil {
				free = append(free, b)
			}
		}
		if len(free) > 0 {
			out[string(day)] = free
		}
	}
	return out
}

func (r *Room) enqueueSnapshot() {
	if r.snapshots == nil {
		return
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Kind:    "room-schedule",
		Payload: r.Snapshot(),
	}
	if err := r.snapshots.Enqueue(job); err != nil {
		r.logger.Warn("snapshot not enqueued", zap.Error(err))
	}
}

// Snapshot renders the grid as the persisted room schedule row.
func (r *Room) Snapshot() dto.RoomScheduleEntry {
	entry := dto.RoomScheduleEntry{
		Code:     r.info.Code,
		Campus:   r.info.Campus,
		Subjects: []dto.RoomScheduledSubject{},
	}
	for _, day := range models.Weekdays {
		for b := 1; b <= models.MaxBlock; b++ {
			slot := r.grid[day][b-1]
			if slot == nil {
				continue
			}
			entry.Subjects = append(entry.Subjects, dto.RoomScheduledSubject{
				Name:         slot.SubjectName,
				Capacity:     int(math.Round(slot.Occupancy * float64(r.info.Capacity))),
				Block:        b,
				Day:          string(day),
				Satisfaction: slot.Satisfaction,
			})
		}
	}
	return entry
}

func (r *Room) dropMalformed(env bus.Envelope, err error) {
	r.metrics.ObserveDrop()
	r.logger.Debug("malformed message dropped",
		zap.String("from", env.Sender),
		zap.String("performative", string(env.Performative)),
		zap.Error(err))
}
