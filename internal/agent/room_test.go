package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-agents/internal/bus"
	"github.com/noah-isme/sma-timetable-agents/internal/directory"
	"github.com/noah-isme/sma-timetable-agents/internal/dto"
	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

func newTestRoom(t *testing.T, info models.Room) (*Room, *bus.Bus, *bus.Inbox) {
	t.Helper()
	b := bus.New(nil, nil)
	dir := directory.New(time.Minute, 0, nil, nil)
	room := NewRoom(info, b, dir, nil, 16, nil, nil)
	profInbox := b.Register("Ana Soto", 16)
	return room, b, profInbox
}

func cfpEnvelope(t *testing.T, receiver string, body dto.CFP) bus.Envelope {
	t.Helper()
	env := bus.NewEnvelope(bus.CFP, "Ana Soto", receiver)
	env.Protocol = bus.ProtocolContractNet
	env.Ontology = bus.OntologyClassroomAvailability
	env.ConversationID = "neg-Ana Soto-2"
	env.CorrelationID = bus.NewCorrelationID()
	env, err := env.WithBody(body)
	require.NoError(t, err)
	return env
}

func acceptEnvelope(t *testing.T, receiver string, batch dto.BatchAssignmentRequest) bus.Envelope {
	t.Helper()
	env := bus.NewEnvelope(bus.AcceptProposal, "Ana Soto", receiver)
	env.Protocol = bus.ProtocolContractNet
	env.Ontology = bus.OntologyRoomAssignment
	env.ConversationID = "neg-Ana Soto-2"
	env.CorrelationID = bus.NewCorrelationID()
	env, err := env.WithBody(batch)
	require.NoError(t, err)
	return env
}

func validCFP() dto.CFP {
	return dto.CFP{
		Name:          "Calculo I",
		Enrollment:    25,
		Level:         1,
		Campus:        "K",
		PendingBlocks: 2,
	}
}

func TestRoomProposesFreeBlocks(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})

	env := cfpEnvelope(t, "K101", validCFP())
	room.handleCFP(env)

	reply, ok := profInbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.Propose, reply.Performative)
	assert.Equal(t, env.ConversationID, reply.ConversationID)
	assert.Equal(t, env.CorrelationID, reply.CorrelationID)

	var avail dto.ClassroomAvailability
	require.NoError(t, reply.Decode(&avail))
	assert.Equal(t, "K101", avail.Code)
	assert.Equal(t, 30, avail.Capacity)
	require.Len(t, avail.AvailableBlocks, len(models.Weekdays))
	for _, day := range models.Weekdays {
		assert.Len(t, avail.AvailableBlocks[string(day)], models.MaxBlock)
	}
}

func TestRoomRefusesWhenFull(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})
	for _, day := range models.Weekdays {
		for b := 1; b <= models.MaxBlock; b++ {
			room.grid[day][b-1] = &models.Assignment{SubjectName: "x"}
		}
	}

	room.handleCFP(cfpEnvelope(t, "K101", validCFP()))

	reply, ok := profInbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.Refuse, reply.Performative)
}

func TestRoomDropsMalformedCFP(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})

	env := bus.NewEnvelope(bus.CFP, "Ana Soto", "K101")
	env.Body = []byte(`{"nombre":`)
	room.handleCFP(env)

	_, ok := profInbox.Receive(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
}

func TestRoomDropsInvalidCFP(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})

	cfp := validCFP()
	cfp.PendingBlocks = 0
	room.handleCFP(cfpEnvelope(t, "K101", cfp))

	_, ok := profInbox.Receive(context.Background(), 50*time.Millisecond)
	assert.False(t, ok)
}

func TestRoomConfirmsOnlyVerifiedRequests(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})
	room.grid[models.Monday][2] = &models.Assignment{SubjectName: "Fisica"}

	batch := dto.BatchAssignmentRequest{Requests: []dto.AssignmentRequest{
		{Day: "MONDAY", Block: 1, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "K101", Vacancy: 25},
		{Day: "MONDAY", Block: 2, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "K101", Vacancy: 25},
		// Slot already taken.
		{Day: "MONDAY", Block: 3, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "K101", Vacancy: 25},
		// Wrong room code.
		{Day: "MONDAY", Block: 4, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "P201", Vacancy: 25},
	}}
	room.handleAccept(acceptEnvelope(t, "K101", batch))

	reply, ok := profInbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.Inform, reply.Performative)

	var confirmation dto.BatchAssignmentConfirmation
	require.NoError(t, reply.Decode(&confirmation))
	require.Len(t, confirmation.Confirmed, 2)
	assert.Equal(t, 1, confirmation.Confirmed[0].Block)
	assert.Equal(t, 2, confirmation.Confirmed[1].Block)

	assert.NotNil(t, room.grid[models.Monday][0])
	assert.NotNil(t, room.grid[models.Monday][1])
	assert.Nil(t, room.grid[models.Monday][3])
}

func TestRoomRejectsDoubleBooking(t *testing.T) {
	room, _, profInbox := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})

	batch := dto.BatchAssignmentRequest{Requests: []dto.AssignmentRequest{
		{Day: "TUESDAY", Block: 5, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "K101", Vacancy: 25},
	}}
	room.handleAccept(acceptEnvelope(t, "K101", batch))

	reply, ok := profInbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	var first dto.BatchAssignmentConfirmation
	require.NoError(t, reply.Decode(&first))
	require.Len(t, first.Confirmed, 1)

	// The same slot again, as if a second professor raced us to it.
	room.handleAccept(acceptEnvelope(t, "K101", batch))

	reply, ok = profInbox.Receive(context.Background(), time.Second)
	require.True(t, ok)
	var second dto.BatchAssignmentConfirmation
	require.NoError(t, reply.Decode(&second))
	assert.Empty(t, second.Confirmed)
}

func TestRoomSnapshot(t *testing.T) {
	room, _, _ := newTestRoom(t, models.Room{Code: "K101", Campus: "K", Capacity: 30})

	batch := dto.BatchAssignmentRequest{Requests: []dto.AssignmentRequest{
		{Day: "TUESDAY", Block: 3, SubjectName: "Calculo I", Satisfaction: 8, ClassroomCode: "K101", Vacancy: 25},
		{Day: "MONDAY", Block: 1, SubjectName: "Calculo I", Satisfaction: 9, ClassroomCode: "K101", Vacancy: 25},
	}}
	room.handleAccept(acceptEnvelope(t, "K101", batch))

	snap := room.Snapshot()
	assert.Equal(t, "K101", snap.Code)
	assert.Equal(t, "K", snap.Campus)
	require.Len(t, snap.Subjects, 2)
	// Grid order: Monday before Tuesday.
	assert.Equal(t, "MONDAY", snap.Subjects[0].Day)
	assert.Equal(t, 1, snap.Subjects[0].Block)
	assert.Equal(t, 25, snap.Subjects[0].Capacity)
	assert.Equal(t, "TUESDAY", snap.Subjects[1].Day)
}

func TestRoomRunAnswersOverBus(t *testing.T) {
	b := bus.New(nil, nil)
	dir := directory.New(time.Minute, 0, nil, nil)
	room := NewRoom(models.Room{Code: "K101", Campus: "K", Capacity: 30}, b, dir, nil, 16, nil, nil)
	profInbox := b.Register("Ana Soto", 16)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- room.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(dir.Search(directory.Query{ServiceType: directory.ServiceClassroom})) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, b.Send(cfpEnvelope(t, "K101", validCFP())))

	reply, ok := profInbox.Receive(ctx, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, bus.Propose, reply.Performative)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("room did not stop")
	}
	assert.Empty(t, dir.Search(directory.Query{ServiceType: directory.ServiceClassroom}))
}
