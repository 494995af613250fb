package telemetry

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.ObserveSend("CFP")
	m.ObserveDrop()
	m.ObserveProposal()
	m.ObserveAcceptedProposal()
	m.ObserveAssignments(3)
	m.ObserveFlush("professors")
	m.SetRegisteredAgents(5)
	m.ObserveRound(time.Millisecond)

	assert.Equal(t, Snapshot{}, m.Snapshot())
	require.NotNil(t, m.Handler())
}

func TestSnapshotCounts(t *testing.T) {
	m := NewMetrics()

	m.ObserveSend("CFP")
	m.ObserveSend("PROPOSE")
	m.ObserveDrop()
	m.ObserveAssignments(2)
	m.ObserveAssignments(0)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.MessagesSent)
	assert.Equal(t, uint64(1), snap.MessagesDropped)
	assert.Equal(t, uint64(2), snap.AssignmentsCommitted)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.ObserveSend("CFP")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bus_messages_sent_total")
}
