package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory(ttl, evict time.Duration) *Directory {
	return New(ttl, evict, nil, nil)
}

func professorCaps(order string) []Capability {
	return []Capability{{
		ServiceType: ServiceProfessor,
		Properties:  map[string]string{PropOrder: order},
	}}
}

func classroomCaps(campus, capacity string) []Capability {
	return []Capability{{
		ServiceType: ServiceClassroom,
		Properties:  map[string]string{"campus": campus, "capacity": capacity},
	}}
}

func TestRegisterAndSearchByService(t *testing.T) {
	d := testDirectory(time.Minute, 0)

	require.NoError(t, d.Register("Ana Soto", professorCaps("0")))
	require.NoError(t, d.Register("Luis Rojas", professorCaps("1")))
	require.NoError(t, d.Register("K101", classroomCaps("K", "30")))

	profs := d.Search(Query{ServiceType: ServiceProfessor})
	assert.Len(t, profs, 2)

	rooms := d.Search(Query{ServiceType: ServiceClassroom})
	require.Len(t, rooms, 1)
	assert.Equal(t, "K101", rooms[0].Address)
	assert.Equal(t, "K", rooms[0].Capabilities[0].Properties["campus"])
}

func TestRegisterRequiresAddress(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	assert.Error(t, d.Register("", professorCaps("0")))
}

func TestSearchByProperty(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	require.NoError(t, d.Register("Ana Soto", professorCaps("0")))
	require.NoError(t, d.Register("Luis Rojas", professorCaps("1")))

	got := d.Search(Query{ServiceType: ServiceProfessor, Properties: map[string]string{PropOrder: "1"}})
	require.Len(t, got, 1)
	assert.Equal(t, "Luis Rojas", got[0].Address)

	none := d.Search(Query{ServiceType: ServiceProfessor, Properties: map[string]string{PropOrder: "7"}})
	assert.Empty(t, none)
}

func TestFindProfessorByOrder(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	require.NoError(t, d.Register("Ana Soto", professorCaps("0")))

	entry, ok := d.FindProfessorByOrder(0)
	require.True(t, ok)
	assert.Equal(t, "Ana Soto", entry.Address)

	_, ok = d.FindProfessorByOrder(1)
	assert.False(t, ok)
}

func TestReRegisterReplacesCapabilities(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	require.NoError(t, d.Register("K101", classroomCaps("K", "30")))
	require.NoError(t, d.Register("K101", classroomCaps("K", "45")))

	rooms := d.Search(Query{ServiceType: ServiceClassroom})
	require.Len(t, rooms, 1)
	assert.Equal(t, "45", rooms[0].Capabilities[0].Properties["capacity"])
}

func TestDeregister(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	require.NoError(t, d.Register("K101", classroomCaps("K", "30")))
	require.NoError(t, d.Deregister("K101"))

	assert.Empty(t, d.Search(Query{ServiceType: ServiceClassroom}))
	assert.Error(t, d.Deregister("K101"))
}

func TestEntriesExpireWithoutHeartbeat(t *testing.T) {
	d := testDirectory(40*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, d.Register("Ana Soto", professorCaps("0")))

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, d.Search(Query{ServiceType: ServiceProfessor}))
	_, ok := d.FindProfessorByOrder(0)
	assert.False(t, ok)
}

func TestHeartbeatKeepsEntryAlive(t *testing.T) {
	d := testDirectory(60*time.Millisecond, 10*time.Millisecond)
	require.NoError(t, d.Register("Ana Soto", professorCaps("0")))

	for i := 0; i < 8; i++ {
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, d.Heartbeat("Ana Soto"))
	}
	_, ok := d.FindProfessorByOrder(0)
	assert.True(t, ok)

	assert.Error(t, d.Heartbeat("nobody"))
}

func TestSearchReturnsCopies(t *testing.T) {
	d := testDirectory(time.Minute, 0)
	require.NoError(t, d.Register("K101", classroomCaps("K", "30")))

	got := d.Search(Query{ServiceType: ServiceClassroom})
	require.Len(t, got, 1)
	got[0].Capabilities[0].Properties["campus"] = "P"

	again := d.Search(Query{ServiceType: ServiceClassroom})
	require.Len(t, again, 1)
	assert.Equal(t, "K", again[0].Capabilities[0].Properties["campus"])
}
