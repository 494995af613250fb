package evaluator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

func TestQuickRejectCampusMismatch(t *testing.T) {
	f := NewFilter()
	sub := models.Subject{Code: "MAT101", Enrollment: 25, Campus: "K"}
	room := models.Room{Code: "P201", Campus: "P", Capacity: 30}

	assert.False(t, f.Allow(sub, room))
}

func TestQuickRejectMeetingRoomPairing(t *testing.T) {
	f := NewFilter()
	smallClass := models.Subject{Code: "SEM01", Enrollment: 6, Campus: "K"}
	bigClass := models.Subject{Code: "MAT101", Enrollment: 40, Campus: "K"}
	meetingRoom := models.Room{Code: "K005", Campus: "K", Capacity: 8}
	lectureRoom := models.Room{Code: "K101", Campus: "K", Capacity: 45}

	assert.True(t, f.Allow(smallClass, meetingRoom))
	assert.False(t, f.Allow(smallClass, lectureRoom))
	assert.False(t, f.Allow(bigClass, meetingRoom))
	assert.True(t, f.Allow(bigClass, lectureRoom))
}

func TestQuickRejectCapacity(t *testing.T) {
	f := NewFilter()

	// Scenario: enrollment 50 against capacity 30 never reaches a CFP.
	sub := models.Subject{Code: "FIS200", Enrollment: 50, Campus: "K"}
	room := models.Room{Code: "K102", Campus: "K", Capacity: 30}
	assert.False(t, f.Allow(sub, room))

	// Meeting rooms tolerate up to 20% overflow.
	tight := models.Subject{Code: "SEM02", Enrollment: 9, Campus: "K"}
	meetingRoom := models.Room{Code: "K006", Campus: "K", Capacity: 8}
	assert.True(t, f.Allow(tight, meetingRoom))

	tooTight := models.Subject{Code: "SEM03", Enrollment: 9, Campus: "K"}
	tiny := models.Room{Code: "K007", Campus: "K", Capacity: 7}
	assert.False(t, f.Allow(tooTight, tiny))
}

func TestQuickRejectCachesVerdicts(t *testing.T) {
	f := NewFilter()
	sub := models.Subject{Code: "MAT101", Enrollment: 25, Campus: "K"}
	room := models.Room{Code: "K101", Campus: "K", Capacity: 30}

	first := f.Allow(sub, room)
	second := f.Allow(sub, room)
	assert.Equal(t, first, second)
	assert.True(t, first)
}
