package models

import "strconv"

// Day identifies one of the five teaching days.
type Day string

const (
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
)

// Weekdays lists the teaching days in grid order.
var Weekdays = []Day{Monday, Tuesday, Wednesday, Thursday, Friday}

// ParseDay validates a wire day name.
func ParseDay(raw string) (Day, bool) {
	for _, d := range Weekdays {
		if string(d) == raw {
			return d, true
		}
	}
	return "", false
}

// Activity classifies how a subject is taught.
type Activity string

const (
	ActivityTheory   Activity = "THEORY"
	ActivityLab      Activity = "LAB"
	ActivityPractice Activity = "PRACTICE"
	ActivityWorkshop Activity = "WORKSHOP"
	ActivityTutoring Activity = "TUTORING"
	ActivityAide     Activity = "AIDE"
)

const (
	// MaxBlock is the last of the nine numbered daily time slots.
	MaxBlock = 9
	// MeetingRoomThreshold separates meeting rooms from regular classrooms.
	MeetingRoomThreshold = 10
	// MaxSubjectBlocksPerDay caps blocks of one subject instance in a day.
	MaxSubjectBlocksPerDay = 2
)

// Subject describes a teaching obligation of a professor. Immutable after
// load.
type Subject struct {
	Name       string
	Code       string
	Level      int
	Parallel   string
	Hours      int
	Enrollment int
	Campus     string
	Activity   Activity
}

// NeedsMeetingRoom reports whether the class is small enough to belong in a
// meeting room.
func (s Subject) NeedsMeetingRoom() bool {
	return s.Enrollment < MeetingRoomThreshold
}

// InstanceKey distinguishes repeated instances of the same subject code in a
// professor's load.
func (s Subject) InstanceKey(instance int) string {
	return s.Code + "-" + s.Parallel + "-" + strconv.Itoa(instance)
}

// Room describes a classroom owned by a room agent.
type Room struct {
	Code     string
	Campus   string
	Capacity int
	Shift    int
}

// IsMeetingRoom reports whether the room counts as a meeting room.
func (r Room) IsMeetingRoom() bool {
	return r.Capacity < MeetingRoomThreshold
}

// Assignment occupies one (day, block) cell of a room grid. Written at most
// once per slot.
type Assignment struct {
	SubjectName  string
	Satisfaction int
	Occupancy    float64
}

// AssignationRecord remembers the professor's last confirmed commit for the
// current subject. Cleared when the professor moves to the next subject.
type AssignationRecord struct {
	Day   Day
	Block int
	Room  string
}

// ProfessorAssignment is one confirmed block in a professor's final schedule.
type ProfessorAssignment struct {
	SubjectName  string
	SubjectCode  string
	Instance     int
	Activity     Activity
	Room         string
	Day          Day
	Block        int
	Satisfaction int
}
