package evaluator

import (
	"sort"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

// View is an immutable snapshot of the professor state the evaluator scores
// against. Professors build one per evaluation round and extend a scratch
// copy while assembling commit batches.
type View struct {
	PartTime bool
	// Pending is bloques_pendientes for the current subject.
	Pending int
	// Required is the current subject's full block demand.
	Required int
	// CampusAt maps each occupied (day, block) to the campus taught there.
	CampusAt map[models.Day]map[int]string
	// SubjectBlocks lists blocks of the current subject instance per day.
	SubjectBlocks map[models.Day][]int
	// DayUsage counts occupied blocks per day.
	DayUsage map[models.Day]int
	// RoomUse counts confirmed commits per room code.
	RoomUse map[string]int
	// MostUsedRoom is the room with the highest RoomUse, "" when none.
	MostUsedRoom string
	// Record is the last confirmed commit for the current subject, nil after
	// a subject change.
	Record *models.AssignationRecord
}

// NewView allocates an empty snapshot.
func NewView() View {
	return View{
		CampusAt:      make(map[models.Day]map[int]string),
		SubjectBlocks: make(map[models.Day][]int),
		DayUsage:      make(map[models.Day]int),
		RoomUse:       make(map[string]int),
	}
}

// Clone deep-copies the view so batch assembly can extend it without touching
// the round snapshot.
func (v View) Clone() View {
	out := v
	out.CampusAt = make(map[models.Day]map[int]string, len(v.CampusAt))
	for day, blocks := range v.CampusAt {
		m := make(map[int]string, len(blocks))
		for b, campus := range blocks {
			m[b] = campus
		}
		out.CampusAt[day] = m
	}
	out.SubjectBlocks = make(map[models.Day][]int, len(v.SubjectBlocks))
	for day, blocks := range v.SubjectBlocks {
		out.SubjectBlocks[day] = append([]int(nil), blocks...)
	}
	out.DayUsage = make(map[models.Day]int, len(v.DayUsage))
	for day, n := range v.DayUsage {
		out.DayUsage[day] = n
	}
	out.RoomUse = make(map[string]int, len(v.RoomUse))
	for room, n := range v.RoomUse {
		out.RoomUse[room] = n
	}
	return out
}

// Occupied reports whether (day, block) already holds a class.
func (v View) Occupied(day models.Day, block int) bool {
	blocks, ok := v.CampusAt[day]
	if !ok {
		return false
	}
	_, taken := blocks[block]
	return taken
}

// OccupiedBlocks returns the sorted occupied blocks for day.
func (v View) OccupiedBlocks(day models.Day) []int {
	blocks := v.CampusAt[day]
	out := make([]int, 0, len(blocks))
	for b := range blocks {
		out = append(out, b)
	}
	sort.Ints(out)
	return out
}

// Add records a committed block on the scratch view.
func (v *View) Add(day models.Day, block int, campus string) {
	if v.CampusAt[day] == nil {
		v.CampusAt[day] = make(map[int]string)
	}
	v.CampusAt[day][block] = campus
	v.SubjectBlocks[day] = append(v.SubjectBlocks[day], block)
	sort.Ints(v.SubjectBlocks[day])
	v.DayUsage[day]++
	v.Pending--
}
