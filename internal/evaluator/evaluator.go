package evaluator

import (
	"sort"

	"github.com/samber/lo"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

// RoomInfo is the slice of room state a proposal carries.
type RoomInfo struct {
	Code     string
	Campus   string
	Capacity int
}

// Proposal is one decoded PROPOSE reply, scored then discarded.
type Proposal struct {
	Room           RoomInfo
	Blocks         map[models.Day][]int
	ConversationID string
	Responder      string
	Score          int
	Satisfaction   int
}

// Evaluate applies the hard constraints and, when the proposal survives,
// scores it. The returned block map holds only the blocks a commit batch may
// use; an empty map means the proposal is invalid.
func Evaluate(sub models.Subject, p Proposal, v View) (usable map[models.Day][]int, score int, valid bool) {
	if !roomSuitable(sub, p.Room) {
		return nil, 0, false
	}

	usable = make(map[models.Day][]int)
	for day, blocks := range p.Blocks {
		kept := lo.Filter(blocks, func(block int, _ int) bool {
			return BlockAllowed(sub, p.Room, day, block, v)
		})
		if len(kept) > 0 {
			sort.Ints(kept)
			usable[day] = kept
		}
	}
	if len(usable) == 0 {
		return nil, 0, false
	}

	score = scoreProposal(sub, p.Room, usable, v)
	if score < 1 {
		score = 1
	}
	return usable, score, true
}

// roomSuitable is the meeting-room pairing rule with the evaluator's looser
// capacity bound: oversize is tolerated up to 4x enrollment.
func roomSuitable(sub models.Subject, room RoomInfo) bool {
	meeting := room.Capacity < models.MeetingRoomThreshold
	if sub.NeedsMeetingRoom() != meeting {
		return false
	}
	if room.Capacity < sub.Enrollment {
		return false
	}
	return room.Capacity <= sub.Enrollment*4
}

// BlockAllowed runs every per-block hard constraint against the view.
func BlockAllowed(sub models.Subject, room RoomInfo, day models.Day, block int, v View) bool {
	if block < 1 || block > models.MaxBlock {
		return false
	}
	if v.Occupied(day, block) {
		return false
	}

	// Block 9 pairs badly: it is only reachable with an odd remainder.
	if block == models.MaxBlock && v.Pending%2 == 0 {
		return false
	}

	// Per-day cap on the same subject instance.
	if len(v.SubjectBlocks[day]) >= models.MaxSubjectBlocksPerDay {
		return false
	}

	if !continuityAllowed(sub, day, block, v) {
		return false
	}

	if !v.PartTime && !gapAllowed(day, block, v) {
		return false
	}

	if !campusTransitionAllowed(day, block, room.Campus, v) {
		return false
	}

	// Level parity is soft when the placement itself is excellent.
	if !PreferredBlock(sub.Level, block) {
		if Satisfaction(sub, room, day, block, v) < 8 {
			return false
		}
	}

	return true
}

// continuityAllowed rejects a third consecutive block of the same subject
// unless the activity is WORKSHOP or LAB.
func continuityAllowed(sub models.Subject, day models.Day, block int, v View) bool {
	if sub.Activity == models.ActivityWorkshop || sub.Activity == models.ActivityLab {
		return true
	}
	has := func(b int) bool {
		return lo.Contains(v.SubjectBlocks[day], b)
	}
	if has(block-2) && has(block-1) {
		return false
	}
	if has(block-1) && has(block+1) {
		return false
	}
	if has(block+1) && has(block+2) {
		return false
	}
	return true
}

// gapAllowed enforces the full-time idle rule: across a day's blocks the
// total gap length may not exceed 1.
func gapAllowed(day models.Day, block int, v View) bool {
	blocks := v.OccupiedBlocks(day)
	blocks = append(blocks, block)
	sort.Ints(blocks)

	gap := 0
	for i := 1; i < len(blocks); i++ {
		gap += blocks[i] - blocks[i-1] - 1
	}
	return gap <= 1
}

// campusTransitionAllowed allows at most one campus change within a day, and
// only with a free buffer block between the differing campuses.
func campusTransitionAllowed(day models.Day, block int, campus string, v View) bool {
	type cell struct {
		block  int
		campus string
	}
	cells := []cell{{block: block, campus: campus}}
	for b, c := range v.CampusAt[day] {
		cells = append(cells, cell{block: b, campus: c})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].block < cells[j].block })

	changes := 0
	for i := 1; i < len(cells); i++ {
		if cells[i].campus == cells[i-1].campus {
			continue
		}
		changes++
		if changes > 1 {
			return false
		}
		if cells[i].block-cells[i-1].block < 2 {
			return false
		}
	}
	return true
}

// Scoring weights from the satisfaction model.
const (
	campusMatchBonus      = 10000
	timePreferenceBonus   = 3000
	compactBonus          = 5000
	spreadPenalty         = 8000
	capacityMismatchUnit  = 100
	meetingRoomBonus      = 15000
	meetingRoomSnugBonus  = 5000
	oversizeUnit          = 500
	dayLoadedUnit         = 6000
	freshDayBonus         = 8000
	roomConsistencyBonus  = 7000
	campusLetterPenalty   = 10000
	neighborCampusPenalty = 8000
	roomReusePenalty      = 1500
	busyDayPenalty        = 6000
)

func scoreProposal(sub models.Subject, room RoomInfo, usable map[models.Day][]int, v View) int {
	score := 0

	if room.Campus == sub.Campus {
		score += campusMatchBonus
	} else {
		score -= campusMatchBonus
	}

	bestSatisfaction := 1
	for day, blocks := range usable {
		existing := v.OccupiedBlocks(day)

		for _, block := range blocks {
			if PreferredBlock(sub.Level, block) {
				score += timePreferenceBonus
			}

			if !v.PartTime && len(existing) > 0 {
				nearest := models.MaxBlock
				for _, b := range existing {
					if d := abs(b - block); d < nearest {
						nearest = d
					}
				}
				if nearest <= 2 {
					score += compactBonus
				} else {
					score -= spreadPenalty
				}
			}

			for _, neighbor := range []int{block - 1, block + 1} {
				if c, ok := v.CampusAt[day][neighbor]; ok && c != room.Campus {
					score -= neighborCampusPenalty
				}
			}

			if sat := Satisfaction(sub, room, day, block, v); sat > bestSatisfaction {
				bestSatisfaction = sat
			}
		}

		if usage := v.DayUsage[day]; usage > 0 {
			score -= dayLoadedUnit * usage
			if usage >= 2 {
				score -= busyDayPenalty
			}
		} else {
			score += freshDayBonus
		}
	}

	score += bestSatisfaction * 10

	score -= capacityMismatchUnit * abs(room.Capacity-sub.Enrollment)

	if sub.NeedsMeetingRoom() {
		if room.Capacity < models.MeetingRoomThreshold {
			score += meetingRoomBonus
			if abs(room.Capacity-sub.Enrollment) <= 2 {
				score += meetingRoomSnugBonus
			}
		} else {
			score -= oversizeUnit * (room.Capacity - sub.Enrollment)
		}
	}

	if v.MostUsedRoom != "" && room.Code == v.MostUsedRoom {
		score += roomConsistencyBonus
	}

	if len(room.Code) > 0 && len(sub.Campus) > 0 && room.Code[0] != sub.Campus[0] {
		score -= campusLetterPenalty
	}

	score -= roomReusePenalty * v.RoomUse[room.Code]

	return score
}
