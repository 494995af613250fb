package evaluator

import (
	"math"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

// Satisfaction scores one (day, block) placement 1..10 with a weighted sum:
// capacity 25%, time slot 20%, campus 20%, continuity 15%, activity 20%.
// Degenerate fits short-circuit the weighting.
func Satisfaction(sub models.Subject, room RoomInfo, day models.Day, block int, v View) int {
	if room.Capacity <= 0 {
		return 1
	}

	occupancy := float64(sub.Enrollment) / float64(room.Capacity)
	meeting := room.Capacity < models.MeetingRoomThreshold

	// Over-occupied rooms are always a bad placement.
	if occupancy > 1 {
		return 1
	}
	// A tiny class rattling around a big room.
	if !meeting && room.Capacity >= sub.Enrollment*4 {
		return 2
	}
	// Meeting rooms top out even when the fit is right.
	if meeting && sub.NeedsMeetingRoom() && abs(room.Capacity-sub.Enrollment) <= 2 {
		return 5
	}

	score := 0.25*capacityScore(occupancy) +
		0.20*timeSlotScore(sub.Level, block) +
		0.20*campusScore(sub.Campus, room.Campus) +
		0.15*continuityScore(day, block, v) +
		0.20*activityScore(sub.Activity, block, meeting)

	rounded := int(math.Round(score))
	if rounded < 1 {
		return 1
	}
	if rounded > 10 {
		return 10
	}
	return rounded
}

func capacityScore(occupancy float64) float64 {
	switch {
	case occupancy >= 0.75:
		return 10
	case occupancy >= 0.5:
		return 7
	case occupancy >= 0.25:
		return 4
	default:
		return 2
	}
}

func timeSlotScore(level, block int) float64 {
	if PreferredBlock(level, block) {
		return 10
	}
	return 3
}

func campusScore(subjectCampus, roomCampus string) float64 {
	if subjectCampus == roomCampus {
		return 10
	}
	return 0
}

func continuityScore(day models.Day, block int, v View) float64 {
	occupied := v.OccupiedBlocks(day)
	if len(occupied) == 0 {
		return 5
	}
	best := models.MaxBlock
	for _, b := range occupied {
		if d := abs(b - block); d < best {
			best = d
		}
	}
	switch {
	case best <= 1:
		return 10
	case best == 2:
		return 7
	default:
		return 2
	}
}

func activityScore(activity models.Activity, block int, meeting bool) float64 {
	switch activity {
	case models.ActivityWorkshop, models.ActivityLab:
		if block <= 6 {
			return 9
		}
		return 7
	case models.ActivityTutoring, models.ActivityAide:
		if meeting {
			return 9
		}
		return 4
	default:
		return 8
	}
}

// PreferredBlock implements the level-parity time preference: odd levels sit
// in blocks 1..4 or block 9, even levels in blocks >= 5.
func PreferredBlock(level, block int) bool {
	if level%2 == 1 {
		return block <= 4 || block == models.MaxBlock
	}
	return block >= 5
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
