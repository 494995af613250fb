package evaluator

import (
	"math"

	gocache "github.com/patrickmn/go-cache"

	"github.com/noah-isme/sma-timetable-agents/internal/models"
)

// Filter pre-screens (subject, room) pairs before any CFP is sent. Verdicts
// are cached without eviction; the key space is bounded by subject x room
// cardinality.
type Filter struct {
	cache *gocache.Cache
}

// NewFilter builds an empty filter.
func NewFilter() *Filter {
	return &Filter{cache: gocache.New(gocache.NoExpiration, 0)}
}

// Allow reports whether the pair is worth a CFP. Rejections here are the
// obvious ones; the constraint evaluator makes the final call.
func (f *Filter) Allow(sub models.Subject, room models.Room) bool {
	key := sub.Code + "|" + room.Code
	if cached, ok := f.cache.Get(key); ok {
		return cached.(bool)
	}
	verdict := quickVerdict(sub, room)
	f.cache.SetDefault(key, verdict)
	return verdict
}

func quickVerdict(sub models.Subject, room models.Room) bool {
	if sub.Campus != room.Campus {
		return false
	}
	if sub.NeedsMeetingRoom() != room.IsMeetingRoom() {
		return false
	}
	if room.IsMeetingRoom() {
		return room.Capacity >= int(math.Ceil(float64(sub.Enrollment)*0.8))
	}
	return room.Capacity >= sub.Enrollment
}
