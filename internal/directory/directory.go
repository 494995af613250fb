package directory

import (
	"strconv"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
	apperrors "github.com/noah-isme/sma-timetable-agents/pkg/errors"
)

// Service types published by the agents.
const (
	ServiceProfessor = "professor"
	ServiceClassroom = "classroom"
	ServiceMonitor   = "monitor"
)

// PropOrder is the capability property carrying a professor's turn order.
const PropOrder = "order"

// Capability describes one service an agent offers.
type Capability struct {
	ServiceType string
	Properties  map[string]string
	UpdatedAt   time.Time
}

// Entry is one registration. Search returns copies, never live views.
type Entry struct {
	Address       string
	Capabilities  []Capability
	LastHeartbeat time.Time
}

// Query filters Search results. Zero values match everything; property
// filtering is exact-match.
type Query struct {
	ServiceType string
	Properties  map[string]string
}

// Directory is the in-process agent registry. Entries are evicted after TTL
// without a heartbeat; a service-type index answers typed searches in
// O(matches).
type Directory struct {
	entries *gocache.Cache

	mu      sync.Mutex
	index   map[string]mapset.Set
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// New builds a directory with the given TTL and eviction sweep interval.
func New(ttl, evictInterval time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Directory{
		entries: gocache.New(ttl, evictInterval),
		index:   make(map[string]mapset.Set),
		logger:  logger.Named("directory"),
		metrics: metrics,
	}
	d.entries.OnEvicted(func(addr string, value interface{}) {
		entry, ok := value.(Entry)
		if !ok {
			return
		}
		d.dropFromIndex(entry)
		d.logger.Info("entry evicted", zap.String("address", addr))
		d.metrics.SetRegisteredAgents(d.entries.ItemCount())
	})
	return d
}

// Register stores the entry, replacing capabilities atomically on
// re-registration.
func (d *Directory) Register(addr string, capabilities []Capability) error {
	if addr == "" {
		return apperrors.Clone(apperrors.ErrValidation, "register requires an address")
	}

	now := time.Now().UTC()
	for i := range capabilities {
		capabilities[i].UpdatedAt = now
	}
	entry := Entry{Address: addr, Capabilities: capabilities, LastHeartbeat: now}

	if prev, ok := d.entries.Get(addr); ok {
		if prevEntry, okCast := prev.(Entry); okCast {
			d.dropFromIndex(prevEntry)
		}
	}
	d.entries.SetDefault(addr, entry)
	d.addToIndex(entry)
	d.metrics.SetRegisteredAgents(d.entries.ItemCount())
	return nil
}

// Deregister removes the entry for addr.
func (d *Directory) Deregister(addr string) error {
	value, ok := d.entries.Get(addr)
	if !ok {
		return apperrors.Clone(apperrors.ErrNotRegistered, "deregister "+addr)
	}
	if entry, okCast := value.(Entry); okCast {
		d.dropFromIndex(entry)
	}
	d.entries.Delete(addr)
	d.metrics.SetRegisteredAgents(d.entries.ItemCount())
	return nil
}

// Heartbeat refreshes the TTL for addr.
func (d *Directory) Heartbeat(addr string) error {
	value, ok := d.entries.Get(addr)
	if !ok {
		return apperrors.Clone(apperrors.ErrNotRegistered, "heartbeat "+addr)
	}
	entry := value.(Entry)
	entry.LastHeartbeat = time.Now().UTC()
	d.entries.SetDefault(addr, entry)
	return nil
}

// Search returns a snapshot of the entries matching q.
func (d *Directory) Search(q Query) []Entry {
	var addrs []string
	if q.ServiceType != "" {
		d.mu.Lock()
		set, ok := d.index[q.ServiceType]
		if ok {
			for _, v := range set.ToSlice() {
				addrs = append(addrs, v.(string))
			}
		}
		d.mu.Unlock()
	} else {
		for addr := range d.entries.Items() {
			addrs = append(addrs, addr)
		}
	}

	results := make([]Entry, 0, len(addrs))
	for _, addr := range addrs {
		value, ok := d.entries.Get(addr)
		if !ok {
			continue
		}
		entry := value.(Entry)
		if !matches(entry, q) {
			continue
		}
		results = append(results, copyEntry(entry))
	}
	return results
}

// FindProfessorByOrder locates the professor holding turn order k.
func (d *Directory) FindProfessorByOrder(k int) (Entry, bool) {
	entries := d.Search(Query{
		ServiceType: ServiceProfessor,
		Properties:  map[string]string{PropOrder: strconv.Itoa(k)},
	})
	if len(entries) == 0 {
		return Entry{}, false
	}
	return entries[0], true
}

func (d *Directory) addToIndex(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range entry.Capabilities {
		set, ok := d.index[c.ServiceType]
		if !ok {
			set = mapset.NewSet()
			d.index[c.ServiceType] = set
		}
		set.Add(entry.Address)
	}
}

func (d *Directory) dropFromIndex(entry Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range entry.Capabilities {
		if set, ok := d.index[c.ServiceType]; ok {
			set.Remove(entry.Address)
		}
	}
}

func matches(entry Entry, q Query) bool {
	for _, c := range entry.Capabilities {
		if q.ServiceType != "" && c.ServiceType != q.ServiceType {
			continue
		}
		if propsMatch(c.Properties, q.Properties) {
			return true
		}
	}
	return false
}

func propsMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func copyEntry(entry Entry) Entry {
	caps := make([]Capability, len(entry.Capabilities))
	for i, c := range entry.Capabilities {
		props := make(map[string]string, len(c.Properties))
		for k, v := range c.Properties {
			props[k] = v
		}
		caps[i] = Capability{ServiceType: c.ServiceType, Properties: props, UpdatedAt: c.UpdatedAt}
	}
	return Entry{Address: entry.Address, Capabilities: caps, LastHeartbeat: entry.LastHeartbeat}
}
