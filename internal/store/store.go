package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	retry "github.com/avast/retry-go"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/dto"
	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
)

// Options tune buffering and durability for both stores.
type Options struct {
	OutputDir      string
	FlushThreshold int
	WriteRetries   int
	RetryDelay     time.Duration
}

func (o *Options) defaults() {
	if o.OutputDir == "" {
		o.OutputDir = "./output"
	}
	if o.FlushThreshold <= 0 {
		o.FlushThreshold = 20
	}
	if o.WriteRetries <= 0 {
		o.WriteRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 100 * time.Millisecond
	}
}

// fileStore coalesces snapshot upserts into an in-memory buffer and writes
// the whole buffer to a JSON file. Producers only take the short buffer lock;
// flushes serialize behind the writer lock.
type fileStore struct {
	name      string
	path      string
	threshold int
	retries   uint
	delay     time.Duration

	mu      sync.Mutex
	buffer  map[string]interface{}
	updates int

	writeMu sync.Mutex

	logger  *zap.Logger
	metrics *telemetry.Metrics
}

func newFileStore(name, filename string, opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *fileStore {
	opts.defaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileStore{
		name:      name,
		path:      filepath.Join(opts.OutputDir, filename),
		threshold: opts.FlushThreshold,
		retries:   uint(opts.WriteRetries),
		delay:     opts.RetryDelay,
		buffer:    make(map[string]interface{}),
		logger:    logger.Named("store").With(zap.String("store", name)),
		metrics:   metrics,
	}
}

// upsert stores the latest snapshot for key and triggers a background flush
// once enough updates accumulated. Producers are never blocked by a writer.
func (s *fileStore) upsert(key string, snapshot interface{}) {
	s.mu.Lock()
	s.buffer[key] = snapshot
	s.updates++
	shouldFlush := s.updates >= s.threshold
	if shouldFlush {
		s.updates = 0
	}
	s.mu.Unlock()

	if shouldFlush {
		go func() {
			if err := s.flush(); err != nil {
				s.logger.Error("threshold flush failed", zap.Error(err))
			}
		}()
	}
}

// ForceFlush writes the current buffer to the output file. Calling it twice
// in a row is identical to calling it once.
func (s *fileStore) ForceFlush() error {
	return s.flush()
}

// flush snapshots the buffer and performs the durable write with linear
// backoff. At most one writer touches the file at a time.
func (s *fileStore) flush() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	keys := make([]string, 0, len(s.buffer))
	for k := range s.buffer {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	records := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		records = append(records, s.buffer[k])
	}
	s.mu.Unlock()

	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", s.name, err)
	}

	err = retry.Do(
		func() error { return writeAtomic(s.path, raw) },
		retry.Attempts(s.retries),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			// Linear backoff: delay, 2*delay, 3*delay.
			return time.Duration(n+1) * s.delay
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		// In-memory state stays authoritative; the next flush retries.
		s.logger.Error("flush failed after retries", zap.Error(err))
		return err
	}

	s.metrics.ObserveFlush(s.name)
	s.logger.Debug("flushed", zap.Int("records", len(records)))
	return nil
}

// writeAtomic writes via a temp file and rename so readers never observe a
// torn file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("prepare output directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".flush-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// ProfessorStore persists Horarios_asignados.json keyed by professor name.
type ProfessorStore struct {
	*fileStore
}

// NewProfessorStore builds the professor-population store.
func NewProfessorStore(opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *ProfessorStore {
	return &ProfessorStore{newFileStore("professors", "Horarios_asignados.json", opts, logger, metrics)}
}

// Upsert stores the latest snapshot for the professor.
func (s *ProfessorStore) Upsert(name string, entry dto.ProfessorScheduleEntry) {
	s.upsert(name, entry)
}

// GenerateFinalReport emits the full canonical file.
func (s *ProfessorStore) GenerateFinalReport() error {
	if err := s.ForceFlush(); err != nil {
		return err
	}
	s.logger.Info("final professor report written", zap.String("path", s.path))
	return nil
}

// RoomStore persists Horarios_salas.json keyed by room code.
type RoomStore struct {
	*fileStore
}

// NewRoomStore builds the room-population store.
func NewRoomStore(opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *RoomStore {
	return &RoomStore{newFileStore("rooms", "Horarios_salas.json", opts, logger, metrics)}
}

// Upsert stores the latest snapshot for the room.
func (s *RoomStore) Upsert(code string, entry dto.RoomScheduleEntry) {
	s.upsert(code, entry)
}

// GenerateFinalReport emits the full canonical file.
func (s *RoomStore) GenerateFinalReport() error {
	if err := s.ForceFlush(); err != nil {
		return err
	}
	s.logger.Info("final room report written", zap.String("path", s.path))
	return nil
}
