package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/sma-timetable-agents/internal/agent"
	"github.com/noah-isme/sma-timetable-agents/internal/bus"
	"github.com/noah-isme/sma-timetable-agents/internal/directory"
	"github.com/noah-isme/sma-timetable-agents/internal/dto"
	"github.com/noah-isme/sma-timetable-agents/internal/evaluator"
	"github.com/noah-isme/sma-timetable-agents/internal/loader"
	"github.com/noah-isme/sma-timetable-agents/internal/store"
	"github.com/noah-isme/sma-timetable-agents/internal/telemetry"
	"github.com/noah-isme/sma-timetable-agents/pkg/config"
	"github.com/noah-isme/sma-timetable-agents/pkg/jobs"
	"github.com/noah-isme/sma-timetable-agents/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics()
	if cfg.Metrics.Enabled {
		go func() {
			addr := fmt.Sprintf(":%d", cfg.Metrics.Port)
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			logr.Sugar().Infow("metrics listener starting", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				logr.Sugar().Warnw("metrics listener stopped", "error", err)
			}
		}()
	}

	professors, err := loader.LoadProfessors(cfg.Input.Professors)
	if err != nil {
		logr.Sugar().Fatalw("failed to load professors", "error", err)
	}
	rooms, err := loader.LoadRooms(cfg.Input.Classrooms)
	if err != nil {
		logr.Sugar().Fatalw("failed to load rooms", "error", err)
	}
	logr.Sugar().Infow("inputs loaded", "professors", len(professors), "rooms", len(rooms))

	b := bus.New(logr, metrics)
	dir := directory.New(cfg.Directory.TTL, cfg.Directory.EvictInterval, logr, metrics)

	storeOpts := store.Options{
		OutputDir:      cfg.Store.OutputDir,
		FlushThreshold: cfg.Store.FlushThreshold,
		WriteRetries:   cfg.Store.WriteRetries,
		RetryDelay:     cfg.Store.RetryDelay,
	}
	profStore := store.NewProfessorStore(storeOpts, logr, metrics)
	roomStore := store.NewRoomStore(storeOpts, logr, metrics)

	snapshots := jobs.NewQueue("room-snapshots", func(_ context.Context, job jobs.Job) error {
		entry, ok := job.Payload.(dto.RoomScheduleEntry)
		if !ok {
			return fmt.Errorf("unexpected payload %T", job.Payload)
		}
		roomStore.Upsert(entry.Code, entry)
		return nil
	}, jobs.QueueConfig{Workers: 2, Logger: logr})
	snapshots.Start(ctx)
	defer snapshots.Stop()

	filter := evaluator.NewFilter()
	supervisor := agent.NewSupervisor(b, dir, profStore, roomStore, cfg.Negotiation.InboxBuffer, logr)

	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(runCtx) })

	for _, row := range rooms {
		room := agent.NewRoom(row.Model(), b, dir, snapshots, cfg.Negotiation.InboxBuffer, logr, metrics)
		g.Go(func() error { return room.Run(runCtx) })
	}
	for order, row := range professors {
		prof := agent.NewProfessor(row.Name, order, row.PartTime, row.ModelSubjects(),
			b, dir, filter, profStore, cfg.Negotiation, logr, metrics)
		g.Go(func() error { return prof.Run(runCtx) })
	}

	// Bootstrap: hand the first turn token to order 0 once it is registered.
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			first, ok := dir.FindProfessorByOrder(0)
			if !ok {
				continue
			}
			env := bus.NewEnvelope(bus.Inform, "bootstrap", first.Address)
			env.Protocol = bus.ProtocolSystemControl
			env.Ontology = bus.OntologyAgentStatus
			env.ConversationID = bus.ConversationNegotiationStartBase
			env = env.WithMeta(bus.MetaNextOrder, strconv.Itoa(0))
			env.Body = []byte(`"START"`)
			if err := b.Send(env); err != nil {
				logr.Sugar().Warnw("bootstrap not delivered", "error", err)
				continue
			}
			logr.Sugar().Infow("negotiation bootstrapped", "first", first.Address)
			return
		}
	}()

	select {
	case <-supervisor.Done():
		logr.Info("completion event received")
	case <-ctx.Done():
		logr.Info("interrupted, shutting down")
	}
	stop()

	if err := g.Wait(); err != nil {
		logr.Sugar().Warnw("agents finished with errors", "error", err)
	}

	snapshot := metrics.Snapshot()
	logr.Sugar().Infow("run finished",
		"messages_sent", snapshot.MessagesSent,
		"messages_dropped", snapshot.MessagesDropped,
		"assignments", snapshot.AssignmentsCommitted)
}
