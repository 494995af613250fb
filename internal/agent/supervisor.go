package agent

import (
	"context"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-agents/internal/bus"
	"github.com/noah-isme/sma-timetable-agents/internal/directory"
	"github.com/noah-isme/sma-timetable-agents/internal/store"
)

// SupervisorAddress is the bus address the last professor reports to.
const SupervisorAddress = "supervisor"

// Supervisor watches for the end-of-run signal, writes the final reports and
// fires the process-wide completion event.
type Supervisor struct {
	b      *bus.Bus
	inbox  *bus.Inbox
	dir    *directory.Directory
	profs  *store.ProfessorStore
	rooms  *store.RoomStore
	logger *zap.Logger
	done   chan struct{}
}

// NewSupervisor wires the supervisor and registers its inbox.
func NewSupervisor(b *bus.Bus, dir *directory.Directory, profs *store.ProfessorStore, rooms *store.RoomStore, inboxBuffer int, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{
		b:      b,
		inbox:  b.Register(SupervisorAddress, inboxBuffer),
		dir:    dir,
		profs:  profs,
		rooms:  rooms,
		logger: logger.Named("supervisor"),
		done:   make(chan struct{}),
	}
}

// Done is closed once the final reports are on disk.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Run blocks until a system-control INFORM/CANCEL arrives or the context is
// cancelled; either way the stores are flushed before returning.
func (s *Supervisor) Run(ctx context.Context) error {
	err := s.dir.Register(SupervisorAddress, []directory.Capability{{
		ServiceType: directory.ServiceMonitor,
		Properties:  map[string]string{},
	}})
	if err != nil {
		return err
	}
	s.logger.Info("supervisor online")

	for {
		env, ok := s.inbox.Receive(ctx, time.Second)
		if !ok {
			if ctx.Err() != nil {
				s.logger.Info("context cancelled, forcing shutdown flow")
				return s.shutdown()
			}
			_ = s.dir.Heartbeat(SupervisorAddress)
			continue
		}
		if env.Ontology != bus.OntologySystemControl {
			continue
		}
		if env.Performative != bus.Inform && env.Performative != bus.Cancel {
			continue
		}
		s.logger.Info("end-of-run signal received", zap.String("from", env.Sender))
		return s.shutdown()
	}
}

func (s *Supervisor) shutdown() error {
	err := multierr.Combine(
		s.profs.GenerateFinalReport(),
		s.rooms.GenerateFinalReport(),
		s.profs.ForceFlush(),
		s.rooms.ForceFlush(),
		s.dir.Deregister(SupervisorAddress),
	)
	s.b.Unregister(SupervisorAddress)
	if err != nil {
		s.logger.Warn("shutdown finished with errors", zap.Error(err))
	}
	close(s.done)
	s.logger.Info("run complete")
	return nil
}
