// Package exporter assembles export batches and drives a sync run from cursor load to commit.
package exporter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"crconsync/pkg/config"
	"crconsync/pkg/delivery"
	"crconsync/pkg/logger"
	"crconsync/pkg/metrics"
	"crconsync/pkg/model"
	"crconsync/pkg/state"
)

// Phase is the position of the current run in the sync state machine.
type Phase string

const (
	Idle       Phase = "idle"
	Extracting Phase = "extracting"
	Delivering Phase = "delivering"
	Committed  Phase = "committed"
	Failed     Phase = "failed"
)

// Outcome describes a finished run.
type Outcome struct {
	Phase    Phase
	Disabled bool
	// Delivered is false when there was nothing new and no request was made.
	Delivered bool
	Counts    model.Counts
	Cursors   state.Counters
	Err       error
}

// Service is the sync orchestrator. Runs must not overlap; RunOnce serializes callers within
// one process.
type Service struct {
	cfg       *config.AppConfig
	store     state.Store
	assembler *Assembler
	sender    delivery.Sender
	logger    *logger.Logger
	now       func() time.Time

	runMu sync.Mutex
	mu    sync.RWMutex
	phase Phase
}

// NewService creates a new sync service.
func NewService(
	cfg *config.AppConfig,
	store state.Store,
	assembler *Assembler,
	sender delivery.Sender,
	l *logger.Logger,
) *Service {
	return &Service{
		cfg:       cfg,
		store:     store,
		assembler: assembler,
		sender:    sender,
		logger:    l.Named("exporter"),
		now:       time.Now,
		phase:     Idle,
	}
}

// Phase returns the phase of the current or last run.
func (s *Service) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Service) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// RunOnce performs one sync attempt. Cursors are persisted only when the batch was delivered;
// a failed delivery records diagnostics and leaves every cursor where it was.
func (s *Service) RunOnce(ctx context.Context) Outcome {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.cfg.Sync.Enabled {
		s.logger.Info("export is disabled")
		metrics.RunsTotal.WithLabelValues("disabled").Inc()
		return Outcome{Phase: Idle, Disabled: true}
	}

	start := s.now()
	defer func() { metrics.RunDuration.Observe(s.now().Sub(start).Seconds()) }()

	s.logger.Info("starting data export", zap.String("server_id", s.cfg.Sync.ServerID))
	s.setPhase(Extracting)

	current, err := s.store.Load(ctx)
	if err != nil {
		return s.fail(Outcome{}, fmt.Errorf("load state: %w", err))
	}

	batch := s.assembler.Assemble(ctx, current)
	out := Outcome{Counts: batch.Payload.Counts(), Cursors: current.LastExportedIDs}

	if batch.Empty() {
		s.logger.Info("no new data to export", zap.Int("failed_tables", len(batch.Failed)))
		s.setPhase(Committed)
		metrics.RunsTotal.WithLabelValues("nothing_new").Inc()
		out.Phase = Committed
		return out
	}

	s.setPhase(Delivering)
	if err := s.sender.Deliver(ctx, batch.Payload); err != nil {
		s.recordFailure(ctx, current, err)
		return s.fail(out, err)
	}
	out.Delivered = true

	next := batch.Next
	now := state.At(s.now())
	next.LastExportTime = now
	next.LastSuccess = now
	next.LastError = nil
	if err := s.store.Save(ctx, next); err != nil {
		// Delivered but not committed: the next run sends the same rows again.
		return s.fail(out, fmt.Errorf("save state: %w", err))
	}

	for _, t := range state.Tables {
		metrics.CursorPosition.WithLabelValues(string(t)).Set(float64(next.LastExportedIDs.Get(t)))
	}
	metrics.LastSuccessTimestamp.Set(float64(now.Unix()))
	metrics.RunsTotal.WithLabelValues("committed").Inc()

	s.setPhase(Committed)
	s.logger.Info("export completed",
		zap.Int("records", out.Counts.Total()),
		zap.Int64("log_lines", next.LastExportedIDs.LogLines),
		zap.Int64("player_sessions", next.LastExportedIDs.PlayerSessions),
		zap.Int64("player_stats", next.LastExportedIDs.PlayerStats),
		zap.Int64("map_history", next.LastExportedIDs.MapHistory))

	out.Phase = Committed
	out.Cursors = next.LastExportedIDs
	return out
}

// recordFailure persists the loaded state with only the diagnostics changed.
func (s *Service) recordFailure(ctx context.Context, current state.CursorState, cause error) {
	diag := current.Clone()
	diag.ExportCount++
	diag.LastExportTime = state.At(s.now())
	reason := delivery.Reason(cause)
	diag.LastError = &reason

	if err := s.store.Save(ctx, diag); err != nil {
		s.logger.Error("failed to record export error", err)
	}
}

func (s *Service) fail(out Outcome, err error) Outcome {
	s.setPhase(Failed)
	metrics.RunsTotal.WithLabelValues("failed").Inc()
	s.logger.Error("export failed, will be retried next run", err)
	out.Phase = Failed
	out.Err = err
	return out
}

// Loop runs a sync immediately and then every interval until ctx is cancelled.
func (s *Service) Loop(ctx context.Context, interval time.Duration) error {
	s.logger.Info("starting export loop", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		s.logger.Info("next run scheduled", zap.Time("at", s.now().Add(interval)))

		select {
		case <-ctx.Done():
			s.logger.Info("stopping export loop")
			return nil
		case <-ticker.C:
		}
	}
}

// DatabaseInfo identifies the source database without credentials.
type DatabaseInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Name string `json:"database"`
	User string `json:"user"`
}

// Status is the introspection view of the exporter.
type Status struct {
	Enabled         bool              `json:"enabled"`
	ServerID        string            `json:"server_id"`
	BatchSize       config.BatchSizes `json:"batch_size"`
	Phase           Phase             `json:"phase"`
	LastExport      *state.Timestamp  `json:"last_export"`
	LastSuccess     *state.Timestamp  `json:"last_success"`
	LastError       *string           `json:"last_error"`
	ExportCount     int64             `json:"export_count"`
	LastExportedIDs state.Counters    `json:"last_exported_ids"`
	TotalExported   state.Counters    `json:"total_exported"`
	Database        DatabaseInfo      `json:"db_config"`
	Target          string            `json:"target"`
	StateLocation   string            `json:"state_location"`
}

// Status reads the persisted state and combines it with the configuration summary.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st, err := s.store.Load(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("load state: %w", err)
	}
	return Status{
		Enabled:         s.cfg.Sync.Enabled,
		ServerID:        s.cfg.Sync.ServerID,
		BatchSize:       s.cfg.Sync.BatchSize,
		Phase:           s.Phase(),
		LastExport:      st.LastExportTime,
		LastSuccess:     st.LastSuccess,
		LastError:       st.LastError,
		ExportCount:     st.ExportCount,
		LastExportedIDs: st.LastExportedIDs,
		TotalExported:   st.TotalExported,
		Database: DatabaseInfo{
			Host: s.cfg.Database.Host,
			Port: s.cfg.Database.Port,
			Name: s.cfg.Database.Name,
			User: s.cfg.Database.User,
		},
		Target:        s.sender.Target(),
		StateLocation: s.store.Location(),
	}, nil
}

// Reset discards the persisted state. The next run exports everything from the beginning.
func (s *Service) Reset(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.logger.Warn("export state will be reset, next export starts at id 0 for all tables",
		zap.String("location", s.store.Location()))

	removed, err := s.store.Reset(ctx)
	if err != nil {
		return fmt.Errorf("reset state: %w", err)
	}
	if removed {
		s.logger.Info("state deleted")
	} else {
		s.logger.Info("state does not exist")
	}
	s.setPhase(Idle)
	return nil
}
