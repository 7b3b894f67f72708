package backup

import (
	"context"
	"fmt"
	"time"

	"meshpad/internal/core/ports"
	"meshpad/pkg/backup"

	"go.uber.org/zap"
)

// Scheduler captures room state snapshots on an interval and prunes
// snapshots past the retention window. Presence heartbeats are not
// captured; they are liveness data and would be stale the moment a
// snapshot is read back.
type Scheduler struct {
	snapshots *backup.Service
	rooms     ports.RoomRepository
	interval  time.Duration
	retention time.Duration
	logger    *zap.SugaredLogger
	stopChan  chan struct{}
}

type Config struct {
	Interval  time.Duration
	Retention time.Duration
}

func NewScheduler(snapshots *backup.Service, rooms ports.RoomRepository, cfg Config, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		snapshots: snapshots,
		rooms:     rooms,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
}

// Start takes an immediate snapshot and then repeats on the interval
// until Stop is called or the context ends. A non-positive interval
// means the initial snapshot only.
func (s *Scheduler) Start(ctx context.Context) {
	s.run(ctx)

	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}

func (s *Scheduler) run(ctx context.Context) {
	name, err := s.RunNow(ctx)
	if err != nil {
		s.logger.Errorw("scheduled snapshot failed", "error", err)
		return
	}
	s.logger.Infow("snapshot created", "name", name)

	if err := s.prune(ctx); err != nil {
		s.logger.Warnw("snapshot retention sweep failed", "error", err)
	}
}

// RunNow captures one snapshot immediately and returns its name. Also
// serves the on-demand snapshot endpoint.
func (s *Scheduler) RunNow(ctx context.Context) (string, error) {
	snap, err := s.collect(ctx)
	if err != nil {
		return "", err
	}
	return s.snapshots.Create(ctx, snap)
}

func (s *Scheduler) collect(ctx context.Context) (*backup.Snapshot, error) {
	rooms, err := s.rooms.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}

	snap := &backup.Snapshot{
		Rooms:    make(map[string]interface{}, len(rooms)),
		Metadata: make(map[string]interface{}),
	}

	participants := 0
	for _, room := range rooms {
		snap.Rooms[string(room.SessionID)] = room
		participants += len(room.Participants)
	}

	snap.Metadata["room_count"] = len(rooms)
	snap.Metadata["participant_count"] = participants

	return snap, nil
}

// prune deletes snapshots older than the retention window. Names that
// do not parse are left alone rather than guessed at.
func (s *Scheduler) prune(ctx context.Context) error {
	if s.retention <= 0 {
		return nil
	}

	names, err := s.snapshots.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list snapshots: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.retention)
	for _, name := range names {
		ts, err := backup.ParseTimestamp(name)
		if err != nil {
			s.logger.Warnw("unparseable snapshot name", "name", name, "error", err)
			continue
		}
		if !ts.Before(cutoff) {
			continue
		}
		if err := s.snapshots.Delete(ctx, name); err != nil {
			s.logger.Warnw("failed to delete expired snapshot", "name", name, "error", err)
			continue
		}
		s.logger.Infow("expired snapshot deleted", "name", name)
	}

	return nil
}
