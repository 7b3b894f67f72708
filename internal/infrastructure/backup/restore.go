package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"
	"meshpad/pkg/backup"

	"go.uber.org/zap"
)

// RestoreService rebuilds room state from a stored snapshot. Restored
// participants carry no presence heartbeats, so rooms whose peers never
// reconnect age out through the normal stale sweep.
type RestoreService struct {
	snapshots *backup.Service
	rooms     ports.RoomRepository
	logger    *zap.SugaredLogger
}

func NewRestoreService(snapshots *backup.Service, rooms ports.RoomRepository, logger *zap.SugaredLogger) *RestoreService {
	return &RestoreService{
		snapshots: snapshots,
		rooms:     rooms,
		logger:    logger,
	}
}

type RestoreOptions struct {
	// OverwriteExisting replaces rooms that already exist under the
	// same session id. Without it, existing rooms are skipped.
	OverwriteExisting bool
}

// RestoreFromSnapshot loads the named snapshot and writes its rooms
// back through the repository. It returns how many rooms were written.
func (rs *RestoreService) RestoreFromSnapshot(ctx context.Context, name string, options RestoreOptions) (int, error) {
	rs.logger.Infow("starting restore", "name", name, "overwrite", options.OverwriteExisting)

	snap, err := rs.snapshots.Load(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("failed to load snapshot: %w", err)
	}
	if snap.Version == "" {
		return 0, fmt.Errorf("invalid snapshot %q: missing version", name)
	}

	restored := 0
	for sessionID, roomData := range snap.Rooms {
		room, err := decodeRoom(roomData)
		if err != nil {
			return restored, fmt.Errorf("failed to decode room %q: %w", sessionID, err)
		}

		existing, err := rs.rooms.GetByID(ctx, room.SessionID)
		switch {
		case err == nil && existing != nil:
			if !options.OverwriteExisting {
				rs.logger.Debugw("skipping existing room", "session_id", room.SessionID)
				continue
			}
			if err := rs.rooms.Update(ctx, room); err != nil {
				return restored, fmt.Errorf("failed to update room %q: %w", sessionID, err)
			}
		case errors.Is(err, domain.ErrRoomNotFound):
			if err := rs.rooms.Create(ctx, room); err != nil {
				return restored, fmt.Errorf("failed to create room %q: %w", sessionID, err)
			}
		default:
			return restored, fmt.Errorf("failed to check room %q: %w", sessionID, err)
		}

		restored++
		rs.logger.Debugw("restored room", "session_id", room.SessionID)
	}

	rs.logger.Infow("restore completed", "name", name, "rooms", restored)
	return restored, nil
}

// decodeRoom goes back through JSON because snapshot rooms are untyped
// maps once loaded.
func decodeRoom(data interface{}) (*domain.Room, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	var room domain.Room
	if err := json.Unmarshal(raw, &room); err != nil {
		return nil, err
	}
	if room.SessionID == "" {
		return nil, fmt.Errorf("room record has no session id")
	}
	return &room, nil
}

// FindSnapshotByTime returns the most recent snapshot captured at or
// before the target time.
func (rs *RestoreService) FindSnapshotByTime(ctx context.Context, target time.Time) (string, error) {
	names, err := rs.snapshots.List(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list snapshots: %w", err)
	}

	var (
		best     string
		bestTime time.Time
		found    bool
	)
	for _, name := range names {
		ts, err := backup.ParseTimestamp(name)
		if err != nil {
			continue
		}
		if ts.After(target) {
			continue
		}
		if !found || ts.After(bestTime) {
			best = name
			bestTime = ts
			found = true
		}
	}

	if !found {
		return "", fmt.Errorf("no snapshot at or before %v", target)
	}
	return best, nil
}
