package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// namePrefix and nameTimeLayout fix the snapshot naming scheme. The
// retention sweep and point-in-time lookup both parse names, so the
// scheme is part of the storage contract.
const (
	namePrefix     = "snapshot-"
	nameTimeLayout = "20060102-150405"
)

// Snapshot is one serialized capture of room state. Rooms carry their
// participants, so a snapshot alone is enough to rebuild membership.
// The maps stay untyped here; the restore layer owns the domain
// decoding.
type Snapshot struct {
	Version   string                 `json:"version"`
	Timestamp time.Time              `json:"timestamp"`
	Rooms     map[string]interface{} `json:"rooms,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Storage is a named-blob store for snapshots.
type Storage interface {
	Save(ctx context.Context, name string, data io.Reader) error
	Load(ctx context.Context, name string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, name string) error
}

// Service writes and reads snapshots against a Storage backend.
type Service struct {
	storage Storage
	version string
}

func NewService(storage Storage, version string) *Service {
	return &Service{
		storage: storage,
		version: version,
	}
}

// Create stamps the snapshot and saves it under a timestamped name,
// which is returned.
func (s *Service) Create(ctx context.Context, snap *Snapshot) (string, error) {
	snap.Version = s.version
	snap.Timestamp = time.Now().UTC()

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := namePrefix + snap.Timestamp.Format(nameTimeLayout) + ".json"
	if err := s.storage.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("failed to save snapshot: %w", err)
	}

	return name, nil
}

// Load reads one snapshot back by name.
func (s *Service) Load(ctx context.Context, name string) (*Snapshot, error) {
	reader, err := s.storage.Load(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// List returns all snapshot names known to the storage backend.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.storage.List(ctx, namePrefix)
}

// Delete removes one snapshot by name.
func (s *Service) Delete(ctx context.Context, name string) error {
	return s.storage.Delete(ctx, name)
}

// ParseTimestamp recovers the capture time encoded in a snapshot name.
func ParseTimestamp(name string) (time.Time, error) {
	if len(name) < len(namePrefix)+len(nameTimeLayout) {
		return time.Time{}, fmt.Errorf("snapshot name too short: %q", name)
	}
	raw := name[len(namePrefix) : len(namePrefix)+len(nameTimeLayout)]
	ts, err := time.Parse(nameTimeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp in snapshot name %q: %w", name, err)
	}
	return ts, nil
}
