// Package core wires a timeline store to structured logging, metrics and
// optional blob archiving. It is the layer cmd/timelinectl talks to.
package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"timechain/internal/blob/core"
	"timechain/pkg/domain"
)

// Backend is the subset of the store surface (memory.Store, sqlite.Store,
// postgres.Store all satisfy it) that Service needs.
type Backend[E any] interface {
	CreateTimeline(id string, initial E, direction domain.Direction) error
	Add(id string, changed E, moment time.Time, policy domain.FuturePolicy) error
	PatchToDate(id string, moment time.Time) (domain.Reconstruction[E], error)
	Contains(id string, moment time.Time, grace time.Duration) (bool, error)
	Reverse(id string) (E, error)
	Timelines() []string
}

// Service wraps a Backend with logging and metrics around every call, plus
// optional archiving of timeline snapshots to a blob store.
type Service[E any] struct {
	backend Backend[E]
	logger  *slog.Logger
	archive core.Store
}

// Option configures a Service.
type Option[E any] func(*Service[E])

// WithLogger overrides the service's logger. Defaults to slog.Default().
func WithLogger[E any](logger *slog.Logger) Option[E] {
	return func(s *Service[E]) { s.logger = logger }
}

// WithArchive enables Archive by wiring a blob store destination.
func WithArchive[E any](store core.Store) Option[E] {
	return func(s *Service[E]) { s.archive = store }
}

// New wraps backend, defaulting the logger to slog.Default().
func New[E any](backend Backend[E], opts ...Option[E]) *Service[E] {
	s := &Service[E]{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateTimeline registers a new timeline.
func (s *Service[E]) CreateTimeline(id string, initial E, direction domain.Direction) error {
	err := s.backend.CreateTimeline(id, initial, direction)
	if err != nil {
		s.logger.Warn("create timeline failed", "timeline", id, "direction", direction, "error", err)
		return err
	}
	s.logger.Info("timeline created", "timeline", id, "direction", direction)
	return nil
}

// Add appends a change to id's timeline at moment, recording latency and
// outcome to metrics.
func (s *Service[E]) Add(id string, changed E, moment time.Time, policy domain.FuturePolicy) error {
	start := time.Now()
	err := s.backend.Add(id, changed, moment, policy)
	recordAdd(time.Since(start).Seconds(), err)
	if err != nil {
		s.logger.Warn("add failed", "timeline", id, "moment", moment, "error", err)
		return err
	}
	s.logger.Info("slice added", "timeline", id, "moment", moment, "policy", policy)
	return nil
}

// PatchToDate reconstructs id's entity at moment, recording latency, skip
// count and outcome to metrics, and logging any absorbed skips.
func (s *Service[E]) PatchToDate(id string, moment time.Time) (domain.Reconstruction[E], error) {
	start := time.Now()
	rec, err := s.backend.PatchToDate(id, moment)
	recordPatchToDate(time.Since(start).Seconds(), len(rec.SkippedSlices), err)
	if err != nil {
		s.logger.Warn("patch to date failed", "timeline", id, "moment", moment, "error", err)
		return rec, err
	}
	if rec.PatchesHaveBeenSkipped {
		s.logger.Warn("patch to date absorbed skipped slices",
			"timeline", id, "moment", moment, "skipped_slices", len(rec.SkippedSlices))
	}
	return rec, nil
}

// Contains reports whether id's timeline records a key date within grace
// of moment.
func (s *Service[E]) Contains(id string, moment time.Time, grace time.Duration) (bool, error) {
	return s.backend.Contains(id, moment, grace)
}

// Reverse reverses id's timeline in place.
func (s *Service[E]) Reverse(id string) (E, error) {
	boundary, err := s.backend.Reverse(id)
	if err != nil {
		s.logger.Warn("reverse failed", "timeline", id, "error", err)
		var zero E
		return zero, err
	}
	s.logger.Info("timeline reversed", "timeline", id)
	return boundary, nil
}

// Timelines returns every registered timeline id.
func (s *Service[E]) Timelines() []string {
	return s.backend.Timelines()
}

// archiveRecord is the JSON shape written to the blob store by Archive.
type archiveRecord[E any] struct {
	Timeline  string         `json:"timeline"`
	Moment    time.Time      `json:"moment"`
	Entity    E              `json:"entity"`
	Skipped   []domain.Slice `json:"skipped_slices,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Archive reconstructs id's entity at moment and writes a JSON snapshot to
// the configured blob store under key "timelines/<id>/<rfc3339nano>-<uuid>.json".
// It returns an error if no archive destination was configured.
func (s *Service[E]) Archive(ctx context.Context, id string, moment time.Time) (core.Info, error) {
	if s.archive == nil {
		err := fmt.Errorf("core: archive not configured")
		recordArchiveUpload(err)
		return core.Info{}, err
	}
	rec, err := s.PatchToDate(id, moment)
	if err != nil {
		recordArchiveUpload(err)
		return core.Info{}, err
	}
	payload := archiveRecord[E]{
		Timeline:  id,
		Moment:    moment,
		Entity:    rec.Entity,
		Skipped:   rec.SkippedSlices,
		CreatedAt: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		recordArchiveUpload(err)
		return core.Info{}, fmt.Errorf("core: marshal archive record: %w", err)
	}
	key := fmt.Sprintf("timelines/%s/%s-%s.json", id, moment.UTC().Format(time.RFC3339Nano), uuid.New())
	info, err := s.archive.Put(ctx, key, bytes.NewReader(body), core.PutOptions{ContentType: "application/json"})
	recordArchiveUpload(err)
	if err != nil {
		s.logger.Warn("archive upload failed", "timeline", id, "moment", moment, "key", key, "error", err)
		return core.Info{}, fmt.Errorf("core: archive upload: %w", err)
	}
	s.logger.Info("timeline archived", "timeline", id, "moment", moment, "key", key)
	return info, nil
}

// archiveKeyPrefix returns the key prefix every snapshot Archive writes for
// id shares, so List can be scoped to that timeline alone.
func archiveKeyPrefix(id string) string {
	return fmt.Sprintf("timelines/%s/", id)
}

// archiveMoment recovers the reconstruction moment embedded in a key Archive
// wrote (timelines/<id>/<rfc3339nano>-<uuid>.json). It reports false for any
// key that doesn't match that shape, so foreign entries under the same
// prefix are skipped rather than mistaken for the newest snapshot.
//
// The split point is the "Z-" that joins the UTC timestamp to the UUID, not
// the last hyphen in the key: a UUID's own hyphens would otherwise win.
func archiveMoment(id, key string) (time.Time, bool) {
	rest := strings.TrimPrefix(key, archiveKeyPrefix(id))
	if rest == key {
		return time.Time{}, false
	}
	rest = strings.TrimSuffix(rest, ".json")
	sep := strings.Index(rest, "Z-")
	if sep < 0 {
		return time.Time{}, false
	}
	moment, err := time.Parse(time.RFC3339Nano, rest[:sep+1])
	if err != nil {
		return time.Time{}, false
	}
	return moment, true
}

// LatestArchive returns blob metadata for the most recently archived
// snapshot of id, determined by the moment embedded in each key Archive
// wrote rather than key ordering, since RFC3339Nano strings of different
// precision don't always sort chronologically. It returns an error if no
// archive destination is configured or no snapshot exists for id.
func (s *Service[E]) LatestArchive(ctx context.Context, id string) (core.Info, error) {
	if s.archive == nil {
		err := fmt.Errorf("core: archive not configured")
		recordArchiveLookup(err)
		return core.Info{}, err
	}
	entries, err := s.archive.List(ctx, archiveKeyPrefix(id))
	if err != nil {
		recordArchiveLookup(err)
		return core.Info{}, fmt.Errorf("core: list archives: %w", err)
	}
	var (
		latest      core.Info
		latestAt    time.Time
		foundLatest bool
	)
	for _, entry := range entries {
		moment, ok := archiveMoment(id, entry.Key)
		if !ok {
			continue
		}
		if !foundLatest || moment.After(latestAt) {
			latest, latestAt, foundLatest = entry, moment, true
		}
	}
	if !foundLatest {
		err := fmt.Errorf("core: no archived snapshots for timeline %q", id)
		recordArchiveLookup(err)
		return core.Info{}, err
	}
	recordArchiveLookup(nil)
	s.logger.Info("latest archive resolved", "timeline", id, "key", latest.Key, "moment", latestAt)
	return latest, nil
}
