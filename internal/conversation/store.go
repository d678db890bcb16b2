// Package conversation keeps per-user conversation records.
//
// The Store is a process-wide map from user id to models.Record. All operations are
// synchronous and in-memory; an optional Persister receives write-through snapshots so
// conversations survive a restart.
package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Default configuration constants
const (
	// DefaultPersistTimeout bounds a single snapshot write
	DefaultPersistTimeout = 5 * time.Second
	// DefaultSnapshotTTL is the maximum age of a snapshot accepted by Restore
	DefaultSnapshotTTL = 24 * time.Hour
)

// Persister stores conversation snapshots outside the process.
type Persister interface {
	SaveConversation(ctx context.Context, rec models.Record) error
	DeleteConversation(ctx context.Context, userID string) error
	LoadConversations(ctx context.Context, since time.Time) ([]models.Record, error)
}

// Opts holds configuration options for the Store.
type Opts struct {
	Persister      Persister
	PersistTimeout time.Duration
	SnapshotTTL    time.Duration
	Now            func() time.Time
}

// Option defines a configuration option for the Store.
type Option func(*Opts)

// WithPersister enables write-through snapshot persistence.
func WithPersister(p Persister) Option {
	return func(o *Opts) { o.Persister = p }
}

// WithSnapshotTTL sets the maximum snapshot age accepted by Restore.
func WithSnapshotTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.SnapshotTTL = ttl }
}

// WithClock overrides the time source used to stamp LastUpdated.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Store maps user ids to conversation records.
type Store struct {
	mu      sync.RWMutex
	records map[string]models.Record
	locks   *keyedMutex

	persister      Persister
	persistTimeout time.Duration
	snapshotTTL    time.Duration
	now            func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	cfg := Opts{PersistTimeout: DefaultPersistTimeout, SnapshotTTL: DefaultSnapshotTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("conversation.NewStore: created", "persistence", cfg.Persister != nil)
	return &Store{
		records:        make(map[string]models.Record),
		locks:          newKeyedMutex(),
		persister:      cfg.Persister,
		persistTimeout: cfg.PersistTimeout,
		snapshotTTL:    cfg.SnapshotTTL,
		now:            cfg.Now,
	}
}

// Get returns a copy of the user's record.
func (s *Store) Get(userID string) (models.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return models.Record{}, false
	}
	return rec.Clone(), true
}

// Set replaces the user's record wholesale and stamps LastUpdated.
func (s *Store) Set(userID string, rec models.Record) {
	rec = rec.Clone()
	rec.UserID = userID
	if !rec.Active() {
		rec.Step = ""
	}
	rec.LastUpdated = s.now()

	s.mu.Lock()
	s.records[userID] = rec
	s.mu.Unlock()

	slog.Debug("Store.Set: record replaced", "user", userID, "flow", rec.Flow, "step", rec.Step)
	s.save(rec)
}

// FieldOption sets one named attribute in UpdateFields.
type FieldOption func(*models.Record)

// WithFlow sets the active flow. Setting no flow also clears the step.
func WithFlow(f models.FlowName) FieldOption {
	return func(r *models.Record) {
		r.Flow = f
		if f == models.FlowNone {
			r.Step = ""
		}
	}
}

// WithStep sets the active step.
func WithStep(step models.StepName) FieldOption {
	return func(r *models.Record) { r.Step = step }
}

// UpdateFields shallow-sets attributes on the existing record, creating it when absent.
func (s *Store) UpdateFields(userID string, opts ...FieldOption) models.Record {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		rec = models.NewRecord(userID, models.FlowNone, "")
	}
	for _, opt := range opts {
		opt(&rec)
	}
	if !rec.Active() {
		rec.Step = ""
	}
	rec.LastUpdated = s.now()
	s.records[userID] = rec
	out := rec.Clone()
	s.mu.Unlock()

	s.save(out)
	return out
}

// MergeData overwrites keys of the user's data bag. Callers that must not erase known
// values filter their input with models.MergeNonNil first.
func (s *Store) MergeData(userID string, data models.Data) models.Record {
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		rec = models.NewRecord(userID, models.FlowNone, "")
	}
	if rec.Data == nil {
		rec.Data = models.Data{}
	}
	for k, v := range data {
		rec.Data[k] = v
	}
	rec.LastUpdated = s.now()
	s.records[userID] = rec
	out := rec.Clone()
	s.mu.Unlock()

	s.save(out)
	return out
}

// Clear removes the user's record entirely.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	_, existed := s.records[userID]
	delete(s.records, userID)
	s.mu.Unlock()

	if !existed {
		return
	}
	slog.Debug("Store.Clear: record removed", "user", userID)
	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		if err := s.persister.DeleteConversation(ctx, userID); err != nil {
			slog.Error("Store.Clear: failed to delete snapshot", "user", userID, "error", err)
		}
	}
}

// AppendHistory pushes an exchange and keeps only the most recent maxLen entries.
// It does nothing when the user has no record.
func (s *Store) AppendHistory(userID, userMsg, botReply string, maxLen int) {
	if maxLen <= 0 {
		return
	}
	s.mu.Lock()
	rec, ok := s.records[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	now := s.now()
	rec.History = append(rec.History, models.Exchange{User: userMsg, Bot: botReply, At: now})
	if over := len(rec.History) - maxLen; over > 0 {
		rec.History = append([]models.Exchange(nil), rec.History[over:]...)
	}
	rec.LastUpdated = now
	s.records[userID] = rec
	out := rec.Clone()
	s.mu.Unlock()

	s.save(out)
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Lock serializes message handling for one user. The returned function releases it.
func (s *Store) Lock(userID string) func() {
	return s.locks.Lock(userID)
}

// Restore loads persisted snapshots newer than the configured TTL.
func (s *Store) Restore(ctx context.Context) (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	recs, err := s.persister.LoadConversations(ctx, s.now().Add(-s.snapshotTTL))
	if err != nil {
		slog.Error("Store.Restore: failed to load snapshots", "error", err)
		return 0, err
	}
	s.mu.Lock()
	for _, rec := range recs {
		if rec.Data == nil {
			rec.Data = models.Data{}
		}
		s.records[rec.UserID] = rec
	}
	s.mu.Unlock()
	slog.Info("Store.Restore: conversations restored", "count", len(recs))
	return len(recs), nil
}

func (s *Store) save(rec models.Record) {
	if s.persister == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
	defer cancel()
	if err := s.persister.SaveConversation(ctx, rec); err != nil {
		slog.Error("Store.save: failed to persist snapshot", "user", rec.UserID, "error", err)
	}
}
