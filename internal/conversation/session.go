package conversation

import (
	"log/slog"

	"github.com/BTreeMap/CarSherpa/internal/models"
)

// Session is a working copy of one user's record. Step handlers mutate the session;
// nothing reaches the Store until Commit. A discarded session leaves the Store untouched.
type Session struct {
	store     *Store
	userID    string
	rec       models.Record
	cleared   bool
	committed bool
}

// Begin opens a session on the user's current record, or on an empty one.
func (s *Store) Begin(userID string) *Session {
	rec, ok := s.Get(userID)
	if !ok {
		rec = models.NewRecord(userID, models.FlowNone, "")
	}
	if rec.Data == nil {
		rec.Data = models.Data{}
	}
	return &Session{store: s, userID: userID, rec: rec}
}

// UserID returns the session owner.
func (ss *Session) UserID() string { return ss.userID }

// Record returns a copy of the working record.
func (ss *Session) Record() models.Record { return ss.rec.Clone() }

// Flow returns the active flow of the working record.
func (ss *Session) Flow() models.FlowName { return ss.rec.Flow }

// Step returns the active step of the working record.
func (ss *Session) Step() models.StepName { return ss.rec.Step }

// Data returns the live data bag of the working record.
func (ss *Session) Data() models.Data { return ss.rec.Data }

// History returns the recent exchanges of the working record.
func (ss *Session) History() []models.Exchange { return ss.rec.History }

// Start replaces the working record with a fresh one owned by flow at step.
// Recent history is kept for extractor context.
func (ss *Session) Start(flow models.FlowName, step models.StepName) {
	history := ss.rec.History
	ss.rec = models.NewRecord(ss.userID, flow, step)
	ss.rec.History = history
	ss.cleared = false
}

// SetStep moves the working record to step.
func (ss *Session) SetStep(step models.StepName) { ss.rec.Step = step }

// Set stores one value.
func (ss *Session) Set(key models.DataKey, value any) { ss.rec.Data[key] = value }

// Delete removes keys from the data bag.
func (ss *Session) Delete(keys ...models.DataKey) {
	for _, k := range keys {
		delete(ss.rec.Data, k)
	}
}

// Merge overwrites keys with the given values.
func (ss *Session) Merge(data models.Data) {
	for k, v := range data {
		ss.rec.Data[k] = v
	}
}

// MergeNonNil merges only informative values and returns the keys written.
func (ss *Session) MergeNonNil(data models.Data) []models.DataKey {
	return models.MergeNonNil(ss.rec.Data, data)
}

// Clear marks the record for removal on commit.
func (ss *Session) Clear() {
	ss.rec = models.NewRecord(ss.userID, models.FlowNone, "")
	ss.cleared = true
}

// Cleared reports whether the session ends with the record removed.
func (ss *Session) Cleared() bool { return ss.cleared }

// Commit writes the working record to the Store. Only the first call has an effect.
func (ss *Session) Commit() {
	if ss.committed {
		return
	}
	ss.committed = true
	if ss.cleared || !ss.rec.Active() {
		slog.Debug("Session.Commit: clearing record", "user", ss.userID)
		ss.store.Clear(ss.userID)
		return
	}
	ss.store.Set(ss.userID, ss.rec)
}
