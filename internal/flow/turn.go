package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/models"
)

// fallbackFunc extracts a single field locally when the extractor could not supply it.
type fallbackFunc func(ctx context.Context, t *turn, field models.DataKey) models.Data

// turn is the context of one message inside one flow.
type turn struct {
	m    *machine
	deps *Deps
	sess *conversation.Session
	msg  string
	// analysis is the last successful extraction of this turn, if any.
	analysis *models.Analysis
}

func (m *machine) newTurn(sess *conversation.Session, msg string) *turn {
	return &turn{m: m, deps: m.deps, sess: sess, msg: strings.TrimSpace(msg)}
}

func (t *turn) data() models.Data { return t.sess.Data() }

func (t *turn) advance(next models.StepName) error { return t.m.advance(t.sess, next) }

func (t *turn) rewind(step models.StepName) error { return t.m.rewind(t.sess, step) }

// moveTo advances to next, turning a refused transition into a routing failure.
func (t *turn) moveTo(next models.StepName) (models.Result, bool) {
	if err := t.advance(next); err != nil {
		slog.Error("flow.moveTo: transition refused", "flow", t.m.name, "step", t.sess.Step(), "next", next, "error", err)
		return models.Fail(models.ErrorKindRouting, err), false
	}
	return models.Result{}, true
}

// references resolves the reference lists this flow sends to the extractor.
func (t *turn) references(ctx context.Context) map[string][]string {
	out := make(map[string][]string, len(t.m.refs))
	for _, name := range t.m.refs {
		out[name] = t.deps.Refs.List(ctx, name)
	}
	return out
}

// analyze calls the extractor under the per-call timeout. Every failure is reported as
// models.ErrExtraction.
func (t *turn) analyze(ctx context.Context, fields []models.DataKey) (*models.Analysis, error) {
	if t.deps.Extractor == nil {
		return nil, models.ErrExtraction
	}
	cctx, cancel := context.WithTimeout(ctx, t.deps.CallTimeout)
	defer cancel()

	keys := t.m.extractKeys(fields)
	req := models.AnalysisRequest{
		Flow:       t.m.name,
		Step:       t.sess.Step(),
		Message:    t.msg,
		Data:       t.data().Clone(),
		History:    t.sess.History(),
		References: t.references(cctx),
		Fields:     keys,
	}
	a, err := t.deps.Extractor.Analyze(cctx, req)
	if err != nil {
		slog.Warn("flow.analyze: extractor failed, using local fallback", "flow", t.m.name, "step", t.sess.Step(), "error", err)
		if !errors.Is(err, models.ErrExtraction) {
			err = errors.Join(models.ErrExtraction, err)
		}
		return nil, err
	}
	if a == nil {
		a = &models.Analysis{}
	}
	if a.Fields == nil {
		a.Fields = models.Data{}
	}
	a.Fields = onlyFields(a.Fields, keys)
	t.analysis = a
	return a, nil
}

// onlyFields drops extracted keys the step did not ask for.
func onlyFields(in models.Data, fields []models.DataKey) models.Data {
	out := make(models.Data, len(in))
	for _, k := range fields {
		if v, ok := in[k]; ok {
			out[k] = v
		}
	}
	return out
}

// firstMissing returns the first field not yet present in the session data.
func (t *turn) firstMissing(fields []models.DataKey) (models.DataKey, bool) {
	data := t.data()
	for _, f := range fields {
		if !data.Has(f) {
			return f, true
		}
	}
	return "", false
}

// fill runs the common slot-filling contract for fields.
//
// It resolves a pending confirmation first, then extracts. When the extractor fails or
// finds nothing, the local parser gets the first missing field. A non-nil result is a
// reply the step must return as is; nil means the step should continue with whatever is
// now in the session.
func (t *turn) fill(ctx context.Context, fields []models.DataKey, fallback fallbackFunc) *models.Result {
	if awaiting, _ := t.data().Bool(models.DataKeyAwaitingConfirmation); awaiting {
		return t.resolvePending(ctx, fields, fallback)
	}
	if t.msg == "" {
		return nil
	}

	a, err := t.analyze(ctx, fields)
	if err == nil && a.NeedsClarification {
		pending := models.Data{}
		models.MergeNonNil(pending, a.Fields)
		if len(pending) > 0 || a.ClarificationQuestion != "" {
			return t.askConfirmation(pending, a.ClarificationQuestion)
		}
	}
	if err == nil {
		if written := t.mergeFields(a.Fields); len(written) > 0 {
			return nil
		}
	}
	t.applyFallback(ctx, fields, fallback)
	return nil
}

// mergeFields merges extracted values and reports which keys carried valid information.
func (t *turn) mergeFields(values models.Data) []models.DataKey {
	return t.merge(values)
}

// merge normalizes the incoming values on their own and merges only the keys that
// survive, so a rejected value never displaces a stored one. Derived values such as the
// budget label are then recomputed over the whole bag without removing any key.
func (t *turn) merge(values models.Data) []models.DataKey {
	incoming := models.Data{}
	models.MergeNonNil(incoming, values)
	if t.m.normalize != nil {
		t.m.normalize(incoming, t.deps)
	}
	written := t.sess.MergeNonNil(incoming)
	if len(written) == 0 || t.m.normalize == nil {
		return written
	}
	whole := t.data().Clone()
	t.m.normalize(whole, t.deps)
	for k, v := range whole {
		if !models.IsEmptyValue(v) {
			t.sess.Set(k, v)
		}
	}
	return written
}

// known returns the value stored under key before this turn changes it.
func (t *turn) known(key models.DataKey) (any, bool) {
	v, ok := t.data()[key]
	return v, ok && !models.IsEmptyValue(v)
}

// restore puts back a value captured by known, or removes key when nothing was known.
func (t *turn) restore(key models.DataKey, prev any, had bool) {
	if had {
		t.sess.Set(key, prev)
		return
	}
	t.sess.Delete(key)
}

// rejectInvalidYear answers an out-of-range year without losing the year known before
// the turn.
func (t *turn) rejectInvalidYear(prev any, had bool) *models.Result {
	d := t.data()
	now := t.deps.Now()
	if !d.Has(models.DataKeyYear) || validYear(d.Int(models.DataKeyYear), now) {
		return nil
	}
	slog.Debug("flow.rejectInvalidYear: year out of range", "flow", t.m.name, "user", t.sess.UserID(), "year", d.Int(models.DataKeyYear))
	t.restore(models.DataKeyYear, prev, had)
	res := models.Reply(fmt.Sprintf("Please provide a valid year between %d and %d.", minYear, now.Year()))
	return &res
}

func (t *turn) applyFallback(ctx context.Context, fields []models.DataKey, fallback fallbackFunc) {
	if fallback == nil {
		return
	}
	field, missing := t.firstMissing(fields)
	if !missing {
		return
	}
	if got := fallback(ctx, t, field); len(got) > 0 {
		slog.Debug("flow.fill: local fallback extracted", "flow", t.m.name, "field", field)
		t.merge(got)
	}
}

func (t *turn) askConfirmation(pending models.Data, question string) *models.Result {
	if question == "" {
		question = "I want to make sure I understood correctly. " + describePending(pending) + " Is that right?"
	}
	t.sess.Set(models.DataKeyPending, pending)
	t.sess.Set(models.DataKeyAwaitingConfirmation, true)
	t.sess.Set(models.DataKeyClarification, question)
	res := models.Reply("🤔 " + question)
	return &res
}

func (t *turn) clearPending() {
	t.sess.Delete(models.DataKeyPending, models.DataKeyAwaitingConfirmation, models.DataKeyClarification)
}

// resolvePending interprets a reply to a clarification question.
func (t *turn) resolvePending(ctx context.Context, fields []models.DataKey, fallback fallbackFunc) *models.Result {
	pending := t.data().Sub(models.DataKeyPending)
	switch {
	case isAffirmative(t.msg):
		t.clearPending()
		t.merge(pending)
		slog.Debug("flow.resolvePending: pending values confirmed", "flow", t.m.name, "count", len(pending))
		return nil
	case isNegative(t.msg):
		t.clearPending()
		field := t.firstPendingSlot(pending, fields)
		res := models.Reply("No problem! " + fieldQuestion(field))
		return &res
	}

	a, err := t.analyze(ctx, fields)
	if err == nil {
		if written := t.merge(a.Fields); len(written) > 0 {
			t.clearPending()
			return nil
		}
	} else if fallback != nil {
		if field, missing := t.firstMissing(fields); missing {
			if got := fallback(ctx, t, field); len(got) > 0 {
				if written := t.merge(got); len(written) > 0 {
					t.clearPending()
					return nil
				}
			}
		}
	}
	res := models.Reply("I want to make sure I understand correctly. Did you mean to confirm the suggestion, or would you like to provide different information?")
	return &res
}

// firstPendingSlot returns the first slot with a pending value, or the first missing slot.
func (t *turn) firstPendingSlot(pending models.Data, fields []models.DataKey) models.DataKey {
	for _, f := range fields {
		for _, k := range t.m.extractKeys([]models.DataKey{f}) {
			if pending.Has(k) {
				return f
			}
		}
	}
	if f, missing := t.firstMissing(fields); missing {
		return f
	}
	if len(fields) > 0 {
		return fields[0]
	}
	return ""
}

// polish lets the responder rephrase a canned follow-up question. Any failure keeps the
// canned text.
func (t *turn) polish(ctx context.Context, canned string) string {
	if t.deps.Responder == nil || t.msg == "" {
		return canned
	}
	cctx, cancel := context.WithTimeout(ctx, t.deps.CallTimeout)
	defer cancel()
	out, err := t.deps.Responder.Generate(cctx, models.GenerationRequest{
		Message:    t.msg,
		Flow:       t.m.name,
		Step:       t.sess.Step(),
		Data:       t.data().Clone(),
		Analysis:   t.analysis,
		Fallback:   canned,
		CarRelated: true,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		if err != nil {
			slog.Debug("flow.polish: responder failed, using canned reply", "flow", t.m.name, "error", err)
		}
		return canned
	}
	return strings.TrimSpace(out)
}

// bookingRequestID returns the session's idempotency key, creating it once.
func (t *turn) bookingRequestID() string {
	if id := t.data().String(models.DataKeyBookingRequestID); id != "" {
		return id
	}
	id := t.deps.NewID()
	t.sess.Set(models.DataKeyBookingRequestID, id)
	return id
}

// callCtx derives a context bounded by the per-call timeout.
func (t *turn) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.deps.CallTimeout)
}
