// Package dispatcher is the per-message entry point. It decides whether a message
// continues the user's active flow or starts another one, runs the flow handler under a
// timeout, and commits the conversation only when the handler produced a reply.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/flow"
	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/router"
)

// Default configuration constants
const (
	// DefaultHandlerTimeout bounds one flow handler invocation
	DefaultHandlerTimeout = 30 * time.Second
	// DefaultClassifyTimeout bounds the intent classification call
	DefaultClassifyTimeout = 12 * time.Second
	// DefaultHistoryLength is the number of exchanges kept on the record
	DefaultHistoryLength = models.MaxHistory
	// MaxRedirects is the number of flow-issued redirects followed per message
	MaxRedirects = 1
)

// User-facing replies for paths that never reach a flow.
const (
	TimeoutMessage = "⏳ Sorry, this is taking longer than expected. Please send your message again in a moment."
	TroubleMessage = "I'm having trouble processing that right now. Please try again in a moment."
	EmptyMessage   = "I didn't quite catch that. Could you please send me a message " +
		"about your car? I'm here to help with car-related questions!"
	OffTopicMessage = "I appreciate your question! I'm specifically here to help " +
		"with car-related queries like maintenance, repairs, insurance, " +
		"or vehicle information. How can I assist you with your car today?"
	CarRelatedMessage = "I'm having trouble processing that right now. Could you " +
		"please rephrase your car-related question? I'm here to help!"
)

// ErrRouting marks a redirect or flow lookup the dispatcher refused.
var ErrRouting = errors.New("routing failure")

// Opts holds configuration options for the Dispatcher.
type Opts struct {
	HandlerTimeout  time.Duration
	ClassifyTimeout time.Duration
	HistoryLength   int
	Classifier      models.IntentClassifier
	Responder       models.Responder
}

// Option defines a configuration option for the Dispatcher.
type Option func(*Opts)

// WithHandlerTimeout sets the per-handler timeout.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *Opts) { o.HandlerTimeout = d }
}

// WithClassifyTimeout sets the intent classification timeout.
func WithClassifyTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ClassifyTimeout = d }
}

// WithHistoryLength sets how many exchanges are kept per conversation.
func WithHistoryLength(n int) Option {
	return func(o *Opts) { o.HistoryLength = n }
}

// WithClassifier sets the intent classifier consulted for idle users.
func WithClassifier(c models.IntentClassifier) Option {
	return func(o *Opts) { o.Classifier = c }
}

// WithResponder sets the responder used for messages no flow claims.
func WithResponder(r models.Responder) Option {
	return func(o *Opts) { o.Responder = r }
}

// Dispatcher routes inbound messages to flows.
type Dispatcher struct {
	store    *conversation.Store
	flows    *flow.Registry
	detector *router.Detector

	handlerTimeout  time.Duration
	classifyTimeout time.Duration
	historyLength   int
	classifier      models.IntentClassifier
	responder       models.Responder
}

// New creates a Dispatcher over a conversation store and a flow registry.
func New(store *conversation.Store, flows *flow.Registry, opts ...Option) *Dispatcher {
	cfg := Opts{
		HandlerTimeout:  DefaultHandlerTimeout,
		ClassifyTimeout: DefaultClassifyTimeout,
		HistoryLength:   DefaultHistoryLength,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("dispatcher.New: created", "handler_timeout", cfg.HandlerTimeout, "classifier", cfg.Classifier != nil, "responder", cfg.Responder != nil)
	return &Dispatcher{
		store:           store,
		flows:           flows,
		detector:        router.NewDetector(),
		handlerTimeout:  cfg.HandlerTimeout,
		classifyTimeout: cfg.ClassifyTimeout,
		historyLength:   cfg.HistoryLength,
		classifier:      cfg.Classifier,
		responder:       cfg.Responder,
	}
}

// HandleMessage processes one inbound message and returns the reply text. Messages from
// the same user are handled one at a time.
func (d *Dispatcher) HandleMessage(ctx context.Context, userID, text string) string {
	unlock := d.store.Lock(userID)
	defer unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyMessage
	}
	sess := d.store.Begin(userID)

	if router.IsExitRequest(text) {
		slog.Info("Dispatcher.HandleMessage: exit requested", "user", userID, "flow", sess.Flow())
		sess.Clear()
		sess.Commit()
		return flow.MainMenuMessage
	}

	if current := sess.Flow(); current != models.FlowNone {
		m, ok := d.flows.Get(current)
		if !ok {
			slog.Warn("Dispatcher.HandleMessage: stale flow on record, starting over", "user", userID, "flow", current)
			d.store.Clear(userID)
			sess = d.store.Begin(userID)
		} else {
			if target, switching := d.detector.Detect(text, nil, current, sess.Step()); switching {
				return d.switchTo(ctx, sess, text, target, d.carryOver(sess, target, nil), 0)
			}
			slog.Debug("Dispatcher.HandleMessage: continuing flow", "user", userID, "flow", current, "step", sess.Step())
			res := d.run(ctx, userID, func(ctx context.Context) models.Result {
				return m.Handle(ctx, sess, text)
			})
			return d.finish(ctx, sess, text, res, 0)
		}
	}

	intent := d.classify(ctx, text)
	if target, switching := d.detector.Detect(text, intent, models.FlowNone, ""); switching {
		return d.switchTo(ctx, sess, text, target, nil, 0)
	}
	if router.IsGreeting(text) {
		return flow.WelcomeMessage
	}
	return d.fallback(ctx, sess, text, intent)
}

// switchTo resets the session for target and starts it with msg. After a redirect the
// issuing handler has consumed msg, so the target starts on its first question.
func (d *Dispatcher) switchTo(ctx context.Context, sess *conversation.Session, msg string, target models.FlowName, payload models.Data, hops int) string {
	m, ok := d.flows.Get(target)
	if !ok {
		return d.routingFailure(sess, fmt.Errorf("%w: flow %q is not registered", ErrRouting, target))
	}
	slog.Info("Dispatcher.switchTo: starting flow", "user", sess.UserID(), "from", sess.Flow(), "to", target, "hops", hops)
	startMsg := msg
	if hops > 0 {
		startMsg = ""
	}
	res := d.run(ctx, sess.UserID(), func(ctx context.Context) models.Result {
		return m.Start(ctx, sess, startMsg, payload)
	})
	return d.finish(ctx, sess, msg, res, hops)
}

// carryOver keeps the selected car when the user moves into the EMI flow.
func (d *Dispatcher) carryOver(sess *conversation.Session, target models.FlowName, payload models.Data) models.Data {
	if target != models.FlowEMI {
		return payload
	}
	car, ok := sess.Data()[models.DataKeySelectedCar]
	if !ok || car == nil {
		return payload
	}
	out := payload.Clone()
	if !out.Has(models.DataKeySelectedCar) {
		out[models.DataKeySelectedCar] = car
	}
	return out
}

// finish turns a handler result into the reply text, committing or redirecting as needed.
func (d *Dispatcher) finish(ctx context.Context, sess *conversation.Session, msg string, res models.Result, hops int) string {
	switch res.Kind {
	case models.ResultReply:
		sess.Commit()
		d.store.AppendHistory(sess.UserID(), msg, res.Text, d.historyLength)
		return res.Text

	case models.ResultSwitchFlow:
		switch {
		case hops >= MaxRedirects:
			return d.routingFailure(sess, fmt.Errorf("%w: redirect to %s exceeds %d hop(s)", ErrRouting, res.Target, MaxRedirects))
		case !models.IsKnownFlow(res.Target):
			return d.routingFailure(sess, fmt.Errorf("%w: redirect to unknown flow %q", ErrRouting, res.Target))
		case res.Target == sess.Flow():
			return d.routingFailure(sess, fmt.Errorf("%w: flow %s redirected to itself", ErrRouting, res.Target))
		}
		return d.switchTo(ctx, sess, msg, res.Target, d.carryOver(sess, res.Target, res.Payload), hops+1)

	case models.ResultError:
		if res.Err == models.ErrorKindTimeout {
			// The abandoned handler may still hold the session.
			slog.Warn("Dispatcher.finish: handler timed out", "user", sess.UserID(), "error", res.Cause)
			return TimeoutMessage
		}
		slog.Error("Dispatcher.finish: handler failed", "user", sess.UserID(), "flow", sess.Flow(), "step", sess.Step(), "kind", res.Err, "error", res.Cause)
		return TroubleMessage
	}
	return d.routingFailure(sess, fmt.Errorf("%w: unexpected result kind %d", ErrRouting, res.Kind))
}

// routingFailure logs err and answers without touching the store.
func (d *Dispatcher) routingFailure(sess *conversation.Session, err error) string {
	slog.Error("Dispatcher.routingFailure: message dropped", "user", sess.UserID(), "flow", sess.Flow(), "step", sess.Step(), "error", err)
	return TroubleMessage
}

// run invokes fn under the handler timeout. A panic or an expired deadline becomes an
// error result; the handler's session is then never committed.
func (d *Dispatcher) run(ctx context.Context, userID string, fn func(context.Context) models.Result) models.Result {
	ctx, cancel := context.WithTimeout(ctx, d.handlerTimeout)
	defer cancel()

	done := make(chan models.Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Dispatcher.run: handler panicked", "user", userID, "panic", r)
				done <- models.Fail(models.ErrorKindInternal, fmt.Errorf("handler panic: %v", r))
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return models.Fail(models.ErrorKindTimeout, ctx.Err())
	}
}

// classify asks the intent classifier, tolerating failure.
func (d *Dispatcher) classify(ctx context.Context, text string) *models.Intent {
	if d.classifier == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, d.classifyTimeout)
	defer cancel()
	intent, err := d.classifier.Classify(ctx, text, models.FlowNone, "")
	if err != nil {
		slog.Warn("Dispatcher.classify: classification failed, using keywords only", "error", err)
		return nil
	}
	slog.Debug("Dispatcher.classify: classified", "intent", intent.Name, "confidence", intent.Confidence)
	return intent
}

// fallback answers a message no flow claims.
func (d *Dispatcher) fallback(ctx context.Context, sess *conversation.Session, text string, intent *models.Intent) string {
	carRelated := router.IsCarRelated(text, intent)
	canned := OffTopicMessage
	if carRelated {
		canned = CarRelatedMessage
	}
	if d.responder == nil {
		return canned
	}

	ctx, cancel := context.WithTimeout(ctx, d.classifyTimeout)
	defer cancel()
	req := models.GenerationRequest{
		Message:    text,
		Data:       sess.Data().Clone(),
		Fallback:   canned,
		CarRelated: carRelated,
		History:    sess.History(),
	}
	if intent != nil {
		req.Analysis = &models.Analysis{UserIntent: intent.Name}
	}
	reply, err := d.responder.Generate(ctx, req)
	if err != nil || strings.TrimSpace(reply) == "" {
		slog.Warn("Dispatcher.fallback: response generation failed, using canned reply", "car_related", carRelated, "error", err)
		return canned
	}
	return strings.TrimSpace(reply)
}
