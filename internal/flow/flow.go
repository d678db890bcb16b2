// Package flow implements the four dealership dialogues as step-table state machines.
//
// Every machine works on a conversation.Session: step handlers mutate the session's
// working copy and return a models.Result. The dispatcher commits the session only when
// the handler finished in time.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/models"
)

// DefaultCallTimeout bounds each collaborator call made by a step handler.
const DefaultCallTimeout = 12 * time.Second

var (
	// ErrStepSkipped is returned when a transition would pass a step whose required data is missing.
	ErrStepSkipped = errors.New("step requirements not met")
	// ErrUnknownStep is returned when a record names a step the flow does not define.
	ErrUnknownStep = errors.New("unknown step")
	// ErrInvalidRewind is returned when a rewind targets a step ahead of the current one.
	ErrInvalidRewind = errors.New("rewind must move backwards")
)

// Machine is one flow state machine.
type Machine interface {
	Name() models.FlowName
	// Start initializes the flow on the session and handles the message that started it.
	Start(ctx context.Context, sess *conversation.Session, msg string, payload models.Data) models.Result
	// Handle routes a message to the session's current step.
	Handle(ctx context.Context, sess *conversation.Session, msg string) models.Result
}

// Deps holds the collaborators shared by every flow.
type Deps struct {
	Extractor   models.Extractor
	Responder   models.Responder
	Cars        models.CarStore
	Refs        *ReferenceCache
	Now         func() time.Time
	CallTimeout time.Duration
	NewID       func() string
	Dealer      Dealership
}

// Dealership is the contact card shown by the service flow.
type Dealership struct {
	Name    string
	Phone   string
	Email   string
	Address string
}

// DefaultDealership is used when no contact card is configured.
var DefaultDealership = Dealership{
	Name:    "CarSherpa Motors",
	Phone:   "+91 80 4567 8900",
	Email:   "service@carsherpa.in",
	Address: "CarSherpa Motors, Outer Ring Road, Bengaluru",
}

// Option configures Deps.
type Option func(*Deps)

// WithExtractor sets the field-extraction collaborator.
func WithExtractor(e models.Extractor) Option {
	return func(d *Deps) { d.Extractor = e }
}

// WithResponder sets the response-generation collaborator used to polish follow-up questions.
func WithResponder(r models.Responder) Option {
	return func(d *Deps) { d.Responder = r }
}

// WithReferenceCache shares a reference cache owned by the caller.
func WithReferenceCache(c *ReferenceCache) Option {
	return func(d *Deps) { d.Refs = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(d *Deps) { d.Now = now }
}

// WithCallTimeout sets the per-call collaborator timeout.
func WithCallTimeout(t time.Duration) Option {
	return func(d *Deps) { d.CallTimeout = t }
}

// WithIDGenerator overrides how booking request ids are generated.
func WithIDGenerator(gen func() string) Option {
	return func(d *Deps) { d.NewID = gen }
}

// WithDealership sets the contact card shown to customers.
func WithDealership(dl Dealership) Option {
	return func(d *Deps) { d.Dealer = dl }
}

// Registry holds one Machine per flow.
type Registry struct {
	deps     *Deps
	machines map[models.FlowName]Machine
}

// NewRegistry builds the four flows over a car store.
func NewRegistry(cars models.CarStore, opts ...Option) *Registry {
	d := &Deps{Cars: cars, Now: time.Now, CallTimeout: DefaultCallTimeout, NewID: uuid.NewString, Dealer: DefaultDealership}
	for _, opt := range opts {
		opt(d)
	}
	if d.Refs == nil {
		d.Refs = NewReferenceCache(cars)
	}
	r := &Registry{deps: d, machines: make(map[models.FlowName]Machine)}
	r.Register(NewBrowseCar(d))
	r.Register(NewValuation(d))
	r.Register(NewEMI(d))
	r.Register(NewServiceBooking(d))
	slog.Debug("flow.NewRegistry: flows registered", "count", len(r.machines), "extractor", d.Extractor != nil, "responder", d.Responder != nil)
	return r
}

// Register adds or replaces the machine for its flow.
func (r *Registry) Register(m Machine) {
	r.machines[m.Name()] = m
}

// Get returns the machine for a flow.
func (r *Registry) Get(name models.FlowName) (Machine, bool) {
	m, ok := r.machines[name]
	return m, ok
}

// References returns the shared reference cache.
func (r *Registry) References() *ReferenceCache { return r.deps.Refs }

type stepFunc func(ctx context.Context, t *turn) models.Result

// stepDef is one entry of a flow's step table. requires lists the data keys that must
// be present before the flow may enter the step.
type stepDef struct {
	requires []models.DataKey
	handle   stepFunc
}

// machine is the table-driven core shared by all flows.
type machine struct {
	name  models.FlowName
	deps  *Deps
	order []models.StepName
	steps map[models.StepName]stepDef
	// refs names the reference lists sent to the extractor.
	refs []string
	// expand maps a slot to the extractor keys that fill it.
	expand map[models.DataKey][]models.DataKey
	// normalize canonicalizes data after every merge.
	normalize func(d models.Data, deps *Deps)
	start     func(ctx context.Context, t *turn, payload models.Data) models.Result
}

// extractKeys expands slots into the keys requested from the extractor.
func (m *machine) extractKeys(slots []models.DataKey) []models.DataKey {
	var keys []models.DataKey
	for _, s := range slots {
		if more, ok := m.expand[s]; ok {
			keys = append(keys, more...)
			continue
		}
		keys = append(keys, s)
	}
	return keys
}

func (m *machine) Name() models.FlowName { return m.name }

func (m *machine) Start(ctx context.Context, sess *conversation.Session, msg string, payload models.Data) models.Result {
	sess.Start(m.name, m.order[0])
	slog.Debug("flow.Start", "flow", m.name, "user", sess.UserID(), "payload", len(payload))
	return m.start(ctx, m.newTurn(sess, msg), payload)
}

func (m *machine) Handle(ctx context.Context, sess *conversation.Session, msg string) models.Result {
	if sess.Flow() != m.name {
		return models.Fail(models.ErrorKindRouting, fmt.Errorf("session flow %q routed to %q", sess.Flow(), m.name))
	}
	def, ok := m.steps[sess.Step()]
	if !ok {
		return models.Fail(models.ErrorKindRouting, fmt.Errorf("%w: %s/%s", ErrUnknownStep, m.name, sess.Step()))
	}
	slog.Debug("flow.Handle", "flow", m.name, "step", sess.Step(), "user", sess.UserID())
	return def.handle(ctx, m.newTurn(sess, msg))
}

// index returns the position of step in the flow order, or -1.
func (m *machine) index(step models.StepName) int {
	return slices.Index(m.order, step)
}

// Requires returns the data keys a step needs, for tests and diagnostics.
func (m *machine) Requires(step models.StepName) []models.DataKey {
	return m.steps[step].requires
}

// advance moves the session forward to next. It refuses steps behind the current one and
// steps whose required data is missing.
func (m *machine) advance(sess *conversation.Session, next models.StepName) error {
	def, ok := m.steps[next]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownStep, m.name, next)
	}
	if m.index(next) < m.index(sess.Step()) {
		return fmt.Errorf("advance %s -> %s: %w", sess.Step(), next, ErrInvalidRewind)
	}
	data := sess.Data()
	for _, key := range def.requires {
		if !data.Has(key) {
			return fmt.Errorf("advance %s -> %s: missing %s: %w", sess.Step(), next, key, ErrStepSkipped)
		}
	}
	sess.SetStep(next)
	return nil
}

// rewind moves the session back to an earlier (or the same) step.
func (m *machine) rewind(sess *conversation.Session, step models.StepName) error {
	if _, ok := m.steps[step]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownStep, m.name, step)
	}
	if m.index(step) > m.index(sess.Step()) {
		return fmt.Errorf("rewind %s -> %s: %w", sess.Step(), step, ErrInvalidRewind)
	}
	sess.SetStep(step)
	return nil
}
