package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/testutil"
)

var testNow = time.Date(2025, time.June, 15, 10, 0, 0, 0, time.UTC)

// harness drives one user's conversation through a registry the way the dispatcher does:
// the session is committed only for replies.
type harness struct {
	t     *testing.T
	store *conversation.Store
	cars  *testutil.FakeCarStore
	reg   *Registry
	user  string
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("req-%d", n)
	}
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	cars := testutil.NewFakeCarStore()
	base := []Option{WithClock(testutil.FixedClock(testNow)), WithIDGenerator(sequentialIDs())}
	return &harness{
		t:     t,
		store: conversation.NewStore(),
		cars:  cars,
		reg:   NewRegistry(cars, append(base, opts...)...),
		user:  "919876543210",
	}
}

func (h *harness) finish(sess *conversation.Session, res models.Result) models.Result {
	if res.Kind == models.ResultReply {
		sess.Commit()
	}
	return res
}

func (h *harness) start(flow models.FlowName, msg string, payload models.Data) models.Result {
	h.t.Helper()
	m, ok := h.reg.Get(flow)
	if !ok {
		h.t.Fatalf("flow %s not registered", flow)
	}
	sess := h.store.Begin(h.user)
	return h.finish(sess, m.Start(context.Background(), sess, msg, payload))
}

func (h *harness) send(msg string) models.Result {
	h.t.Helper()
	sess := h.store.Begin(h.user)
	m, ok := h.reg.Get(sess.Flow())
	if !ok {
		h.t.Fatalf("no active flow for %q", msg)
	}
	return h.finish(sess, m.Handle(context.Background(), sess, msg))
}

func (h *harness) record() (models.Record, bool) {
	return h.store.Get(h.user)
}

func (h *harness) mustStep(want models.StepName) models.Record {
	h.t.Helper()
	rec, ok := h.record()
	if !ok {
		h.t.Fatalf("expected record at step %s, got none", want)
	}
	if rec.Step != want {
		h.t.Fatalf("expected step %s, got %s", want, rec.Step)
	}
	return rec
}

// scriptedExtractor answers the scripted messages and fails every other one, so the
// local parsers handle the rest of the dialogue.
func scriptedExtractor(fields map[string]models.Data) testutil.ExtractorFunc {
	return func(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
		if f, ok := fields[req.Message]; ok {
			return &models.Analysis{Fields: f.Clone()}, nil
		}
		return nil, models.ErrExtraction
	}
}

func expectReply(t *testing.T, res models.Result, contains string) {
	t.Helper()
	if res.Kind != models.ResultReply {
		t.Fatalf("expected reply, got kind %v (err %v: %v)", res.Kind, res.Err, res.Cause)
	}
	if !strings.Contains(res.Text, contains) {
		t.Errorf("expected reply containing %q, got %q", contains, res.Text)
	}
}

func TestRegistry_AllFlowsRegistered(t *testing.T) {
	reg := NewRegistry(testutil.NewFakeCarStore())
	for _, f := range models.KnownFlows {
		m, ok := reg.Get(f)
		if !ok {
			t.Errorf("flow %s not registered", f)
			continue
		}
		if m.Name() != f {
			t.Errorf("expected name %s, got %s", f, m.Name())
		}
	}
	if reg.References() == nil {
		t.Error("expected a reference cache")
	}
}

func TestMachine_AdvanceRefusesMissingRequirements(t *testing.T) {
	m := NewBrowseCar(&Deps{}).(*browseCar).machine
	sess := conversation.NewStore().Begin("u1")
	sess.Start(models.FlowBrowseCar, models.StepCollectingCriteria)

	err := m.advance(sess, models.StepShowingCars)
	if !errors.Is(err, ErrStepSkipped) {
		t.Fatalf("expected ErrStepSkipped, got %v", err)
	}
	if sess.Step() != models.StepCollectingCriteria {
		t.Errorf("step changed on refused advance: %s", sess.Step())
	}

	sess.Set(models.DataKeyBrand, "Honda")
	sess.Set(models.DataKeyBudget, "under ₹10.00 Lakh")
	sess.Set(models.DataKeyCarType, "Sedan")
	if err := m.advance(sess, models.StepShowingCars); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := m.advance(sess, models.StepCollectingCriteria); !errors.Is(err, ErrInvalidRewind) {
		t.Errorf("expected ErrInvalidRewind moving backwards, got %v", err)
	}
	if err := m.rewind(sess, models.StepCarSelected); !errors.Is(err, ErrInvalidRewind) {
		t.Errorf("expected ErrInvalidRewind rewinding forwards, got %v", err)
	}
	if err := m.advance(sess, "nowhere"); !errors.Is(err, ErrUnknownStep) {
		t.Errorf("expected ErrUnknownStep, got %v", err)
	}
	if err := m.rewind(sess, models.StepCollectingCriteria); err != nil {
		t.Errorf("unexpected rewind error: %v", err)
	}
}

func TestMachine_EveryStepAfterFirstHasRequirements(t *testing.T) {
	d := &Deps{}
	for _, mm := range []Machine{NewBrowseCar(d), NewValuation(d), NewEMI(d), NewServiceBooking(d)} {
		var m *machine
		switch v := mm.(type) {
		case *browseCar:
			m = v.machine
		case *valuation:
			m = v.machine
		case *emi:
			m = v.machine
		case *serviceBooking:
			m = v.machine
		}
		for i, step := range m.order {
			if _, ok := m.steps[step]; !ok {
				t.Errorf("%s: step %s has no handler", m.name, step)
			}
			if i > 0 && len(m.Requires(step)) == 0 {
				t.Errorf("%s: step %s has no requirements", m.name, step)
			}
		}
	}
}

func TestMachine_HandleRoutingFailures(t *testing.T) {
	h := newHarness(t)
	m, _ := h.reg.Get(models.FlowEMI)

	sess := h.store.Begin("u2")
	sess.Start(models.FlowValuation, models.StepCollectingInfo)
	res := m.Handle(context.Background(), sess, "hello")
	if res.Kind != models.ResultError || res.Err != models.ErrorKindRouting {
		t.Errorf("expected routing failure for flow mismatch, got %+v", res)
	}

	sess.Start(models.FlowEMI, "bogus")
	res = m.Handle(context.Background(), sess, "hello")
	if res.Kind != models.ResultError || !errors.Is(res.Cause, ErrUnknownStep) {
		t.Errorf("expected unknown step failure, got %+v", res)
	}
}

func TestFill_ClarificationRoundTrip(t *testing.T) {
	ext := testutil.ExtractorFunc(func(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
		if req.Message == "I want a hnda" {
			return &models.Analysis{
				Fields:                models.Data{models.DataKeyBrand: "Honda"},
				NeedsClarification:    true,
				ClarificationQuestion: "Did you mean Honda?",
			}, nil
		}
		return &models.Analysis{}, nil
	})
	h := newHarness(t, WithExtractor(ext))

	res := h.start(models.FlowBrowseCar, "I want a hnda", nil)
	expectReply(t, res, "🤔 Did you mean Honda?")
	rec := h.mustStep(models.StepCollectingCriteria)
	if rec.Data.Has(models.DataKeyBrand) {
		t.Error("tentative brand must not be merged before confirmation")
	}

	res = h.send("yes")
	expectReply(t, res, "What's your budget range?")
	rec = h.mustStep(models.StepCollectingCriteria)
	if rec.Data.String(models.DataKeyBrand) != "Honda" {
		t.Errorf("expected confirmed brand Honda, got %q", rec.Data.String(models.DataKeyBrand))
	}
	if rec.Data.Has(models.DataKeyAwaitingConfirmation) {
		t.Error("expected confirmation flag cleared")
	}
}

func TestFill_ClarificationRejected(t *testing.T) {
	ext := testutil.ExtractorFunc(func(ctx context.Context, req models.AnalysisRequest) (*models.Analysis, error) {
		if req.Message == "the usual" {
			return &models.Analysis{Fields: models.Data{models.DataKeyBrand: "Toyota"}, NeedsClarification: true}, nil
		}
		return &models.Analysis{}, nil
	})
	h := newHarness(t, WithExtractor(ext))

	expectReply(t, h.start(models.FlowBrowseCar, "the usual", nil), "brand: Toyota")
	res := h.send("no")
	expectReply(t, res, "No problem! Which brand are you interested in?")
	rec := h.mustStep(models.StepCollectingCriteria)
	if rec.Data.Has(models.DataKeyBrand) || rec.Data.Has(models.DataKeyPending) {
		t.Errorf("expected rejected values dropped, got %v", rec.Data)
	}
}

func TestFill_ExtractorFailureFallsBack(t *testing.T) {
	ext := &testutil.MapExtractor{Err: errors.New("upstream 503")}
	h := newHarness(t, WithExtractor(ext))

	res := h.start(models.FlowBrowseCar, "Show me a Honda", nil)
	expectReply(t, res, "What's your budget range?")
	rec := h.mustStep(models.StepCollectingCriteria)
	if rec.Data.String(models.DataKeyBrand) != "Honda" {
		t.Errorf("expected local fallback to find Honda, got %v", rec.Data)
	}
}

func TestPolish_UsesResponderAndFallsBack(t *testing.T) {
	polished := testutil.ResponderFunc(func(ctx context.Context, req models.GenerationRequest) (string, error) {
		if req.Fallback == "" {
			t.Error("expected canned fallback in request")
		}
		return "  Lovely! What budget do you have in mind?  ", nil
	})
	h := newHarness(t, WithResponder(polished))
	expectReply(t, h.start(models.FlowBrowseCar, "I want a Honda", nil), "Lovely! What budget do you have in mind?")

	failing := testutil.ResponderFunc(func(ctx context.Context, req models.GenerationRequest) (string, error) {
		return "", errors.New("boom")
	})
	h = newHarness(t, WithResponder(failing))
	expectReply(t, h.start(models.FlowBrowseCar, "I want a Honda", nil), "What's your budget range?")
}
