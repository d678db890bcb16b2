package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CarSherpa/internal/api"
	"github.com/BTreeMap/CarSherpa/internal/circuitbreaker"
	"github.com/BTreeMap/CarSherpa/internal/conversation"
	"github.com/BTreeMap/CarSherpa/internal/dispatcher"
	"github.com/BTreeMap/CarSherpa/internal/flow"
	"github.com/BTreeMap/CarSherpa/internal/genai"
	"github.com/BTreeMap/CarSherpa/internal/lockfile"
	"github.com/BTreeMap/CarSherpa/internal/messaging"
	"github.com/BTreeMap/CarSherpa/internal/models"
	"github.com/BTreeMap/CarSherpa/internal/scheduler"
	"github.com/BTreeMap/CarSherpa/internal/store"
	"github.com/BTreeMap/CarSherpa/internal/twiliowhatsapp"
	"github.com/BTreeMap/CarSherpa/internal/whatsapp"
	"golang.org/x/sync/errgroup"
)

// backend is the set of storage capabilities the process runs on. dedup is always set;
// the others are nil for the in-memory backend.
type backend struct {
	cars      models.CarStore
	dedup     store.DedupRepo
	outbox    store.OutboxRepo
	persister conversation.Persister
	inbound   store.InboundPruner
	snapshots store.ConversationPruner
	close     func() error
}

func openBackend(flags Flags) (*backend, error) {
	if flags.InMemory {
		mem := store.NewInMemoryStore(store.SampleInventory)
		slog.Info("Using in-memory store with the sample inventory")
		return &backend{cars: mem, dedup: mem, inbound: mem, close: func() error { return nil }}, nil
	}

	driver, opts := buildStoreOptions(flags)
	var (
		st  store.Store
		err error
	)
	switch driver {
	case store.DriverPostgres:
		st, err = store.NewPostgresStore(opts...)
	default:
		st, err = store.NewSQLiteStore(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", driver, err)
	}
	b := &backend{cars: st, dedup: st, outbox: st, inbound: st, close: st.Close}
	if flags.PersistConversations {
		b.persister = st
		b.snapshots = st
	}
	return b, nil
}

// housekeeping registers the retention jobs the backend supports.
func housekeeping(be *backend, snapshotTTL time.Duration) (*scheduler.Scheduler, error) {
	if snapshotTTL <= 0 {
		snapshotTTL = conversation.DefaultSnapshotTTL
	}
	sched := scheduler.NewScheduler()
	if be.inbound != nil {
		err := sched.Every("prune-inbound", DefaultPruneInterval, func(ctx context.Context) error {
			n, err := be.inbound.PruneInbound(ctx, time.Now().Add(-DefaultDedupRetention))
			if err == nil && n > 0 {
				slog.Info("Pruned dedup records", "count", n)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	if be.snapshots != nil {
		err := sched.Every("prune-conversations", DefaultPruneInterval, func(ctx context.Context) error {
			n, err := be.snapshots.PruneConversations(ctx, time.Now().Add(-snapshotTTL))
			if err == nil && n > 0 {
				slog.Info("Pruned conversation snapshots", "count", n)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// collaborators builds the language model helpers, or nothing without an API key.
func collaborators(flags Flags) (models.Extractor, models.Responder, models.IntentClassifier) {
	if flags.OpenAIKey == "" {
		slog.Info("No OpenAI API key configured, running on keyword matching only")
		return nil, nil, nil
	}
	breaker := circuitbreaker.New(circuitbreaker.WithName("openai"))
	client, err := genai.NewClient(append(buildGenAIOptions(flags), genai.WithBreaker(breaker))...)
	if err != nil {
		slog.Warn("GenAI client unavailable, running on keyword matching only", "error", err)
		return nil, nil, nil
	}
	return genai.NewAnalyzer(client), genai.NewResponder(client), genai.NewIntentClassifier(client)
}

// transport is the messaging service plus the webhook emitter feeding it, if any.
type transport struct {
	service messaging.Service
	apiOpts []api.Option
}

func openTransport(ctx context.Context, flags Flags) (*transport, error) {
	switch flags.Provider {
	case ProviderTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		var validator *twiliowhatsapp.SignatureValidator
		if flags.TwilioAuthToken != "" {
			validator = twiliowhatsapp.NewSignatureValidator(flags.TwilioAuthToken)
		}
		return &transport{service: svc, apiOpts: []api.Option{api.WithTwilioWebhook(svc, validator, flags.TwilioWebhookURL)}}, nil

	case ProviderCloud:
		svc, err := messaging.NewCloudService(
			messaging.WithAccessToken(flags.MetaAccessToken),
			messaging.WithPhoneNumberID(flags.MetaPhoneNumberID),
		)
		if err != nil {
			return nil, fmt.Errorf("create Cloud API service: %w", err)
		}
		if flags.MetaAppSecret == "" {
			slog.Warn("META_APP_SECRET not set, webhook signatures will not be checked")
		}
		return &transport{service: svc, apiOpts: []api.Option{api.WithCloudWebhook(svc, flags.MetaVerifyToken, flags.MetaAppSecret)}}, nil

	default:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return nil, fmt.Errorf("create WhatsApp client: %w", err)
		}
		return &transport{service: messaging.NewWhatsAppService(client)}, nil
	}
}

// run wires every module and blocks until ctx is cancelled.
func run(ctx context.Context, flags Flags) (err error) {
	lock, err := lockfile.Acquire(flags.StateDir)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, lock.Release()) }()

	be, err := openBackend(flags)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := be.close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close store: %w", cerr))
		}
	}()

	var convOpts []conversation.Option
	if be.persister != nil {
		convOpts = append(convOpts, conversation.WithPersister(be.persister))
	}
	if flags.ConversationTTL > 0 {
		convOpts = append(convOpts, conversation.WithSnapshotTTL(flags.ConversationTTL))
	}
	conversations := conversation.NewStore(convOpts...)
	if _, err := conversations.Restore(ctx); err != nil {
		slog.Warn("Starting with empty conversations", "error", err)
	}

	extractor, responder, classifier := collaborators(flags)
	refs := flow.NewReferenceCache(be.cars)
	flowOpts := []flow.Option{flow.WithReferenceCache(refs)}
	dispOpts := buildDispatcherOptions(flags)
	if extractor != nil {
		flowOpts = append(flowOpts, flow.WithExtractor(extractor), flow.WithResponder(responder))
		dispOpts = append(dispOpts, dispatcher.WithClassifier(classifier), dispatcher.WithResponder(responder))
	}
	flows := flow.NewRegistry(be.cars, flowOpts...)
	disp := dispatcher.New(conversations, flows, dispOpts...)

	tr, err := openTransport(ctx, flags)
	if err != nil {
		return err
	}
	if err := tr.service.Start(ctx); err != nil {
		return fmt.Errorf("start messaging service: %w", err)
	}

	rhOpts := []messaging.ResponseHandlerOption{messaging.WithDedup(be.dedup)}
	if be.outbox != nil {
		rhOpts = append(rhOpts, messaging.WithOutbox(be.outbox))
	}
	handler := messaging.NewResponseHandler(tr.service, disp, rhOpts...)
	handler.Start(ctx)

	apiOpts := append(buildAPIOptions(flags), tr.apiOpts...)
	if flags.AdminJWTSecret != "" {
		apiOpts = append(apiOpts, api.WithAdmin(flags.AdminJWTSecret, conversations, refs))
	}
	server := api.NewServer(apiOpts...)

	sched, err := housekeeping(be, flags.ConversationTTL)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error {
		sched.Run(gctx)
		return nil
	})
	if be.outbox != nil {
		sender := store.NewOutboxSender(be.outbox, func(ctx context.Context, msg store.OutboxMessage) error {
			return tr.service.SendMessage(ctx, msg.UserID, msg.Body)
		})
		if err := sender.RecoverStaleMessages(ctx); err != nil {
			slog.Warn("Outbox recovery failed", "error", err)
		}
		g.Go(func() error {
			sender.Run(gctx)
			return nil
		})
	}
	slog.Info("CarSherpa running", "provider", flags.Provider, "persist_conversations", be.persister != nil, "genai", extractor != nil)

	runErr := g.Wait()
	if stopErr := tr.service.Stop(); stopErr != nil {
		slog.Error("Failed to stop messaging service", "error", stopErr)
	}
	handler.Wait()
	return runErr
}
