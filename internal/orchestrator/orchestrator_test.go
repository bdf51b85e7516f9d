package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/admission"
	"github.com/shayanmanesh/create/internal/inference"
	"github.com/shayanmanesh/create/internal/payments"
	"github.com/shayanmanesh/create/internal/pricing"
	"github.com/shayanmanesh/create/internal/storage"
	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/internal/store/memory"
	"github.com/shayanmanesh/create/internal/testutil"
	"github.com/shayanmanesh/create/pkg/creation"
)

const createPath = "/api/creations/create"

type env struct {
	orch    *Orchestrator
	store   *memory.Store
	ledger  *payments.MemoryLedger
	backend *inference.Fake
	objects *storage.MemoryStore
	clock   *testutil.FakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	return newEnvCfg(t, Config{
		Workers:       2,
		QueueSize:     8,
		SubmitWait:    time.Second,
		MaxProcessing: time.Minute,
		SweepEvery:    time.Hour,
		ShareBaseURL:  "https://create.ai",
	})
}

func newEnvCfg(t *testing.T, cfg Config) *env {
	t.Helper()
	clock := testutil.NewFakeClock(time.Unix(1_700_000_000, 0))

	matcher, err := admission.NewMatcher([]admission.PathRule{
		{Prefix: createPath, Zone: admission.Zone{Name: "create", Rate: 0.1667, Burst: 5}},
	}, nil)
	if err != nil {
		t.Fatalf("matcher: %v", err)
	}
	buckets := admission.NewMemoryBuckets(admission.WithClock(clock))
	controller := admission.NewController(matcher, buckets)

	engine := pricing.NewEngine(pricing.Config{
		BasePrices: map[string]float64{"free": 0.99, "pro": 0.99},
	})
	e := &env{
		store:   memory.New(memory.WithClock(clock)),
		ledger:  payments.NewMemoryLedger(),
		backend: inference.NewFake(),
		objects: storage.NewMemoryStore("https://create.ai/artifacts"),
		clock:   clock,
	}
	e.orch = New(cfg, controller, engine, e.ledger, e.store, e.backend, e.objects, zap.NewNop(),
		WithClock(clock.Now))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.orch.Shutdown(ctx)
	})
	return e
}

func textRequest(owner string) SubmitRequest {
	return SubmitRequest{
		Owner:     owner,
		Tier:      "free",
		ClientKey: owner,
		Path:      createPath,
		Spec: creation.Spec{
			InputType:    creation.InputText,
			CreationType: "general",
			TextInput:    "make a video about space",
		},
	}
}

func (e *env) waitTerminal(t *testing.T, id string) creation.Job {
	t.Helper()
	var job creation.Job
	testutil.Eventually(t, 3*time.Second, 10*time.Millisecond, func() bool {
		got, err := e.store.Get(context.Background(), id)
		if err != nil {
			return false
		}
		job = got
		return job.Status.Terminal()
	}, "job never reached a terminal status")
	return job
}

func TestSubmitHappyPath(t *testing.T) {
	e := newEnv(t)
	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != creation.StatusQueued {
		t.Fatalf("fresh job status: %s", job.Status)
	}
	if job.PriceCharged != 0.99 || job.SurgeActive {
		t.Fatalf("price capture wrong: %+v", job)
	}
	if len(job.ShareLinks) != 4 {
		t.Fatalf("want 4 share links, got %d", len(job.ShareLinks))
	}
	if charge, ok := e.ledger.Charged(job.ID); !ok || charge.Amount != 0.99 {
		t.Fatalf("charge not recorded: %+v ok=%v", charge, ok)
	}

	done := e.waitTerminal(t, job.ID)
	if done.Status != creation.StatusCompleted {
		t.Fatalf("want completed, got %s (%s)", done.Status, done.FailureReason)
	}
	if done.ResultReference == "" {
		t.Fatal("completed job has no result reference")
	}
	if done.Attempt != 1 {
		t.Fatalf("want 1 attempt, got %d", done.Attempt)
	}
	if e.objects.Len() == 0 {
		t.Fatal("no artifacts uploaded")
	}
	// queued(1) -> processing(2) -> completed(3)
	if done.Version != 3 {
		t.Fatalf("want version 3, got %d", done.Version)
	}
}

func TestValidationConsumesNoToken(t *testing.T) {
	e := newEnv(t)
	bad := textRequest("alice")
	bad.Spec.TextInput = ""

	// Far more invalid submissions than the burst allows.
	for i := 0; i < 20; i++ {
		_, err := e.orch.Submit(context.Background(), bad)
		var verr *creation.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("want validation error, got %v", err)
		}
	}
	if _, err := e.orch.Submit(context.Background(), textRequest("alice")); err != nil {
		t.Fatalf("valid request rejected after invalid ones: %v", err)
	}
	if e.store.Len() != 1 {
		t.Fatalf("invalid submissions persisted jobs: %d", e.store.Len())
	}
}

func TestSubmitRateLimited(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 5; i++ {
		if _, err := e.orch.Submit(context.Background(), textRequest("alice")); err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
	}
	_, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if !errors.Is(err, admission.ErrRateLimited) {
		t.Fatalf("want ErrRateLimited, got %v", err)
	}
	// The rejected request left no job and no charge behind.
	if e.store.Len() != 5 {
		t.Fatalf("want 5 jobs, got %d", e.store.Len())
	}
	if e.ledger.Total() != 5*99 {
		t.Fatalf("want 495 cents charged, got %d", e.ledger.Total())
	}
}

func TestSubmitPaymentDeclined(t *testing.T) {
	e := newEnv(t)
	e.ledger.DeclineFn = func(payments.Charge) error { return payments.ErrDeclined }

	_, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if !errors.Is(err, payments.ErrDeclined) {
		t.Fatalf("want ErrDeclined, got %v", err)
	}
	if e.store.Len() != 0 {
		t.Fatal("declined charge still persisted a job")
	}
}

func TestQueueFullLeavesNoJobOrCharge(t *testing.T) {
	e := newEnvCfg(t, Config{
		Workers:       1,
		QueueSize:     1,
		SubmitWait:    50 * time.Millisecond,
		MaxProcessing: time.Minute,
		SweepEvery:    time.Hour,
		ShareBaseURL:  "https://create.ai",
	})
	e.backend.Delay = 300 * time.Millisecond

	// One job on the worker, one waiting in the queue.
	first, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	second, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}

	_, err = e.orch.Submit(context.Background(), textRequest("alice"))
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("want ErrQueueFull, got %v", err)
	}
	// The rejection happened before the charge and the store write.
	if e.store.Len() != 2 {
		t.Fatalf("rejected submission persisted a job: %d jobs", e.store.Len())
	}
	if e.ledger.Total() != 2*99 {
		t.Fatalf("rejected submission was charged: %d cents", e.ledger.Total())
	}

	// The accepted jobs still run to completion.
	for _, id := range []string{first.ID, second.ID} {
		done := e.waitTerminal(t, id)
		if done.Status != creation.StatusCompleted {
			t.Fatalf("job %s: want completed, got %s (%s)", id, done.Status, done.FailureReason)
		}
	}
}

func TestTransientFailureRetriesOnce(t *testing.T) {
	e := newEnv(t)
	e.backend.FailNext(&inference.BackendError{Transient: true, Op: "call", Err: errors.New("gateway hiccup")})

	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatal(err)
	}
	done := e.waitTerminal(t, job.ID)
	if done.Status != creation.StatusCompleted {
		t.Fatalf("retry did not recover: %s (%s)", done.Status, done.FailureReason)
	}
	if done.Attempt != 2 {
		t.Fatalf("want attempt 2, got %d", done.Attempt)
	}
	if e.backend.Calls() != 2 {
		t.Fatalf("want 2 backend calls, got %d", e.backend.Calls())
	}
}

func TestTransientFailureExhaustsAfterOneRetry(t *testing.T) {
	e := newEnv(t)
	boom := &inference.BackendError{Transient: true, Op: "call", Err: errors.New("still down")}
	e.backend.FailNext(boom, boom)

	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatal(err)
	}
	done := e.waitTerminal(t, job.ID)
	if done.Status != creation.StatusFailed {
		t.Fatalf("want failed, got %s", done.Status)
	}
	if done.FailureReason != creation.ReasonRetryExhausted {
		t.Fatalf("want retry_exhausted, got %s", done.FailureReason)
	}
	if e.backend.Calls() != 2 {
		t.Fatalf("want exactly 2 backend calls, got %d", e.backend.Calls())
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	e := newEnv(t)
	e.backend.FailNext(&inference.BackendError{Op: "process", Err: errors.New("unsupported input")})

	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatal(err)
	}
	done := e.waitTerminal(t, job.ID)
	if done.FailureReason != creation.ReasonBackendRejected {
		t.Fatalf("want backend_rejected, got %s", done.FailureReason)
	}
	if e.backend.Calls() != 1 {
		t.Fatalf("permanent failure retried: %d calls", e.backend.Calls())
	}
}

func TestWatchdogWinsOverSlowWorker(t *testing.T) {
	e := newEnv(t)
	e.backend.Delay = 300 * time.Millisecond

	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatal(err)
	}
	testutil.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool {
		got, err := e.store.Get(context.Background(), job.ID)
		return err == nil && got.Status == creation.StatusProcessing
	}, "job never started processing")

	// Push fake time past the processing limit and sweep.
	e.clock.Advance(2 * time.Minute)
	e.orch.sweep()

	got, err := e.store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != creation.StatusFailed || got.FailureReason != creation.ReasonTimeout {
		t.Fatalf("watchdog did not time out the job: %s (%s)", got.Status, got.FailureReason)
	}

	// The worker finishes later; its completion must lose the version race
	// and leave the timeout verdict intact.
	time.Sleep(500 * time.Millisecond)
	final, err := e.store.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != creation.StatusFailed || final.FailureReason != creation.ReasonTimeout {
		t.Fatalf("late worker overwrote the timeout: %s (%s)", final.Status, final.FailureReason)
	}
	if final.Version != got.Version {
		t.Fatalf("terminal snapshot rewritten: version %d -> %d", got.Version, final.Version)
	}
}

func TestIdempotencyKeyReturnsExistingJob(t *testing.T) {
	e := newEnv(t)
	req := textRequest("alice")
	req.Spec.IdempotencyKey = "retry-123"

	first, err := e.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if first.ID != second.ID {
		t.Fatalf("idempotent resubmit created a new job: %s vs %s", first.ID, second.ID)
	}
	if e.store.Len() != 1 {
		t.Fatalf("want 1 job, got %d", e.store.Len())
	}
	if e.ledger.Total() != 99 {
		t.Fatalf("resubmit double charged: %d cents", e.ledger.Total())
	}
}

func TestGetEnforcesOwnership(t *testing.T) {
	e := newEnv(t)
	job, err := e.orch.Submit(context.Background(), textRequest("alice"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.orch.Get(context.Background(), job.ID, "alice"); err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if _, err := e.orch.Get(context.Background(), job.ID, "bob"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("cross-owner read: want ErrNotFound, got %v", err)
	}
	if _, err := e.orch.Get(context.Background(), "missing", "alice"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown id: want ErrNotFound, got %v", err)
	}
}
