// Package orchestrator drives creation jobs from submission to a terminal
// status: admission, charging, persistence, worker dispatch and the
// processing-timeout watchdog.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shayanmanesh/create/internal/admission"
	"github.com/shayanmanesh/create/internal/inference"
	"github.com/shayanmanesh/create/internal/payments"
	"github.com/shayanmanesh/create/internal/pricing"
	"github.com/shayanmanesh/create/internal/storage"
	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

// ErrQueueFull rejects a submission when no worker-pool slot frees within
// the submit wait. The rejection happens before the charge and before any
// job is persisted, so the caller simply retries later.
var ErrQueueFull = errors.New("processing queue full")

// Observer receives lifecycle events. All methods may be called from worker
// goroutines.
type Observer interface {
	JobSubmitted()
	JobCompleted(elapsed time.Duration)
	JobFailed(reason creation.FailureReason, elapsed time.Duration)
	QueueDepth(depth int)
}

type nopObserver struct{}

func (nopObserver) JobSubmitted()                                   {}
func (nopObserver) JobCompleted(time.Duration)                      {}
func (nopObserver) JobFailed(creation.FailureReason, time.Duration) {}
func (nopObserver) QueueDepth(int)                                  {}

// Config tunes the orchestrator.
type Config struct {
	// Workers is the number of concurrent generation workers.
	Workers int
	// QueueSize bounds the handoff channel between Submit and the workers.
	QueueSize int
	// SubmitWait bounds how long Submit blocks for a queue slot.
	SubmitWait time.Duration
	// MaxProcessing is how long a job may stay in processing before the
	// watchdog fails it with the timeout reason.
	MaxProcessing time.Duration
	// SweepEvery is the watchdog period.
	SweepEvery time.Duration
	// ShareBaseURL is the public base for share links.
	ShareBaseURL string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.Workers * 4
	}
	if c.SubmitWait <= 0 {
		c.SubmitWait = 2 * time.Second
	}
	if c.MaxProcessing <= 0 {
		c.MaxProcessing = 5 * time.Minute
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 30 * time.Second
	}
	if c.ShareBaseURL == "" {
		c.ShareBaseURL = "https://create.ai"
	}
}

// SubmitRequest carries one creation attempt into Submit.
type SubmitRequest struct {
	Owner     string
	Tier      string
	ClientKey string
	Path      string
	Spec      creation.Spec
}

// Orchestrator owns the job lifecycle.
type Orchestrator struct {
	cfg       Config
	admission *admission.Controller
	pricing   *pricing.Engine
	payments  payments.Processor
	store     store.Store
	backend   inference.Backend
	objects   storage.ObjectStore
	log       *zap.Logger
	observer  Observer

	workCh   chan string
	queue    chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time

	mu       sync.Mutex
	inflight map[string]time.Time
	pending  map[string]creation.Spec
	idemKeys map[string]string
	newID    func() string
}

// Option customizes construction, primarily for tests.
type Option func(*Orchestrator)

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithObserver attaches a lifecycle observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithIDFunc injects the job id generator.
func WithIDFunc(fn func() string) Option {
	return func(o *Orchestrator) { o.newID = fn }
}

// New starts the worker pool and the watchdog.
func New(cfg Config, adm *admission.Controller, eng *pricing.Engine, pay payments.Processor,
	st store.Store, backend inference.Backend, objects storage.ObjectStore, log *zap.Logger, opts ...Option) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:       cfg,
		admission: adm,
		pricing:   eng,
		payments:  pay,
		store:     st,
		backend:   backend,
		objects:   objects,
		log:       log,
		observer:  nopObserver{},
		workCh:    make(chan string, cfg.QueueSize),
		queue:     make(chan struct{}, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
		inflight:  map[string]time.Time{},
		pending:   map[string]creation.Spec{},
		idemKeys:  map[string]string{},
		newID:     creation.NewID,
	}
	for _, opt := range opts {
		opt(o)
	}
	for i := 0; i < cfg.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}
	o.wg.Add(1)
	go o.watchdog()
	return o
}

// Submit validates, admits, charges and persists one creation request, then
// hands the job to the worker pool. The returned snapshot is the queued job
// with its price fixed.
//
// Error order is deliberate: validation failures cost nothing, admission
// rejections consume no charge, a full queue rejects before money moves,
// and a declined charge leaves no job behind.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (creation.Job, error) {
	if err := req.Spec.Validate(); err != nil {
		return creation.Job{}, err
	}
	if key := req.Spec.IdempotencyKey; key != "" {
		if job, ok := o.lookupIdempotent(ctx, req.Owner, key); ok {
			return job, nil
		}
	}
	if err := o.admission.Admit(ctx, req.Path, req.ClientKey); err != nil {
		return creation.Job{}, err
	}
	quote, err := o.pricing.Current(req.Tier)
	if err != nil {
		return creation.Job{}, &creation.ValidationError{Field: "tier", Reason: err.Error()}
	}

	// Reserve a worker-pool slot before the charge so a rejected submission
	// leaves nothing behind. Workers release the slot on pickup, which keeps
	// the send to workCh below from ever blocking.
	timer := time.NewTimer(o.cfg.SubmitWait)
	defer timer.Stop()
	select {
	case o.queue <- struct{}{}:
	case <-timer.C:
		return creation.Job{}, ErrQueueFull
	case <-ctx.Done():
		return creation.Job{}, ctx.Err()
	}

	id := o.newID()
	charge := payments.Charge{JobID: id, Owner: req.Owner, Tier: req.Tier, Amount: quote.Price}
	if err := o.payments.Charge(ctx, charge); err != nil {
		o.releaseSlot()
		return creation.Job{}, fmt.Errorf("charge %.2f for job %s: %w", quote.Price, id, err)
	}

	now := o.now()
	job := creation.Job{
		ID:           id,
		Owner:        req.Owner,
		CreationType: req.Spec.CreationType,
		InputType:    req.Spec.InputType,
		Status:       creation.StatusQueued,
		PriceCharged: quote.Price,
		SurgeActive:  quote.SurgeActive,
		CreatedAt:    now,
		ShareLinks:   creation.ShareLinks(o.cfg.ShareBaseURL, id),
	}
	if err := o.store.Create(ctx, job); err != nil {
		o.releaseSlot()
		return creation.Job{}, fmt.Errorf("persist job %s: %w", id, err)
	}
	o.rememberSpec(id, req.Spec)
	if key := req.Spec.IdempotencyKey; key != "" {
		o.rememberIdempotent(req.Owner, key, id)
	}
	o.observer.JobSubmitted()
	o.workCh <- id
	o.observer.QueueDepth(len(o.workCh))
	return job, nil
}

func (o *Orchestrator) releaseSlot() {
	<-o.queue
}

// Get returns the job snapshot when it belongs to owner. Unknown ids and
// other owners' jobs are both ErrNotFound; the API never reveals which.
func (o *Orchestrator) Get(ctx context.Context, id, owner string) (creation.Job, error) {
	job, err := o.store.Get(ctx, id)
	if err != nil {
		return creation.Job{}, err
	}
	if job.Owner != owner {
		return creation.Job{}, store.ErrNotFound
	}
	return job, nil
}

// List returns the owner's jobs, newest first.
func (o *Orchestrator) List(ctx context.Context, owner string, offset, limit int) ([]creation.Job, error) {
	return o.store.ListByOwner(ctx, owner, offset, limit)
}

// Shutdown stops accepting work and waits for workers to drain.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.cancel()
	})
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) lookupIdempotent(ctx context.Context, owner, key string) (creation.Job, bool) {
	o.mu.Lock()
	id, ok := o.idemKeys[owner+"\x00"+key]
	o.mu.Unlock()
	if !ok {
		return creation.Job{}, false
	}
	job, err := o.store.Get(ctx, id)
	if err != nil || job.Owner != owner {
		return creation.Job{}, false
	}
	return job, true
}

func (o *Orchestrator) rememberIdempotent(owner, key, id string) {
	o.mu.Lock()
	o.idemKeys[owner+"\x00"+key] = id
	o.mu.Unlock()
}
