package timer

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benchroom/benchroom/internal/metrics"
	"github.com/benchroom/benchroom/pkg/log"
)

// Registry owns the live timer set for the process. All reads are
// served from memory; every mutation is written through to the Store.
type Registry struct {
	mu       sync.Mutex
	timers   map[string]*Timer
	deferred map[string]pending
	store    Store
	now      func() time.Time
	defaults map[Type]time.Duration
}

type pending struct {
	typ      Type
	duration time.Duration
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithDefaults overrides the per-type durations used when Start is
// called without an explicit duration.
func WithDefaults(initial, project time.Duration) Option {
	return func(r *Registry) {
		if initial > 0 {
			r.defaults[TypeInitial] = initial
		}
		if project > 0 {
			r.defaults[TypeProject] = project
		}
	}
}

// NewRegistry loads persisted timers from store. Expired timers are
// dropped unless their interview has already started.
func NewRegistry(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		timers:   make(map[string]*Timer),
		deferred: make(map[string]pending),
		store:    store,
		now:      time.Now,
		defaults: map[Type]time.Duration{
			TypeInitial: DefaultInitialDuration,
			TypeProject: DefaultProjectDuration,
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	now := r.now()
	for id, t := range loaded {
		if t.Expired(now) && !t.InterviewStarted {
			r.forget(ctx, id)
			continue
		}
		r.timers[id] = t
	}

	log.Info("loaded timers", "count", len(r.timers), "pruned", len(loaded)-len(r.timers))

	return r, nil
}

// Start begins a timer for an instance. A live timer of the same type
// is returned unchanged. Anything else is replaced, keeping the phase
// flags of the previous record.
func (r *Registry) Start(ctx context.Context, instanceID string, typ Type, duration time.Duration) (*Status, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if t, ok := r.timers[instanceID]; ok && t.Type == typ && !t.Expired(now) {
		return r.status(t, now, "Timer already running"), nil
	}

	t := r.start(ctx, instanceID, typ, duration)
	return r.status(t, now, "Timer started"), nil
}

// Reset replaces the instance's timer unconditionally, keeping flags.
func (r *Registry) Reset(ctx context.Context, instanceID string, typ Type, duration time.Duration) (*Status, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.start(ctx, instanceID, typ, duration)
	return r.status(t, r.now(), "Timer reset"), nil
}

// Defer records a timer start that could not be completed. The next
// Status call for the instance retries it.
func (r *Registry) Defer(instanceID string, typ Type, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.deferred[instanceID] = pending{typ: typ, duration: duration}
}

// Status reports the timer state for an instance. Unknown instances
// are reported as not started rather than as an error.
func (r *Registry) Status(ctx context.Context, instanceID string) *Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()

	if p, ok := r.deferred[instanceID]; ok {
		if _, exists := r.timers[instanceID]; !exists {
			log.Info("retrying deferred timer start", "instance_id", instanceID, "timer_type", p.typ)
			r.start(ctx, instanceID, p.typ, p.duration)
		}
		delete(r.deferred, instanceID)
	}

	t, ok := r.timers[instanceID]
	if !ok {
		return &Status{
			InstanceID: instanceID,
			Message:    "Timer not started",
		}
	}

	if t.Expired(now) {
		s := r.status(t, now, "Timer expired")
		s.TimerStarted = false
		s.Expired = true
		if !t.InterviewStarted {
			r.forget(ctx, instanceID)
		}
		return s
	}

	return r.status(t, now, "Timer running")
}

// MarkInterviewStarted sets the interviewStarted flag, creating an
// initial timer if the instance has none.
func (r *Registry) MarkInterviewStarted(ctx context.Context, instanceID string) (*Status, error) {
	return r.mark(ctx, instanceID, TypeInitial, func(t *Timer) { t.InterviewStarted = true })
}

// MarkFinalInterviewStarted sets the finalInterviewStarted flag,
// creating a project timer if the instance has none.
func (r *Registry) MarkFinalInterviewStarted(ctx context.Context, instanceID string) (*Status, error) {
	return r.mark(ctx, instanceID, TypeProject, func(t *Timer) { t.FinalInterviewStarted = true })
}

func (r *Registry) mark(ctx context.Context, instanceID string, typ Type, set func(*Timer)) (*Status, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.timers[instanceID]
	if !ok {
		t = r.start(ctx, instanceID, typ, 0)
	}

	set(t)
	r.persist(ctx, t)

	return r.status(t, r.now(), "Interview marked started"), nil
}

// List returns the live timers ordered by instance ID.
func (r *Registry) List(_ context.Context) []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]Summary, 0, len(r.timers))
	for id, t := range r.timers {
		if t.Expired(now) {
			continue
		}
		out = append(out, Summary{
			InstanceID:    id,
			TimeRemaining: t.Remaining(now).Milliseconds(),
			EndTime:       t.EndTime.UnixMilli(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })

	return out
}

// Remove drops the timer for an instance, regardless of its flags.
func (r *Registry) Remove(ctx context.Context, instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.deferred, instanceID)
	if _, ok := r.timers[instanceID]; ok {
		r.forget(ctx, instanceID)
	}
}

// Sweep prunes expired timers whose interview never started and
// returns how many were removed.
func (r *Registry) Sweep(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	pruned := 0
	for id, t := range r.timers {
		if t.Expired(now) && !t.InterviewStarted {
			r.forget(ctx, id)
			pruned++
		}
	}
	return pruned
}

// start must be called with r.mu held.
func (r *Registry) start(ctx context.Context, instanceID string, typ Type, duration time.Duration) *Timer {
	if duration <= 0 {
		duration = r.defaults[typ]
		if duration <= 0 {
			duration = defaultDuration(typ)
		}
	}

	now := r.now()
	t := &Timer{
		InstanceID: instanceID,
		StartedAt:  now,
		EndTime:    now.Add(duration),
		Type:       typ,
	}
	if prev, ok := r.timers[instanceID]; ok {
		t.InterviewStarted = prev.InterviewStarted
		t.FinalInterviewStarted = prev.FinalInterviewStarted
	}

	r.timers[instanceID] = t
	delete(r.deferred, instanceID)
	r.persist(ctx, t)

	metrics.TimersStartedTotal.WithLabelValues(string(typ)).Inc()
	log.Info("timer started", "instance_id", instanceID, "timer_type", typ, "duration", duration)

	return t
}

func (r *Registry) persist(ctx context.Context, t *Timer) {
	if err := r.store.Put(ctx, t); err != nil {
		log.Error("failed to persist timer", "instance_id", t.InstanceID, "error", err)
	}
}

func (r *Registry) forget(ctx context.Context, instanceID string) {
	delete(r.timers, instanceID)
	metrics.TimersPrunedTotal.Inc()
	if err := r.store.Delete(ctx, instanceID); err != nil {
		log.Error("failed to delete timer", "instance_id", instanceID, "error", err)
	}
}

func (r *Registry) status(t *Timer, now time.Time, msg string) *Status {
	return &Status{
		TimerStarted:          true,
		EndTime:               t.EndTime.UnixMilli(),
		InstanceID:            t.InstanceID,
		InterviewStarted:      t.InterviewStarted,
		FinalInterviewStarted: t.FinalInterviewStarted,
		TimerType:             t.Type,
		TimeRemaining:         t.Remaining(now).Milliseconds(),
		Message:               msg,
	}
}
