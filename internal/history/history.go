package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benchroom/benchroom/pkg/log"
)

// History is the process-local cache of every instance's chat log,
// written through to a Store on each append.
type History struct {
	mu    sync.RWMutex
	logs  map[string][]Entry
	store Store
	now   func() time.Time
}

type Option func(*History)

// WithClock overrides the time source used to stamp entries.
func WithClock(now func() time.Time) Option {
	return func(h *History) { h.now = now }
}

// New loads all persisted logs from store.
func New(ctx context.Context, store Store, opts ...Option) (*History, error) {
	h := &History{
		logs:  make(map[string][]Entry),
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}

	for id, entries := range loaded {
		for i := range entries {
			entries[i] = normalize(entries[i])
		}
		h.logs[id] = entries
	}

	log.Info("loaded chat histories", "count", len(h.logs))

	return h, nil
}

// Append adds e to the end of the instance's log and returns a copy of
// the updated log. An entry identical in role, kind and content to the
// last one is treated as a client retry and not stored again.
func (h *History) Append(ctx context.Context, instanceID string, e Entry) ([]Entry, error) {
	if instanceID == "" {
		return nil, ErrMissingInstanceID
	}

	if e.Kind == "" {
		e = normalize(e)
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	entries := h.logs[instanceID]
	if n := len(entries); n > 0 && duplicate(entries[n-1], e) {
		log.Debug("skipping duplicate chat entry", "instance_id", instanceID, "role", e.Role)
		return clone(entries), nil
	}

	entries = append(entries, e)
	h.logs[instanceID] = entries

	if err := h.store.Put(ctx, instanceID, entries); err != nil {
		log.Error("failed to persist chat history", "instance_id", instanceID, "error", err)
	}

	return clone(entries), nil
}

// AppendMarker records a phase change for the instance.
func (h *History) AppendMarker(ctx context.Context, instanceID, phase string) ([]Entry, error) {
	if phase == "" {
		return nil, ErrEmptyMarker
	}
	return h.Append(ctx, instanceID, Marker(phase))
}

// Get returns a copy of the instance's log, empty if none exists.
func (h *History) Get(_ context.Context, instanceID string) []Entry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return clone(h.logs[instanceID])
}

// Instances lists every instance with a log, sorted.
func (h *History) Instances() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.logs))
	for id := range h.logs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func duplicate(a, b Entry) bool {
	return a.Kind == b.Kind && a.Role == b.Role && a.Content == b.Content
}

func clone(entries []Entry) []Entry {
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
