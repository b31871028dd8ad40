package timer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benchroom/benchroom/internal/kv"
	"github.com/pkg/errors"
)

// Store persists timer records keyed by instance ID.
type Store interface {
	Load(ctx context.Context) (map[string]*Timer, error)
	Put(ctx context.Context, t *Timer) error
	Delete(ctx context.Context, instanceID string) error
}

const keyPrefix = "timer:"

// BadgerStore keeps timers in an embedded badger database.
type BadgerStore struct {
	db *kv.DB
}

func NewBadgerStore(db *kv.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Load(_ context.Context) (map[string]*Timer, error) {
	timers := make(map[string]*Timer)

	err := s.db.Scan([]byte(keyPrefix), func(id string, value []byte) error {
		t := new(Timer)
		if err := json.Unmarshal(value, t); err != nil {
			return errors.Wrapf(err, "decode timer %s", id)
		}
		if t.InstanceID == "" {
			t.InstanceID = id
		}
		timers[id] = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	return timers, nil
}

func (s *BadgerStore) Put(_ context.Context, t *Timer) error {
	return s.db.Put(kv.Key(keyPrefix, t.InstanceID), t)
}

func (s *BadgerStore) Delete(_ context.Context, instanceID string) error {
	return s.db.Delete(kv.Key(keyPrefix, instanceID))
}

// MemoryStore is a Store that never touches disk.
type MemoryStore struct {
	mu     sync.Mutex
	timers map[string]Timer

	// Err, when set, is returned from every write.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{timers: make(map[string]Timer)}
}

func (s *MemoryStore) Load(_ context.Context) (map[string]*Timer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Timer, len(s.timers))
	for id, t := range s.timers {
		t := t
		out[id] = &t
	}
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, t *Timer) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers[t.InstanceID] = *t
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, instanceID string) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.timers, instanceID)
	return nil
}
