package history

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benchroom/benchroom/internal/kv"
	"github.com/pkg/errors"
)

// Store persists chat logs keyed by instance ID. Put always receives
// the full log for the instance.
type Store interface {
	Load(ctx context.Context) (map[string][]Entry, error)
	Put(ctx context.Context, instanceID string, entries []Entry) error
}

const keyPrefix = "history:"

// BadgerStore keeps chat logs in an embedded badger database.
type BadgerStore struct {
	db *kv.DB
}

func NewBadgerStore(db *kv.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (s *BadgerStore) Load(_ context.Context) (map[string][]Entry, error) {
	logs := make(map[string][]Entry)

	err := s.db.Scan([]byte(keyPrefix), func(id string, value []byte) error {
		var entries []Entry
		if err := json.Unmarshal(value, &entries); err != nil {
			return errors.Wrapf(err, "decode history %s", id)
		}
		logs[id] = entries
		return nil
	})
	if err != nil {
		return nil, err
	}

	return logs, nil
}

func (s *BadgerStore) Put(_ context.Context, instanceID string, entries []Entry) error {
	return s.db.Put(kv.Key(keyPrefix, instanceID), entries)
}

// MemoryStore is a Store that never touches disk.
type MemoryStore struct {
	mu   sync.Mutex
	logs map[string][]Entry

	// Err, when set, is returned from every write.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string][]Entry)}
}

func (s *MemoryStore) Load(_ context.Context) (map[string][]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]Entry, len(s.logs))
	for id, entries := range s.logs {
		out[id] = append([]Entry(nil), entries...)
	}
	return out, nil
}

func (s *MemoryStore) Put(_ context.Context, instanceID string, entries []Entry) error {
	if s.Err != nil {
		return s.Err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[instanceID] = append([]Entry(nil), entries...)
	return nil
}
