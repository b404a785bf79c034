package repository

import (
	"context"
	"fmt"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/models"
	"sync"
)

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[address.Address][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[address.Address][]byte),
	}
}

func (s *MemoryStore) Create(_ context.Context, addr address.Address, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[addr]; ok {
		return models.ErrAlreadyExists
	}
	s.entries[addr] = clone(value)
	return nil
}

func (s *MemoryStore) Read(_ context.Context, addr address.Address) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[addr]
	if !ok {
		return nil, models.ErrNotFound
	}
	return clone(v), nil
}

// Commit holds the write lock for the whole batch, so readers see either none
// or all of it.
func (s *MemoryStore) Commit(ctx context.Context, guard *Entry, mutations ...Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if guard != nil {
		if _, ok := s.entries[guard.Addr]; ok {
			return models.ErrAlreadyExists
		}
	}
	writes, err := applyMutations(mutations, func(addr address.Address) ([]byte, uint64, error) {
		v, ok := s.entries[addr]
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s", models.ErrNotFound, addr)
		}
		return v, 0, nil
	})
	if err != nil {
		return err
	}
	if guard != nil {
		s.entries[guard.Addr] = clone(guard.Value)
	}
	for _, w := range writes {
		s.entries[w.addr] = w.value
	}
	return nil
}

// Snapshot copies every entry; used to compare whole-ledger state.
func (s *MemoryStore) Snapshot() map[address.Address][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[address.Address][]byte, len(s.entries))
	for k, v := range s.entries {
		out[k] = clone(v)
	}
	return out
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
