package repository

import (
	"context"
	"github.com/jaam8/poll_ledger/internal/address"
)

// Store is the keyed storage the ledger runs on. Create is an atomic
// insert-if-absent. Commit applies a guarded batch all-or-nothing: either the
// guard is created and every mutation lands, or nothing is written.
// Implementations report models.ErrAlreadyExists and models.ErrNotFound.
type Store interface {
	Create(ctx context.Context, addr address.Address, value []byte) error
	Read(ctx context.Context, addr address.Address) ([]byte, error)
	Commit(ctx context.Context, guard *Entry, mutations ...Mutation) error
}

// Entry is a value to be created at an address that must not exist yet.
type Entry struct {
	Addr  address.Address
	Value []byte
}

// Mutation rewrites the value at an existing address.
type Mutation struct {
	Addr address.Address
	Fn   UpdateFunc
}

// UpdateFunc gets the current value and returns the replacement. Returning an
// error aborts the whole commit with nothing written.
type UpdateFunc func(current []byte) ([]byte, error)

// pendingWrite is one address' value after every mutation aimed at it.
type pendingWrite struct {
	addr    address.Address
	value   []byte
	version uint64
}

// applyMutations runs the mutations in order against values fetched through
// get, folding repeated addresses into one write that keeps the version seen
// on first read.
func applyMutations(mutations []Mutation, get func(address.Address) ([]byte, uint64, error)) ([]*pendingWrite, error) {
	var (
		writes []*pendingWrite
		byAddr = make(map[address.Address]*pendingWrite, len(mutations))
	)
	for _, m := range mutations {
		w, ok := byAddr[m.Addr]
		if !ok {
			value, version, err := get(m.Addr)
			if err != nil {
				return nil, err
			}
			w = &pendingWrite{addr: m.Addr, value: value, version: version}
			byAddr[m.Addr] = w
			writes = append(writes, w)
		}
		next, err := m.Fn(clone(w.value))
		if err != nil {
			return nil, err
		}
		w.value = clone(next)
	}
	return writes, nil
}
