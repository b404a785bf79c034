package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/models"
	"go.uber.org/zap"
)

// LedgerRepository maps poll entities onto derived addresses of a Store.
type LedgerRepository struct {
	store   Store
	deriver *address.Deriver
	l       *zap.Logger
}

func New(store Store, deriver *address.Deriver, l *zap.Logger) *LedgerRepository {
	return &LedgerRepository{
		store:   store,
		deriver: deriver,
		l:       l,
	}
}

func (r *LedgerRepository) PollAddress(pollID uint64) (address.Address, error) {
	addr, _, err := r.deriver.Poll(pollID)
	if err != nil {
		return address.Address{}, fmt.Errorf("repository: derive poll address: %w", err)
	}
	return addr, nil
}

func (r *LedgerRepository) CandidateAddress(pollID uint64, name string) (address.Address, error) {
	addr, _, err := r.deriver.Candidate(pollID, name)
	if err != nil {
		return address.Address{}, fmt.Errorf("repository: derive candidate address: %w", err)
	}
	return addr, nil
}

func (r *LedgerRepository) ReceiptAddress(pollID uint64, name string, voter models.Identity) (address.Address, error) {
	addr, _, err := r.deriver.Receipt(pollID, name, voter[:])
	if err != nil {
		return address.Address{}, fmt.Errorf("repository: derive receipt address: %w", err)
	}
	return addr, nil
}

func (r *LedgerRepository) CreatePoll(ctx context.Context, poll *models.Poll) error {
	addr, err := r.PollAddress(poll.ID)
	if err != nil {
		return err
	}
	r.l.Debug("creating poll", zap.Stringer("address", addr), zap.Any("poll", poll))
	return r.create(ctx, addr, poll, models.ErrPollAlreadyExists)
}

func (r *LedgerRepository) GetPoll(ctx context.Context, pollID uint64) (*models.Poll, error) {
	addr, err := r.PollAddress(pollID)
	if err != nil {
		return nil, err
	}
	poll := &models.Poll{}
	if err = r.read(ctx, addr, poll, models.ErrPollNotFound); err != nil {
		return nil, err
	}
	return poll, nil
}

// RegisterCandidate creates the candidate and bumps the poll's candidate
// count in one commit.
func (r *LedgerRepository) RegisterCandidate(ctx context.Context, pollID uint64, candidate *models.Candidate) (*models.Poll, error) {
	pollAddr, err := r.PollAddress(pollID)
	if err != nil {
		return nil, err
	}
	addr, err := r.CandidateAddress(pollID, candidate.Name)
	if err != nil {
		return nil, err
	}
	guard, err := entry(addr, candidate)
	if err != nil {
		return nil, err
	}
	r.l.Debug("registering candidate",
		zap.Uint64("poll_id", pollID),
		zap.Stringer("address", addr),
		zap.String("name", candidate.Name))
	poll := &models.Poll{}
	err = r.store.Commit(ctx, guard, jsonMutation(pollAddr, poll, (*models.Poll).RegisterCandidate))
	switch {
	case errors.Is(err, models.ErrAlreadyExists):
		return nil, models.ErrCandidateAlreadyExists
	case errors.Is(err, models.ErrNotFound):
		return nil, models.ErrPollNotFound
	case err != nil:
		return nil, err
	}
	return poll, nil
}

func (r *LedgerRepository) GetCandidate(ctx context.Context, pollID uint64, name string) (*models.Candidate, error) {
	addr, err := r.CandidateAddress(pollID, name)
	if err != nil {
		return nil, err
	}
	candidate := &models.Candidate{}
	if err = r.read(ctx, addr, candidate, models.ErrCandidateNotFound); err != nil {
		return nil, err
	}
	return candidate, nil
}

// RecordVote is the double-vote guard: the receipt for (poll, candidate,
// voter) is created together with both counter increments, or not at all.
// A receipt that already exists fails with ErrAlreadyVoted.
func (r *LedgerRepository) RecordVote(ctx context.Context, name string, receipt *models.VoteReceipt) (*models.Candidate, *models.Poll, error) {
	pollAddr, err := r.PollAddress(receipt.PollID)
	if err != nil {
		return nil, nil, err
	}
	candidateAddr, err := r.CandidateAddress(receipt.PollID, name)
	if err != nil {
		return nil, nil, err
	}
	addr, err := r.ReceiptAddress(receipt.PollID, name, receipt.Voter)
	if err != nil {
		return nil, nil, err
	}
	guard, err := entry(addr, receipt)
	if err != nil {
		return nil, nil, err
	}
	r.l.Debug("recording vote",
		zap.Uint64("poll_id", receipt.PollID),
		zap.String("candidate", name),
		zap.Stringer("voter", receipt.Voter),
		zap.Stringer("address", addr))
	var (
		candidate = &models.Candidate{}
		poll      = &models.Poll{}
	)
	err = r.store.Commit(ctx, guard,
		jsonMutation(candidateAddr, candidate, (*models.Candidate).RecordVote),
		jsonMutation(pollAddr, poll, (*models.Poll).RecordVote))
	switch {
	case errors.Is(err, models.ErrAlreadyExists):
		return nil, nil, models.ErrAlreadyVoted
	case errors.Is(err, models.ErrNotFound):
		if _, pollErr := r.GetPoll(ctx, receipt.PollID); pollErr != nil {
			return nil, nil, pollErr
		}
		return nil, nil, models.ErrCandidateNotFound
	case err != nil:
		return nil, nil, err
	}
	return candidate, poll, nil
}

func (r *LedgerRepository) GetReceipt(ctx context.Context, pollID uint64, name string, voter models.Identity) (*models.VoteReceipt, error) {
	addr, err := r.ReceiptAddress(pollID, name, voter)
	if err != nil {
		return nil, err
	}
	receipt := &models.VoteReceipt{}
	if err = r.read(ctx, addr, receipt, models.ErrNotFound); err != nil {
		return nil, err
	}
	return receipt, nil
}

func (r *LedgerRepository) create(ctx context.Context, addr address.Address, v any, exists error) error {
	e, err := entry(addr, v)
	if err != nil {
		r.l.Debug("error marshalling entity", zap.Error(err))
		return err
	}
	if err = r.store.Create(ctx, e.Addr, e.Value); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return exists
		}
		return err
	}
	return nil
}

func (r *LedgerRepository) read(ctx context.Context, addr address.Address, v any, notFound error) error {
	raw, err := r.store.Read(ctx, addr)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			r.l.Debug("entity not found", zap.Stringer("address", addr))
			return notFound
		}
		return err
	}
	if err = json.Unmarshal(raw, v); err != nil {
		r.l.Debug("failed to unmarshal entity", zap.Stringer("address", addr), zap.Error(err))
		return fmt.Errorf("repository: failed to unmarshal entity: %w", models.ErrFailedToProcessData)
	}
	return nil
}

func entry(addr address.Address, v any) (*Entry, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("repository: json marshal error: %w", err)
	}
	return &Entry{Addr: addr, Value: raw}, nil
}

// jsonMutation decodes the entity, applies fn and leaves the result in out.
// out ends up holding the value of the attempt that was committed.
func jsonMutation[T any](addr address.Address, out *T, fn func(*T)) Mutation {
	return Mutation{
		Addr: addr,
		Fn: func(raw []byte) ([]byte, error) {
			var v T
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("repository: failed to unmarshal entity: %w", models.ErrFailedToProcessData)
			}
			fn(&v)
			*out = v
			return json.Marshal(&v)
		},
	}
}
