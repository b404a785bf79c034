package service

import (
	"context"
	"errors"
	"fmt"
	"github.com/jaam8/poll_ledger/internal/models"
	"github.com/jaam8/poll_ledger/internal/repository"
	"go.uber.org/zap"
	"time"
)

// Clock is the host wall clock in Unix seconds.
type Clock interface {
	Now() uint64
}

type SystemClock struct{}

func (SystemClock) Now() uint64 {
	return uint64(time.Now().Unix())
}

type ClockFunc func() uint64

func (f ClockFunc) Now() uint64 {
	return f()
}

type LedgerService struct {
	r     *repository.LedgerRepository
	clock Clock
	l     *zap.Logger
}

func New(r *repository.LedgerRepository, clock Clock, l *zap.Logger) *LedgerService {
	return &LedgerService{
		r:     r,
		clock: clock,
		l:     l,
	}
}

// InitializePoll creates a poll with zeroed counters. An inverted window is
// stored as given and leaves the poll permanently unvotable.
func (s *LedgerService) InitializePoll(ctx context.Context, pollID uint64, description string, start, end uint64) (*models.Poll, error) {
	if err := models.ValidateDescription(description); err != nil {
		return nil, err
	}
	if start > end {
		s.l.Warn("poll window is inverted, no vote will ever be accepted",
			zap.Uint64("poll_id", pollID),
			zap.Uint64("poll_start", start),
			zap.Uint64("poll_end", end))
	}
	poll := models.NewPoll(pollID, description, start, end)
	if err := s.r.CreatePoll(ctx, poll); err != nil {
		return nil, s.fail("failed to create poll", err, zap.Uint64("poll_id", pollID))
	}
	s.l.Info("poll initialized",
		zap.Uint64("poll_id", pollID),
		zap.Uint64("poll_start", start),
		zap.Uint64("poll_end", end))
	return poll, nil
}

func (s *LedgerService) InitializeCandidate(ctx context.Context, pollID uint64, name string) (*models.Candidate, error) {
	if err := models.ValidateCandidateName(name); err != nil {
		return nil, err
	}
	if _, err := s.r.GetPoll(ctx, pollID); err != nil {
		return nil, s.fail("failed to read poll", err, zap.Uint64("poll_id", pollID))
	}
	candidate := models.NewCandidate(name)
	poll, err := s.r.RegisterCandidate(ctx, pollID, candidate)
	if err != nil {
		return nil, s.fail("failed to register candidate", err,
			zap.Uint64("poll_id", pollID),
			zap.String("candidate", name))
	}
	s.l.Info("candidate registered",
		zap.Uint64("poll_id", pollID),
		zap.String("candidate", name),
		zap.Uint64("candidate_amount", poll.CandidateCount))
	return candidate, nil
}

// Vote records one vote. The receipt and both counter increments commit
// together, so a rejected or interrupted vote leaves the ledger untouched.
func (s *LedgerService) Vote(ctx context.Context, pollID uint64, name string, voter models.Identity) (*models.VoteReceipt, error) {
	fields := []zap.Field{
		zap.Uint64("poll_id", pollID),
		zap.String("candidate", name),
		zap.Stringer("voter", voter),
	}
	poll, err := s.r.GetPoll(ctx, pollID)
	if err != nil {
		return nil, s.fail("failed to read poll", err, fields...)
	}
	if _, err = s.readCandidate(ctx, pollID, name); err != nil {
		return nil, s.fail("failed to read candidate", err, fields...)
	}
	now := s.clock.Now()
	if err = poll.CheckWindow(now); err != nil {
		return nil, s.fail("vote outside of poll window", err, append(fields, zap.Uint64("now", now))...)
	}

	receipt := &models.VoteReceipt{PollID: pollID, Voter: voter}
	candidate, poll, err := s.r.RecordVote(ctx, name, receipt)
	if err != nil {
		return nil, s.fail("failed to record vote", err, fields...)
	}
	s.l.Info("voted successfully", append(fields,
		zap.Uint64("candidate_votes", candidate.VoteCount),
		zap.Uint64("poll_total_votes", poll.TotalVotes))...)
	return receipt, nil
}

func (s *LedgerService) CountPollVotes(ctx context.Context, pollID uint64) (models.Tally, error) {
	poll, err := s.GetPoll(ctx, pollID)
	if err != nil {
		return models.Tally{}, err
	}
	tally := poll.Tally()
	s.l.Debug("poll tally",
		zap.Uint64("poll_id", tally.PollID),
		zap.Uint64("poll_total_votes", tally.TotalVotes),
		zap.Uint64("candidate_amount", tally.CandidateCount))
	return tally, nil
}

func (s *LedgerService) GetPoll(ctx context.Context, pollID uint64) (*models.Poll, error) {
	poll, err := s.r.GetPoll(ctx, pollID)
	if err != nil {
		return nil, s.fail("failed to read poll", err, zap.Uint64("poll_id", pollID))
	}
	return poll, nil
}

func (s *LedgerService) GetCandidate(ctx context.Context, pollID uint64, name string) (*models.Candidate, error) {
	candidate, err := s.readCandidate(ctx, pollID, name)
	if err != nil {
		return nil, s.fail("failed to read candidate", err,
			zap.Uint64("poll_id", pollID),
			zap.String("candidate", name))
	}
	return candidate, nil
}

func (s *LedgerService) HasVoted(ctx context.Context, pollID uint64, name string, voter models.Identity) (bool, error) {
	if models.ValidateCandidateName(name) != nil {
		return false, nil
	}
	_, err := s.r.GetReceipt(ctx, pollID, name, voter)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		return false, nil
	default:
		s.l.Error("failed to read vote receipt", zap.Error(err))
		return false, fmt.Errorf("service: failed to read vote receipt: %w", err)
	}
}

// readCandidate treats names that could never have been registered as missing.
func (s *LedgerService) readCandidate(ctx context.Context, pollID uint64, name string) (*models.Candidate, error) {
	if models.ValidateCandidateName(name) != nil {
		return nil, models.ErrCandidateNotFound
	}
	return s.r.GetCandidate(ctx, pollID, name)
}

// fail passes ledger rule violations through untouched and wraps anything else.
func (s *LedgerService) fail(msg string, err error, fields ...zap.Field) error {
	if isRuleViolation(err) {
		s.l.Warn(msg, append(fields, zap.Error(err))...)
		return err
	}
	s.l.Error(msg, append(fields, zap.Error(err))...)
	return fmt.Errorf("service: %s: %w", msg, err)
}

func isRuleViolation(err error) bool {
	switch {
	case errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrAlreadyExists),
		errors.Is(err, models.ErrPollNotStarted),
		errors.Is(err, models.ErrPollEnded):
		return true
	default:
		return false
	}
}
