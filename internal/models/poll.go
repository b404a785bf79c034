package models

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"github.com/mr-tron/base58"
)

const (
	MaxDescriptionLen   = 200
	MaxCandidateNameLen = 32
	IdentityLen         = 32
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	ErrPollNotFound           = fmt.Errorf("poll is %w", ErrNotFound)
	ErrCandidateNotFound      = fmt.Errorf("candidate is %w", ErrNotFound)
	ErrPollAlreadyExists      = fmt.Errorf("poll %w", ErrAlreadyExists)
	ErrCandidateAlreadyExists = fmt.Errorf("candidate %w", ErrAlreadyExists)
	ErrAlreadyVoted           = fmt.Errorf("your vote %w", ErrAlreadyExists)

	ErrPollNotStarted       = errors.New("the poll has not started yet")
	ErrPollEnded            = errors.New("the poll has already ended")
	ErrDescriptionTooLong   = fmt.Errorf("description is longer than %d bytes", MaxDescriptionLen)
	ErrInvalidCandidateName = fmt.Errorf("candidate name must be 1..%d bytes", MaxCandidateNameLen)
	ErrInvalidIdentity      = errors.New("invalid voter identity")
	ErrFailedToProcessData  = errors.New("failed to process data")
)

// Identity is the verified public identity of a caller, as handed over by the host.
type Identity [IdentityLen]byte

// IdentityFromUserID maps a host user id of arbitrary length onto a fixed-size identity.
func IdentityFromUserID(userID string) Identity {
	return Identity(sha256.Sum256([]byte(userID)))
}

func ParseIdentity(s string) (Identity, error) {
	var id Identity
	raw, err := base58.Decode(s)
	if err != nil || len(raw) != IdentityLen {
		return id, ErrInvalidIdentity
	}
	copy(id[:], raw)
	return id, nil
}

func (id Identity) String() string {
	return base58.Encode(id[:])
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Poll counters are only ever moved through the transition methods below.
type Poll struct {
	ID             uint64 `json:"poll_id"`
	Description    string `json:"description"`
	Start          uint64 `json:"poll_start"`
	End            uint64 `json:"poll_end"`
	CandidateCount uint64 `json:"candidate_amount"`
	TotalVotes     uint64 `json:"poll_total_votes"`
}

func NewPoll(id uint64, description string, start, end uint64) *Poll {
	return &Poll{
		ID:          id,
		Description: description,
		Start:       start,
		End:         end,
	}
}

func (p *Poll) RegisterCandidate() {
	p.CandidateCount++
}

func (p *Poll) RecordVote() {
	p.TotalVotes++
}

// CheckWindow reports whether now falls inside the inclusive voting window.
// An inverted window rejects every timestamp.
func (p *Poll) CheckWindow(now uint64) error {
	if now < p.Start {
		return ErrPollNotStarted
	}
	if now > p.End {
		return ErrPollEnded
	}
	return nil
}

func (p *Poll) Tally() Tally {
	return Tally{
		PollID:         p.ID,
		TotalVotes:     p.TotalVotes,
		CandidateCount: p.CandidateCount,
	}
}

type Candidate struct {
	Name      string `json:"candidate_name"`
	VoteCount uint64 `json:"candidate_votes"`
}

func NewCandidate(name string) *Candidate {
	return &Candidate{Name: name}
}

func (c *Candidate) RecordVote() {
	c.VoteCount++
}

// VoteReceipt exists once per (poll, candidate, voter); its presence is the double-vote guard.
type VoteReceipt struct {
	PollID uint64   `json:"poll_id"`
	Voter  Identity `json:"voter"`
}

type Tally struct {
	PollID         uint64 `json:"poll_id"`
	TotalVotes     uint64 `json:"poll_total_votes"`
	CandidateCount uint64 `json:"candidate_amount"`
}

func ValidateDescription(description string) error {
	if len(description) > MaxDescriptionLen {
		return ErrDescriptionTooLong
	}
	return nil
}

func ValidateCandidateName(name string) error {
	if len(name) == 0 || len(name) > MaxCandidateNameLen {
		return ErrInvalidCandidateName
	}
	return nil
}
