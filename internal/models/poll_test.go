package models

import (
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func TestPollCheckWindow(t *testing.T) {
	p := NewPoll(1, "colors", 100, 200)

	assert.ErrorIs(t, p.CheckWindow(99), ErrPollNotStarted)
	assert.NoError(t, p.CheckWindow(100))
	assert.NoError(t, p.CheckWindow(150))
	assert.NoError(t, p.CheckWindow(200))
	assert.ErrorIs(t, p.CheckWindow(201), ErrPollEnded)
}

func TestPollInvertedWindowIsUnvotable(t *testing.T) {
	p := NewPoll(1, "inverted", 200, 100)

	for _, now := range []uint64{0, 99, 100, 150, 200, 201, 1 << 40} {
		err := p.CheckWindow(now)
		require.Error(t, err, "now=%d", now)
		assert.True(t, errors.Is(err, ErrPollNotStarted) || errors.Is(err, ErrPollEnded))
	}
}

func TestPollCounters(t *testing.T) {
	p := NewPoll(7, "", 0, 10)
	p.RegisterCandidate()
	p.RegisterCandidate()
	p.RecordVote()

	assert.Equal(t, Tally{PollID: 7, TotalVotes: 1, CandidateCount: 2}, p.Tally())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrPollNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrCandidateNotFound, ErrNotFound)
	assert.ErrorIs(t, ErrPollAlreadyExists, ErrAlreadyExists)
	assert.ErrorIs(t, ErrCandidateAlreadyExists, ErrAlreadyExists)
	assert.ErrorIs(t, ErrAlreadyVoted, ErrAlreadyExists)
	assert.NotErrorIs(t, ErrPollEnded, ErrNotFound)
}

func TestValidation(t *testing.T) {
	assert.NoError(t, ValidateDescription(strings.Repeat("d", MaxDescriptionLen)))
	assert.ErrorIs(t, ValidateDescription(strings.Repeat("d", MaxDescriptionLen+1)), ErrDescriptionTooLong)

	assert.NoError(t, ValidateCandidateName(strings.Repeat("n", MaxCandidateNameLen)))
	assert.ErrorIs(t, ValidateCandidateName(""), ErrInvalidCandidateName)
	assert.ErrorIs(t, ValidateCandidateName(strings.Repeat("n", MaxCandidateNameLen+1)), ErrInvalidCandidateName)
}

func TestIdentityText(t *testing.T) {
	id := IdentityFromUserID("user-a")
	assert.NotEqual(t, id, IdentityFromUserID("user-b"))

	parsed, err := ParseIdentity(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseIdentity("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidIdentity)

	receipt := VoteReceipt{PollID: 3, Voter: id}
	raw, err := json.Marshal(receipt)
	require.NoError(t, err)
	assert.Contains(t, string(raw), id.String())

	var decoded VoteReceipt
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, receipt, decoded)
}
