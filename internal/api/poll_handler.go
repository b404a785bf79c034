package api

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/google/shlex"
	"github.com/google/uuid"
	"github.com/jaam8/poll_ledger/internal/models"
	"github.com/jaam8/poll_ledger/internal/service"
	"github.com/mattermost/mattermost-server/v6/model"
	"go.uber.org/zap"
	"strconv"
	"strings"
	"time"
)

const (
	COMMAND     = "/poll"
	HelpMessage = "i know only this command:\n" +
		"- `/poll create <poll_id|-> <start> <end> \"description\"`\n" +
		"- `/poll candidate <poll_id> \"name\"`\n" +
		"- `/poll vote <poll_id> \"name\"`\n" +
		"- `/poll count <poll_id>`\n" +
		"- `/poll candidate-votes <poll_id> \"name\"`\n" +
		"- `/poll voted <poll_id> \"name\"`\n" +
		"- `/poll help`\n" +
		"start and end are unix seconds, `now` or an offset from now like `+2h`"
)

var (
	ErrBadArguments = errors.New("wrong arguments, see `/poll help`")
	ErrBadPollID    = errors.New("poll id must be an unsigned number")
	ErrBadTimestamp = errors.New("timestamp must be unix seconds, `now` or `+duration`")
)

// Poster is the part of *model.Client4 the handler talks to.
type Poster interface {
	CreatePost(post *model.Post) (*model.Post, *model.Response, error)
	CreatePostEphemeral(post *model.PostEphemeral) (*model.Post, *model.Response, error)
}

type PollHandler struct {
	s         *service.LedgerService
	l         *zap.Logger
	client    Poster
	channelID string
	clock     service.Clock
}

func New(s *service.LedgerService, l *zap.Logger, client Poster, channelID string, clock service.Clock) *PollHandler {
	return &PollHandler{
		s:         s,
		l:         l,
		client:    client,
		channelID: channelID,
		clock:     clock,
	}
}

func HandleMessage(ctx context.Context, h *PollHandler, event *model.WebSocketEvent, botID string) {
	raw, ok := event.GetData()["post"].(string)
	if !ok {
		h.l.Error("event has no post")
		return
	}
	post := &model.Post{}
	if err := json.Unmarshal([]byte(raw), post); err != nil {
		h.l.Error("error unmarshalling post", zap.Error(err))
		return
	}
	if post.UserId == botID {
		return
	}
	h.HandlePost(ctx, post)
}

func (h *PollHandler) HandlePost(ctx context.Context, post *model.Post) {
	fields := strings.Fields(post.Message)
	if len(fields) == 0 || fields[0] != COMMAND {
		return
	}
	args, err := splitArgs(post.Message)
	if err != nil {
		h.l.Warn("failed to split command", zap.String("message", post.Message), zap.Error(err))
		h.reply(post, errorMessage(err))
		return
	}
	if len(args) < 2 {
		h.reply(post, HelpMessage)
		return
	}
	l := h.l.With(zap.String("request_id", uuid.NewString()))
	l.Info("new request for the bot",
		zap.String("command", args[0]),
		zap.String("subcommand", args[1]),
		zap.String("user_id", post.UserId),
		zap.String("channel_id", post.ChannelId),
		zap.String("message", post.Message))

	voter := models.IdentityFromUserID(post.UserId)
	var msg string
	switch args[1] {
	case "create":
		msg, err = h.CreatePoll(ctx, args[2:])
	case "candidate":
		msg, err = h.InitializeCandidate(ctx, args[2:])
	case "vote":
		msg, err = h.Vote(ctx, args[2:], voter)
	case "count":
		msg, err = h.CountPollVotes(ctx, args[2:])
	case "candidate-votes":
		msg, err = h.CandidateVotes(ctx, args[2:])
	case "voted":
		msg, err = h.HasVoted(ctx, args[2:], voter)
	default:
		h.reply(post, HelpMessage)
		return
	}
	if err != nil {
		text := errorMessage(err)
		if text == "" {
			l.Error("failed to handle command", zap.String("subcommand", args[1]), zap.Error(err))
			text = "something went wrong"
		} else {
			l.Warn("command rejected", zap.String("subcommand", args[1]), zap.Error(err))
		}
		h.reply(post, text)
		return
	}
	if args[1] == "vote" || args[1] == "voted" {
		h.reply(post, msg)
		return
	}
	if err = h.SendMsg(msg); err != nil {
		l.Error("failed sending message", zap.Error(err))
	}
}

func (h *PollHandler) CreatePoll(ctx context.Context, args []string) (string, error) {
	if len(args) != 4 {
		return "", ErrBadArguments
	}
	pollID, err := h.pollIDOrNew(args[0])
	if err != nil {
		return "", err
	}
	start, err := h.parseTimestamp(args[1])
	if err != nil {
		return "", err
	}
	end, err := h.parseTimestamp(args[2])
	if err != nil {
		return "", err
	}
	poll, err := h.s.InitializePoll(ctx, pollID, args[3], start, end)
	if err != nil {
		return "", fmt.Errorf("handler: failed to create poll: %w", err)
	}
	return fmt.Sprintf("**Poll ID**: %d\n**Question**: %s\n**Open**: from %s to %s\n",
		poll.ID, poll.Description, formatUnix(poll.Start), formatUnix(poll.End)), nil
}

func (h *PollHandler) InitializeCandidate(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "", ErrBadArguments
	}
	pollID, err := parsePollID(args[0])
	if err != nil {
		return "", err
	}
	candidate, err := h.s.InitializeCandidate(ctx, pollID, args[1])
	if err != nil {
		return "", fmt.Errorf("handler: failed to register candidate: %w", err)
	}
	return fmt.Sprintf("poll %d: candidate *%s* registered", pollID, candidate.Name), nil
}

func (h *PollHandler) Vote(ctx context.Context, args []string, voter models.Identity) (string, error) {
	if len(args) != 2 {
		return "", ErrBadArguments
	}
	pollID, err := parsePollID(args[0])
	if err != nil {
		return "", err
	}
	if _, err = h.s.Vote(ctx, pollID, args[1], voter); err != nil {
		return "", fmt.Errorf("handler: failed to vote: %w", err)
	}
	return "your vote successfully written", nil
}

func (h *PollHandler) CountPollVotes(ctx context.Context, args []string) (string, error) {
	if len(args) != 1 {
		return "", ErrBadArguments
	}
	pollID, err := parsePollID(args[0])
	if err != nil {
		return "", err
	}
	tally, err := h.s.CountPollVotes(ctx, pollID)
	if err != nil {
		return "", fmt.Errorf("handler: failed to count votes: %w", err)
	}
	return fmt.Sprintf("**Poll ID**: %d\n**Total votes**: %d\n**Candidates**: %d\n",
		tally.PollID, tally.TotalVotes, tally.CandidateCount), nil
}

func (h *PollHandler) CandidateVotes(ctx context.Context, args []string) (string, error) {
	if len(args) != 2 {
		return "", ErrBadArguments
	}
	pollID, err := parsePollID(args[0])
	if err != nil {
		return "", err
	}
	candidate, err := h.s.GetCandidate(ctx, pollID, args[1])
	if err != nil {
		return "", fmt.Errorf("handler: failed to get candidate: %w", err)
	}
	return fmt.Sprintf("poll %d: *%s* has **%d** votes", pollID, candidate.Name, candidate.VoteCount), nil
}

func (h *PollHandler) HasVoted(ctx context.Context, args []string, voter models.Identity) (string, error) {
	if len(args) != 2 {
		return "", ErrBadArguments
	}
	pollID, err := parsePollID(args[0])
	if err != nil {
		return "", err
	}
	voted, err := h.s.HasVoted(ctx, pollID, args[1], voter)
	if err != nil {
		return "", fmt.Errorf("handler: failed to check vote: %w", err)
	}
	if voted {
		return fmt.Sprintf("you have voted for *%s* in poll %d", args[1], pollID), nil
	}
	return fmt.Sprintf("you have not voted for *%s* in poll %d", args[1], pollID), nil
}

func (h *PollHandler) SendMsg(message string) error {
	post := &model.Post{
		ChannelId: h.channelID,
		Message:   message,
	}
	_, resp, err := h.client.CreatePost(post)
	if err != nil {
		return err
	}
	if resp != nil {
		h.l.Debug("send new message",
			zap.String("channel_id", post.ChannelId),
			zap.Int("status_code", resp.StatusCode))
	}
	return nil
}

func (h *PollHandler) reply(post *model.Post, message string) {
	_, _, err := h.client.CreatePostEphemeral(&model.PostEphemeral{
		UserID: post.UserId,
		Post:   &model.Post{ChannelId: post.ChannelId, Message: message},
	})
	if err != nil {
		h.l.Error("failed sending ephemeral message", zap.Error(err))
	}
}

func (h *PollHandler) pollIDOrNew(arg string) (uint64, error) {
	if arg != "-" {
		return parsePollID(arg)
	}
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8]), nil
}

func (h *PollHandler) parseTimestamp(arg string) (uint64, error) {
	switch {
	case arg == "now":
		return h.clock.Now(), nil
	case strings.HasPrefix(arg, "+"):
		d, err := time.ParseDuration(arg[1:])
		if err != nil || d < 0 {
			return 0, ErrBadTimestamp
		}
		return h.clock.Now() + uint64(d/time.Second), nil
	default:
		ts, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			return 0, ErrBadTimestamp
		}
		return ts, nil
	}
}

func parsePollID(arg string) (uint64, error) {
	id, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, ErrBadPollID
	}
	return id, nil
}

var userErrors = []error{
	models.ErrPollNotFound,
	models.ErrCandidateNotFound,
	models.ErrPollAlreadyExists,
	models.ErrCandidateAlreadyExists,
	models.ErrAlreadyVoted,
	models.ErrPollNotStarted,
	models.ErrPollEnded,
	models.ErrDescriptionTooLong,
	models.ErrInvalidCandidateName,
	ErrBadArguments,
	ErrBadPollID,
	ErrBadTimestamp,
}

// errorMessage returns the text shown to the user, or "" for unexpected failures.
func errorMessage(err error) string {
	for _, target := range userErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return ""
}

// maxFormattedUnix is 9999-12-31 23:59:59 UTC, the last second the layout can print.
const maxFormattedUnix = 253402300799

func formatUnix(ts uint64) string {
	if ts > maxFormattedUnix {
		return strconv.FormatUint(ts, 10)
	}
	return time.Unix(int64(ts), 0).UTC().Format("2006-01-02 15:04:05")
}

// splitArgs splits a command line the way a shell would, so names and
// descriptions can be quoted and quotes escaped inside them.
func splitArgs(message string) ([]string, error) {
	args, err := shlex.Split(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadArguments, err)
	}
	return args, nil
}
