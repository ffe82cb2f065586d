package flow

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"likegate/pkg/models"
)

const DefaultBroadcastTTL = 10 * time.Minute

var (
	ErrBroadcastNotFound = errors.New("broadcast not found or expired")
	ErrNotInitiator      = errors.New("only the initiator can resolve this broadcast")
	ErrEmptyMessage      = errors.New("broadcast message is empty")
)

// Verifier is the slice of verification tracking the completion flow needs.
type Verifier interface {
	IsVerified(id models.Identity) bool
	MarkVerified(ctx context.Context, id models.Identity) error
}

// PendingBroadcast lives only in memory and is gone after confirm, cancel, expiry or restart.
type PendingBroadcast struct {
	Token     string          `json:"token"`
	Initiator models.Identity `json:"initiator"`
	Message   string          `json:"message"`
	State     string          `json:"state"`
	CreatedAt time.Time       `json:"created_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

type Config struct {
	BroadcastTTL time.Duration
	Now          func() time.Time
	NewToken     func() string
}

// Controller drives the follow-up button flows.
type Controller struct {
	verifier Verifier
	ttl      time.Duration
	now      func() time.Time
	newToken func() string

	mu      sync.Mutex
	pending map[string]*PendingBroadcast
}

func NewController(v Verifier, cfg Config) *Controller {
	if cfg.BroadcastTTL <= 0 {
		cfg.BroadcastTTL = DefaultBroadcastTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewToken == nil {
		cfg.NewToken = uuid.NewString
	}
	return &Controller{
		verifier: v,
		ttl:      cfg.BroadcastTTL,
		now:      cfg.Now,
		newToken: cfg.NewToken,
		pending:  map[string]*PendingBroadcast{},
	}
}

// CompleteVerification handles the user's "I'm done" press. The claim is trusted; nothing
// outside the chat is checked. It reports whether the user was already verified.
func (c *Controller) CompleteVerification(ctx context.Context, user models.Identity) (bool, error) {
	if c.verifier.IsVerified(user) {
		return true, nil
	}
	state, err := Next(VerifyStarted, EventRequestComplete)
	if err != nil {
		return false, err
	}
	if err := c.verifier.MarkVerified(ctx, user); err != nil {
		return false, err
	}
	if _, err := Next(state, EventCompleteVerified); err != nil {
		return false, err
	}
	return false, nil
}

// ProposeBroadcast records a pending broadcast and returns it with its token.
func (c *Controller) ProposeBroadcast(initiator models.Identity, message string) (PendingBroadcast, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return PendingBroadcast{}, ErrEmptyMessage
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked(now)
	p := &PendingBroadcast{
		Token:     c.newToken(),
		Initiator: initiator,
		Message:   message,
		State:     Proposed,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.pending[p.Token] = p
	return *p, nil
}

// ConfirmBroadcast resolves the broadcast and hands back the message for delivery.
func (c *Controller) ConfirmBroadcast(token string, actor models.Identity) (PendingBroadcast, error) {
	return c.resolve(token, actor, EventConfirm)
}

// CancelBroadcast discards the broadcast without delivery.
func (c *Controller) CancelBroadcast(token string, actor models.Identity) (PendingBroadcast, error) {
	return c.resolve(token, actor, EventCancel)
}

func (c *Controller) resolve(token string, actor models.Identity, event Event) (PendingBroadcast, error) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[token]
	if !ok {
		return PendingBroadcast{}, ErrBroadcastNotFound
	}
	if IsExpired(now, p.ExpiresAt) {
		p.State, _ = Next(p.State, EventExpire)
		delete(c.pending, token)
		return PendingBroadcast{}, ErrBroadcastNotFound
	}
	if p.Initiator != actor {
		return PendingBroadcast{}, ErrNotInitiator
	}
	next, err := Next(p.State, event)
	if err != nil {
		return PendingBroadcast{}, err
	}
	p.State = next
	delete(c.pending, token)
	return *p, nil
}

// Sweep drops expired broadcasts and returns how many were removed.
func (c *Controller) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(now)
}

func (c *Controller) sweepLocked(now time.Time) int {
	removed := 0
	for token, p := range c.pending {
		if IsExpired(now, p.ExpiresAt) {
			delete(c.pending, token)
			removed++
		}
	}
	return removed
}

// Pending is the number of unresolved broadcasts.
func (c *Controller) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
