package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"likegate/pkg/models"
)

type fakeVerifier struct {
	mu       sync.Mutex
	verified map[models.Identity]bool
	marks    int
	err      error
}

func (f *fakeVerifier) IsVerified(id models.Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.verified[id]
}

func (f *fakeVerifier) MarkVerified(ctx context.Context, id models.Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.verified == nil {
		f.verified = map[models.Identity]bool{}
	}
	f.verified[id] = true
	f.marks++
	return nil
}

func TestCompleteVerification(t *testing.T) {
	v := &fakeVerifier{}
	c := NewController(v, Config{})
	already, err := c.CompleteVerification(context.Background(), 42)
	if err != nil || already {
		t.Fatalf("first completion = %v, %v", already, err)
	}
	already, err = c.CompleteVerification(context.Background(), 42)
	if err != nil || !already {
		t.Fatalf("second completion = %v, %v", already, err)
	}
	if v.marks != 1 {
		t.Fatalf("expected one mark, got %d", v.marks)
	}

	v.err = errors.New("disk full")
	if _, err := c.CompleteVerification(context.Background(), 43); err == nil {
		t.Fatal("expected persistence error to surface")
	}
}

func TestBroadcastConfirm(t *testing.T) {
	c := NewController(&fakeVerifier{}, Config{})
	p, err := c.ProposeBroadcast(1, "  hello all  ")
	if err != nil {
		t.Fatalf("propose: %v", err)
	}
	if p.Token == "" || p.Message != "hello all" || p.State != Proposed {
		t.Fatalf("unexpected pending %+v", p)
	}
	if c.Pending() != 1 {
		t.Fatalf("expected one pending, got %d", c.Pending())
	}
	if _, err := c.ConfirmBroadcast(p.Token, 2); !errors.Is(err, ErrNotInitiator) {
		t.Fatalf("expected ErrNotInitiator, got %v", err)
	}
	got, err := c.ConfirmBroadcast(p.Token, 1)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.State != Confirmed || got.Message != "hello all" {
		t.Fatalf("unexpected confirmed %+v", got)
	}
	if c.Pending() != 0 {
		t.Fatal("confirmed broadcast must be discarded")
	}
	if _, err := c.CancelBroadcast(p.Token, 1); !errors.Is(err, ErrBroadcastNotFound) {
		t.Fatalf("expected ErrBroadcastNotFound after confirm, got %v", err)
	}
}

func TestBroadcastCancel(t *testing.T) {
	c := NewController(&fakeVerifier{}, Config{})
	p, _ := c.ProposeBroadcast(1, "msg")
	got, err := c.CancelBroadcast(p.Token, 1)
	if err != nil || got.State != Cancelled {
		t.Fatalf("cancel = %+v, %v", got, err)
	}
	if _, err := c.ConfirmBroadcast(p.Token, 1); !errors.Is(err, ErrBroadcastNotFound) {
		t.Fatalf("expected not found after cancel, got %v", err)
	}
}

func TestProposeRejectsEmptyMessage(t *testing.T) {
	c := NewController(&fakeVerifier{}, Config{})
	if _, err := c.ProposeBroadcast(1, "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}

func TestBroadcastExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
	n := 0
	c := NewController(&fakeVerifier{}, Config{
		BroadcastTTL: time.Minute,
		Now:          clock,
		NewToken: func() string {
			n++
			return fmt.Sprintf("tok-%d", n)
		},
	})
	stale, _ := c.ProposeBroadcast(1, "old")
	advance(2 * time.Minute)
	if _, err := c.ConfirmBroadcast(stale.Token, 1); !errors.Is(err, ErrBroadcastNotFound) {
		t.Fatalf("expected expired broadcast to be not found, got %v", err)
	}

	c.ProposeBroadcast(1, "a")
	advance(2 * time.Minute)
	// proposing sweeps what expired before it
	fresh, _ := c.ProposeBroadcast(1, "b")
	if c.Pending() != 1 {
		t.Fatalf("expected sweep on propose, pending=%d", c.Pending())
	}
	advance(2 * time.Minute)
	if removed := c.Sweep(); removed != 1 {
		t.Fatalf("expected sweep to remove 1, got %d", removed)
	}
	if _, err := c.CancelBroadcast(fresh.Token, 1); !errors.Is(err, ErrBroadcastNotFound) {
		t.Fatalf("expected swept broadcast gone, got %v", err)
	}
}

func TestConcurrentConfirmResolvesOnce(t *testing.T) {
	c := NewController(&fakeVerifier{}, Config{})
	p, _ := c.ProposeBroadcast(1, "once")
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.ConfirmBroadcast(p.Token, 1); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if oks != 1 {
		t.Fatalf("expected exactly one successful confirm, got %d", oks)
	}
}
