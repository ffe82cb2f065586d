package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"likegate/pkg/models"
)

type memBackend struct {
	mu      sync.Mutex
	data    []byte
	saves   int
	saveErr error
	loadErr error
}

func (m *memBackend) Load(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]byte(nil), m.data...), nil
}

func (m *memBackend) Save(ctx context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data = append([]byte(nil), data...)
	return nil
}

func kathmandu(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kathmandu")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func TestOpenMissingSnapshotIsEmpty(t *testing.T) {
	s, err := Open(context.Background(), NewFileBackend(filepath.Join(t.TempDir(), "missing.json")), nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s.View(func(st *State) {
		if len(st.Users) != 0 || len(st.Groups) != 0 {
			t.Fatalf("expected empty state, got %d users %d groups", len(st.Users), len(st.Groups))
		}
	})
}

func TestOpenRejectsCorruptSnapshot(t *testing.T) {
	b := &memBackend{data: []byte("{not json")}
	if _, err := Open(context.Background(), b, nil); err == nil {
		t.Fatal("expected decode error")
	}
	b = &memBackend{loadErr: errors.New("disk gone")}
	if _, err := Open(context.Background(), b, nil); err == nil {
		t.Fatal("expected load error")
	}
}

func TestSnapshotRoundTripFieldForField(t *testing.T) {
	loc := kathmandu(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(ctx, NewFileBackend(path), loc)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	verifiedAt := time.Date(2025, 1, 31, 10, 0, 0, 0, loc)
	addedAt := time.Date(2025, 1, 30, 8, 30, 0, 0, loc)
	limit := 5
	err = s.Update(ctx, func(st *State) (bool, error) {
		u := st.User(42)
		u.Verified = true
		u.VerifiedAt = &verifiedAt
		u.LimitOverride = &limit
		u.Usage["2025-01-30"] = 2
		u.Usage["2025-01-31"] = 1
		st.Groups[-1001234] = models.GroupRecord{ID: -1001234, Title: "Squad", AddedAt: addedAt}
		return true, nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	reloaded, err := Open(ctx, NewFileBackend(path), loc)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	u, ok := reloaded.UserSnapshot(42)
	if !ok {
		t.Fatal("expected user 42 after reload")
	}
	if !u.Verified || u.VerifiedAt == nil || !u.VerifiedAt.Equal(verifiedAt) {
		t.Fatalf("verification mismatch: %+v", u)
	}
	if u.LimitOverride == nil || *u.LimitOverride != 5 {
		t.Fatalf("limit mismatch: %+v", u.LimitOverride)
	}
	if len(u.Usage) != 2 || u.Usage["2025-01-30"] != 2 || u.Usage["2025-01-31"] != 1 {
		t.Fatalf("usage mismatch: %+v", u.Usage)
	}
	reloaded.View(func(st *State) {
		g, ok := st.Groups[-1001234]
		if !ok {
			t.Fatal("expected group after reload")
		}
		if g.ID != -1001234 || g.Title != "Squad" || !g.AddedAt.Equal(addedAt) {
			t.Fatalf("group mismatch: %+v", g)
		}
	})
}

func TestDecodeLegacySnapshot(t *testing.T) {
	loc := kathmandu(t)
	legacy := `{
	  "user_limits": {"7": 3},
	  "user_usage": {"7": {"2024-05-01": 1}},
	  "user_verification": {"7": {"verified": true, "verified_date": "2024-05-01 09:15:00"}},
	  "allowed_groups": {"100555": {"title": "Old", "added_date": "2024-04-30 20:00:00"}}
	}`
	st, err := Decode([]byte(legacy), loc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	u := st.Users[7]
	if u == nil || !u.Verified || u.VerifiedAt == nil {
		t.Fatalf("expected verified legacy user, got %+v", u)
	}
	if want := time.Date(2024, 5, 1, 9, 15, 0, 0, loc); !u.VerifiedAt.Equal(want) {
		t.Fatalf("verified_at = %v, want %v", u.VerifiedAt, want)
	}
	g, ok := st.Groups[-100555]
	if !ok || g.Title != "Old" {
		t.Fatalf("expected legacy group keyed by negative id, got %+v", st.Groups)
	}
}

func TestDecodeRejectsNegativeValues(t *testing.T) {
	if _, err := Decode([]byte(`{"user_limits":{"1":-1}}`), time.UTC); err == nil {
		t.Fatal("expected negative limit error")
	}
	if _, err := Decode([]byte(`{"user_usage":{"1":{"2024-01-01":-2}}}`), time.UTC); err == nil {
		t.Fatal("expected negative usage error")
	}
	if _, err := Decode([]byte(`{"user_limits":{"abc":1}}`), time.UTC); err == nil {
		t.Fatal("expected bad key error")
	}
}

func TestUpdatePersistenceFailureKeepsMutationAndRetries(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{}
	s, err := Open(ctx, b, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b.saveErr = errors.New("disk full")
	err = s.Update(ctx, func(st *State) (bool, error) {
		st.User(9).Usage["2025-02-01"]++
		return true, nil
	})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if !s.Dirty() {
		t.Fatal("expected store to be dirty after failed sync")
	}
	u, _ := s.UserSnapshot(9)
	if u.Usage["2025-02-01"] != 1 {
		t.Fatalf("mutation should stay applied in memory, got %+v", u.Usage)
	}

	b.saveErr = nil
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if s.Dirty() {
		t.Fatal("expected clean store after flush")
	}
	if !strings.Contains(string(b.data), "2025-02-01") {
		t.Fatalf("expected flushed snapshot to contain usage, got %s", b.data)
	}
}

func TestUpdateSkipsSyncWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{}
	s, err := Open(ctx, b, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Update(ctx, func(st *State) (bool, error) { return false, nil }); err != nil {
		t.Fatalf("update: %v", err)
	}
	if b.saves != 0 {
		t.Fatalf("expected no save, got %d", b.saves)
	}
	sentinel := errors.New("rejected")
	if err := s.Update(ctx, func(st *State) (bool, error) { return false, sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected callback error, got %v", err)
	}
}

func TestConcurrentUpdatesDoNotLoseIncrements(t *testing.T) {
	ctx := context.Background()
	b := &memBackend{}
	s, err := Open(ctx, b, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, func(st *State) (bool, error) {
				st.User(1).Usage["2025-03-01"]++
				return true, nil
			})
		}()
	}
	wg.Wait()
	u, _ := s.UserSnapshot(1)
	if u.Usage["2025-03-01"] != 50 {
		t.Fatalf("expected 50 increments, got %d", u.Usage["2025-03-01"])
	}
}

func TestPruneUsage(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, &memBackend{}, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.Update(ctx, func(st *State) (bool, error) {
		u := st.User(3)
		u.Usage["2024-12-01"] = 1
		u.Usage["2025-01-15"] = 2
		u.Usage["2025-02-01"] = 1
		return true, nil
	})
	removed, err := s.PruneUsage(ctx, "2025-01-15")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	u, _ := s.UserSnapshot(3)
	if _, ok := u.Usage["2024-12-01"]; ok {
		t.Fatal("expected old bucket pruned")
	}
	if u.Usage["2025-01-15"] != 2 {
		t.Fatal("expected cutoff bucket kept")
	}
}

func TestKnownUsersSorted(t *testing.T) {
	ctx := context.Background()
	s, _ := Open(ctx, &memBackend{}, nil)
	_ = s.Update(ctx, func(st *State) (bool, error) {
		st.User(30)
		st.User(10)
		st.User(20)
		return true, nil
	})
	got := s.KnownUsers()
	if len(got) != 3 || got[0] != 10 || got[1] != 20 || got[2] != 30 {
		t.Fatalf("unexpected known users: %v", got)
	}
}

func TestFileBackendAtomicReplaceLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	b := NewFileBackend(path)
	ctx := context.Background()
	if err := b.Save(ctx, []byte(`{"v":1}`)); err != nil {
		t.Fatalf("save 1: %v", err)
	}
	if err := b.Save(ctx, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("save 2: %v", err)
	}
	got, err := b.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got) != `{"v":2}` {
		t.Fatalf("unexpected content %s", got)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		names := []string{}
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("expected only the snapshot file, got %v", names)
	}
}

func TestFileBackendSaveHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewFileBackend(filepath.Join(t.TempDir(), "s.json"))
	if err := b.Save(ctx, []byte("{}")); err == nil {
		t.Fatal("expected context error")
	}
}
