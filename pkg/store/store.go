package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"likegate/pkg/models"
)

// ErrPersistence wraps any backend failure during a sync.
var ErrPersistence = errors.New("state persistence failed")

// Backend stores the serialized snapshot. Load returns nil data when nothing was stored yet.
// Save must replace the previous snapshot atomically: readers see either the old or the
// new document, never a partial one.
type Backend interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// State is the canonical in-memory form of everything the bot persists.
type State struct {
	Users  map[models.Identity]*models.UserRecord
	Groups map[models.Identity]models.GroupRecord
}

func newState() *State {
	return &State{
		Users:  map[models.Identity]*models.UserRecord{},
		Groups: map[models.Identity]models.GroupRecord{},
	}
}

// User returns the record for id, creating it lazily.
func (st *State) User(id models.Identity) *models.UserRecord {
	u, ok := st.Users[id]
	if !ok {
		u = models.NewUserRecord(id)
		st.Users[id] = u
	}
	if u.Usage == nil {
		u.Usage = map[models.DateKey]int{}
	}
	return u
}

// Store owns the state and is the single mutual-exclusion domain for it.
type Store struct {
	mu      sync.Mutex
	state   *State
	backend Backend
	loc     *time.Location
	dirty   bool
}

// Open loads the snapshot from backend. A missing snapshot yields empty state.
// loc is used to interpret legacy date strings written without an offset.
func Open(ctx context.Context, backend Backend, loc *time.Location) (*Store, error) {
	if backend == nil {
		return nil, errors.New("store backend required")
	}
	if loc == nil {
		loc = time.UTC
	}
	data, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	st := newState()
	if len(data) > 0 {
		st, err = Decode(data, loc)
		if err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
	}
	log.Printf("store: loaded %d users, %d groups", len(st.Users), len(st.Groups))
	return &Store{state: st, backend: backend, loc: loc}, nil
}

// View runs fn with read access to the state under the store lock.
// fn must not retain references to records after it returns.
func (s *Store) View(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
}

// Update runs fn under the store lock and syncs the snapshot when fn reports a change.
// If fn returns an error it must not have mutated the state.
// A failed sync leaves the mutation applied in memory, marks the store dirty so the next
// sync retries it, and returns an error wrapping ErrPersistence.
func (s *Store) Update(ctx context.Context, fn func(st *State) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := fn(s.state)
	if err != nil {
		return err
	}
	if !changed && !s.dirty {
		return nil
	}
	return s.syncLocked(ctx)
}

// Flush writes the snapshot if a previous sync failed.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.syncLocked(ctx)
}

// Close performs the final sync at shutdown.
func (s *Store) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Store) syncLocked(ctx context.Context) error {
	data, err := Encode(s.state)
	if err != nil {
		s.dirty = true
		return fmt.Errorf("%w: encode: %w", ErrPersistence, err)
	}
	if err := s.backend.Save(ctx, data); err != nil {
		s.dirty = true
		log.Printf("store: sync failed: %v", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	s.dirty = false
	return nil
}

// Dirty reports whether in-memory state is ahead of the persisted snapshot.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// KnownUsers returns every user id with a record, sorted.
func (s *Store) KnownUsers() []models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Identity, 0, len(s.state.Users))
	for id := range s.state.Users {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UserSnapshot returns a copy of the user's record and whether one exists.
func (s *Store) UserSnapshot(id models.Identity) (models.UserRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.state.Users[id]
	if !ok {
		return models.UserRecord{ID: id, Usage: map[models.DateKey]int{}}, false
	}
	return u.Clone(), true
}

// PruneUsage drops usage buckets older than cutoff and returns how many were removed.
// DateKeys compare lexically in calendar order.
func (s *Store) PruneUsage(ctx context.Context, cutoff models.DateKey) (int, error) {
	removed := 0
	err := s.Update(ctx, func(st *State) (bool, error) {
		for _, u := range st.Users {
			for day := range u.Usage {
				if day < cutoff {
					delete(u.Usage, day)
					removed++
				}
			}
		}
		return removed > 0, nil
	})
	return removed, err
}
