package access

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"likegate/pkg/models"
	"likegate/pkg/store"
)

var ErrInvalidScope = errors.New("operation requires a group scope")

// Groups is the allow-list of group chats permitted to use gated commands.
type Groups struct {
	store *store.Store
	now   func() time.Time
}

func NewGroups(st *store.Store, now func() time.Time) *Groups {
	if now == nil {
		now = time.Now
	}
	return &Groups{store: st, now: now}
}

// IsAuthorized is always true for user scopes.
func (g *Groups) IsAuthorized(scope models.ChatScope) bool {
	if !scope.IsGroup() {
		return true
	}
	ok := false
	g.store.View(func(st *store.State) {
		_, ok = st.Groups[scope.ID]
	})
	return ok
}

// Authorize inserts or overwrites the group record and persists it before returning.
func (g *Groups) Authorize(ctx context.Context, scope models.ChatScope, title string) (models.GroupRecord, error) {
	if !scope.IsGroup() {
		return models.GroupRecord{}, fmt.Errorf("%w: %s %s", ErrInvalidScope, scope.Kind, scope.ID)
	}
	rec := models.GroupRecord{ID: scope.ID, Title: strings.TrimSpace(title), AddedAt: g.now()}
	if rec.Title == "" {
		rec.Title = "Unknown Group"
	}
	err := g.store.Update(ctx, func(st *store.State) (bool, error) {
		st.Groups[scope.ID] = rec
		return true, nil
	})
	return rec, err
}

// Deauthorize removes the group if present. Removing an absent group is not an error.
func (g *Groups) Deauthorize(ctx context.Context, scope models.ChatScope) (bool, error) {
	if !scope.IsGroup() {
		return false, fmt.Errorf("%w: %s %s", ErrInvalidScope, scope.Kind, scope.ID)
	}
	removed := false
	err := g.store.Update(ctx, func(st *store.State) (bool, error) {
		if _, ok := st.Groups[scope.ID]; !ok {
			return false, nil
		}
		delete(st.Groups, scope.ID)
		removed = true
		return true, nil
	})
	return removed, err
}

func (g *Groups) Get(id models.Identity) (models.GroupRecord, bool) {
	var (
		rec models.GroupRecord
		ok  bool
	)
	g.store.View(func(st *store.State) {
		rec, ok = st.Groups[id]
	})
	return rec, ok
}

// List returns every authorized group ordered by id.
func (g *Groups) List() []models.GroupRecord {
	var out []models.GroupRecord
	g.store.View(func(st *store.State) {
		out = make([]models.GroupRecord, 0, len(st.Groups))
		for _, rec := range st.Groups {
			out = append(out, rec)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
