package access

import (
	"context"
	"time"

	"likegate/pkg/models"
	"likegate/pkg/store"
)

// Verification tracks the per-user verified flag. Verification is monotonic.
type Verification struct {
	store  *store.Store
	owners *Owners
	now    func() time.Time
}

func NewVerification(st *store.Store, owners *Owners, now func() time.Time) *Verification {
	if now == nil {
		now = time.Now
	}
	return &Verification{store: st, owners: owners, now: now}
}

func (v *Verification) IsVerified(id models.Identity) bool {
	if v.owners.IsOwner(id) {
		return true
	}
	verified := false
	v.store.View(func(st *store.State) {
		if u, ok := st.Users[id]; ok {
			verified = u.Verified
		}
	})
	return verified
}

// VerifiedAt reports when id was first verified.
func (v *Verification) VerifiedAt(id models.Identity) (time.Time, bool) {
	var (
		at time.Time
		ok bool
	)
	v.store.View(func(st *store.State) {
		if u, found := st.Users[id]; found && u.VerifiedAt != nil {
			at, ok = *u.VerifiedAt, true
		}
	})
	return at, ok
}

// MarkVerified is idempotent; re-marking keeps the original timestamp and writes nothing.
// Owners are implicitly verified and never get a stored record.
func (v *Verification) MarkVerified(ctx context.Context, id models.Identity) error {
	if v.owners.IsOwner(id) {
		return nil
	}
	return v.store.Update(ctx, func(st *store.State) (bool, error) {
		u := st.User(id)
		if u.Verified {
			return false, nil
		}
		now := v.now()
		u.Verified = true
		u.VerifiedAt = &now
		return true, nil
	})
}
