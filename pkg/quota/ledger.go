package quota

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"likegate/pkg/models"
	"likegate/pkg/store"
)

const (
	DefaultLimit    = 2
	DefaultLocation = "Asia/Kathmandu"
	dateLayout      = "2006-01-02"
)

var (
	ErrQuotaExceeded   = errors.New("daily quota exceeded")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Limit is a daily allowance. The zero value is a finite limit of 0.
type Limit struct {
	n         int
	unlimited bool
}

// Unlimited is the owner sentinel; it never compares as exhausted.
var Unlimited = Limit{unlimited: true}

func Finite(n int) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the finite count. Only meaningful when !IsUnlimited().
func (l Limit) Value() int { return l.n }

// Exhausted reports whether used has reached the limit.
func (l Limit) Exhausted(used int) bool {
	if l.unlimited {
		return false
	}
	return used >= l.n
}

// Sub returns what remains after used units.
func (l Limit) Sub(used int) Limit {
	if l.unlimited {
		return l
	}
	return Finite(l.n - used)
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(l.n)
}

// OwnerChecker reports privileged identities.
type OwnerChecker interface {
	IsOwner(id models.Identity) bool
}

type Config struct {
	DefaultLimit int
	Location     *time.Location
	Now          func() time.Time
}

// Ledger tracks per-user daily usage against the store. It keeps no state of its own.
type Ledger struct {
	store        *store.Store
	owners       OwnerChecker
	defaultLimit int
	loc          *time.Location
	now          func() time.Time
}

func New(st *store.Store, owners OwnerChecker, cfg Config) (*Ledger, error) {
	if st == nil {
		return nil, errors.New("quota ledger requires a store")
	}
	if cfg.DefaultLimit < 0 {
		return nil, fmt.Errorf("%w: default limit %d", ErrInvalidArgument, cfg.DefaultLimit)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ledger{
		store:        st,
		owners:       owners,
		defaultLimit: cfg.DefaultLimit,
		loc:          cfg.Location,
		now:          cfg.Now,
	}, nil
}

// DateKeyAt returns the reference-timezone calendar date of t.
func DateKeyAt(t time.Time, loc *time.Location) models.DateKey {
	return models.DateKey(t.In(loc).Format(dateLayout))
}

// NextReset returns the next local midnight in loc after t.
func NextReset(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
}

// Today is the current DateKey.
func (l *Ledger) Today() models.DateKey {
	return DateKeyAt(l.now(), l.loc)
}

// NextReset is when today's counters roll over.
func (l *Ledger) NextReset() time.Time {
	return NextReset(l.now(), l.loc)
}

func (l *Ledger) Location() *time.Location { return l.loc }

func (l *Ledger) DefaultLimit() int { return l.defaultLimit }

func (l *Ledger) isOwner(id models.Identity) bool {
	return l.owners != nil && l.owners.IsOwner(id)
}

func (l *Ledger) DailyLimit(id models.Identity) Limit {
	if l.isOwner(id) {
		return Unlimited
	}
	limit := Finite(l.defaultLimit)
	l.store.View(func(st *store.State) {
		if u, ok := st.Users[id]; ok && u.LimitOverride != nil {
			limit = Finite(*u.LimitOverride)
		}
	})
	return limit
}

// UsageToday is 0 for owners, who are never tracked.
func (l *Ledger) UsageToday(id models.Identity) int {
	if l.isOwner(id) {
		return 0
	}
	today := l.Today()
	used := 0
	l.store.View(func(st *store.State) {
		if u, ok := st.Users[id]; ok {
			used = u.Usage[today]
		}
	})
	return used
}

func (l *Ledger) Remaining(id models.Identity) Limit {
	return l.DailyLimit(id).Sub(l.UsageToday(id))
}

// TryReserve checks whether one more unit may be attempted. It does not consume anything.
func (l *Ledger) TryReserve(id models.Identity) error {
	if l.isOwner(id) {
		return nil
	}
	if l.DailyLimit(id).Exhausted(l.UsageToday(id)) {
		return ErrQuotaExceeded
	}
	return nil
}

// CommitUsage records one successful action for today and persists it. Callers invoke it
// only after the downstream action confirmed success. Owners are not tracked.
func (l *Ledger) CommitUsage(ctx context.Context, id models.Identity) (int, error) {
	if l.isOwner(id) {
		return 0, nil
	}
	today := l.Today()
	used := 0
	err := l.store.Update(ctx, func(st *store.State) (bool, error) {
		u := st.User(id)
		u.Usage[today]++
		used = u.Usage[today]
		return true, nil
	})
	return used, err
}

// SetLimit overrides the daily limit of id. Authorization is the caller's concern.
func (l *Ledger) SetLimit(ctx context.Context, id models.Identity, n int) error {
	if n < 0 {
		return fmt.Errorf("%w: limit must be >= 0, got %d", ErrInvalidArgument, n)
	}
	return l.store.Update(ctx, func(st *store.State) (bool, error) {
		u := st.User(id)
		if u.LimitOverride != nil && *u.LimitOverride == n {
			return false, nil
		}
		v := n
		u.LimitOverride = &v
		return true, nil
	})
}

// PruneBefore drops usage buckets older than keepDays days before today.
func (l *Ledger) PruneBefore(ctx context.Context, keepDays int) (int, error) {
	if keepDays <= 0 {
		return 0, nil
	}
	cutoff := DateKeyAt(l.now().In(l.loc).AddDate(0, 0, -keepDays), l.loc)
	return l.store.PruneUsage(ctx, cutoff)
}
