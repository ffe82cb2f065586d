package models

import "time"

// DateKey is a calendar date (YYYY-MM-DD) in the reference timezone.
type DateKey string

// UserRecord is the persisted per-user state.
type UserRecord struct {
	ID            Identity        `json:"id"`
	Verified      bool            `json:"verified"`
	VerifiedAt    *time.Time      `json:"verified_at,omitempty"`
	LimitOverride *int            `json:"limit_override,omitempty"`
	Usage         map[DateKey]int `json:"usage,omitempty"`
}

func NewUserRecord(id Identity) *UserRecord {
	return &UserRecord{ID: id, Usage: map[DateKey]int{}}
}

// Clone returns a deep copy so callers outside the store lock never share maps.
func (u *UserRecord) Clone() UserRecord {
	out := UserRecord{ID: u.ID, Verified: u.Verified}
	if u.VerifiedAt != nil {
		t := *u.VerifiedAt
		out.VerifiedAt = &t
	}
	if u.LimitOverride != nil {
		n := *u.LimitOverride
		out.LimitOverride = &n
	}
	out.Usage = make(map[DateKey]int, len(u.Usage))
	for k, v := range u.Usage {
		out.Usage[k] = v
	}
	return out
}

// GroupRecord is an authorized group.
type GroupRecord struct {
	ID      Identity  `json:"id"`
	Title   string    `json:"title"`
	AddedAt time.Time `json:"added_at"`
}
