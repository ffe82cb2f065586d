package store

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"likegate/pkg/models"
)

// legacyTimeLayout is the local-time format used by snapshots written before
// timestamps carried an offset.
const legacyTimeLayout = "2006-01-02 15:04:05"

// Snapshot is the persisted document. Keys are stringified identities.
type Snapshot struct {
	UserLimits       map[string]int               `json:"user_limits"`
	UserUsage        map[string]map[string]int    `json:"user_usage"`
	UserVerification map[string]verificationEntry `json:"user_verification"`
	AllowedGroups    map[string]groupEntry        `json:"allowed_groups"`
}

type verificationEntry struct {
	Verified     bool   `json:"verified"`
	VerifiedAt   string `json:"verified_at,omitempty"`
	VerifiedDate string `json:"verified_date,omitempty"`
}

type groupEntry struct {
	Title     string `json:"title"`
	ChatID    int64  `json:"chat_id"`
	AddedAt   string `json:"added_at,omitempty"`
	AddedDate string `json:"added_date,omitempty"`
}

// Encode renders state into the snapshot document.
func Encode(st *State) ([]byte, error) {
	snap := Snapshot{
		UserLimits:       map[string]int{},
		UserUsage:        map[string]map[string]int{},
		UserVerification: map[string]verificationEntry{},
		AllowedGroups:    map[string]groupEntry{},
	}
	for id, u := range st.Users {
		key := id.String()
		if u.LimitOverride != nil {
			snap.UserLimits[key] = *u.LimitOverride
		}
		if len(u.Usage) > 0 {
			days := make(map[string]int, len(u.Usage))
			for day, n := range u.Usage {
				days[string(day)] = n
			}
			snap.UserUsage[key] = days
		}
		if u.Verified {
			entry := verificationEntry{Verified: true}
			if u.VerifiedAt != nil {
				entry.VerifiedAt = u.VerifiedAt.Format(time.RFC3339Nano)
			}
			snap.UserVerification[key] = entry
		}
	}
	for id, g := range st.Groups {
		key := strconv.FormatInt(absID(int64(id)), 10)
		snap.AllowedGroups[key] = groupEntry{
			Title:   g.Title,
			ChatID:  int64(id),
			AddedAt: g.AddedAt.Format(time.RFC3339Nano),
		}
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode parses a snapshot document into state.
func Decode(data []byte, loc *time.Location) (*State, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	st := newState()
	for key, limit := range snap.UserLimits {
		id, err := models.ParseIdentity(key)
		if err != nil {
			return nil, fmt.Errorf("user_limits key %q: %w", key, err)
		}
		if limit < 0 {
			return nil, fmt.Errorf("user_limits[%s]: negative limit %d", key, limit)
		}
		n := limit
		st.User(id).LimitOverride = &n
	}
	for key, days := range snap.UserUsage {
		id, err := models.ParseIdentity(key)
		if err != nil {
			return nil, fmt.Errorf("user_usage key %q: %w", key, err)
		}
		u := st.User(id)
		for day, n := range days {
			if n < 0 {
				return nil, fmt.Errorf("user_usage[%s][%s]: negative count %d", key, day, n)
			}
			u.Usage[models.DateKey(day)] = n
		}
	}
	for key, entry := range snap.UserVerification {
		id, err := models.ParseIdentity(key)
		if err != nil {
			return nil, fmt.Errorf("user_verification key %q: %w", key, err)
		}
		u := st.User(id)
		u.Verified = entry.Verified
		if at, ok := parseStamp(entry.VerifiedAt, entry.VerifiedDate, loc); ok {
			u.VerifiedAt = &at
		}
	}
	for key, entry := range snap.AllowedGroups {
		chatID := entry.ChatID
		if chatID == 0 {
			n, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("allowed_groups key %q: %w", key, err)
			}
			chatID = -absID(n)
		}
		rec := models.GroupRecord{ID: models.Identity(chatID), Title: entry.Title}
		if at, ok := parseStamp(entry.AddedAt, entry.AddedDate, loc); ok {
			rec.AddedAt = at
		}
		st.Groups[rec.ID] = rec
	}
	return st, nil
}

func parseStamp(rfc, legacy string, loc *time.Location) (time.Time, bool) {
	if rfc = strings.TrimSpace(rfc); rfc != "" {
		if t, err := time.Parse(time.RFC3339Nano, rfc); err == nil {
			return t.In(loc), true
		}
	}
	if legacy = strings.TrimSpace(legacy); legacy != "" {
		if t, err := time.ParseInLocation(legacyTimeLayout, legacy, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func absID(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
