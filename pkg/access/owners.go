package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"likegate/pkg/models"
)

// Owners is the fixed set of privileged identities. It is never persisted or mutated.
type Owners struct {
	ids map[models.Identity]struct{}
}

func NewOwners(ids ...models.Identity) (*Owners, error) {
	if len(ids) == 0 {
		return nil, errors.New("at least one owner id required")
	}
	set := make(map[models.Identity]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return &Owners{ids: set}, nil
}

// ParseOwners reads a comma separated id list such as "123,456".
func ParseOwners(raw string) (*Owners, error) {
	var ids []models.Identity
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := models.ParseIdentity(part)
		if err != nil {
			return nil, fmt.Errorf("invalid owner id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return NewOwners(ids...)
}

func (o *Owners) IsOwner(id models.Identity) bool {
	if o == nil {
		return false
	}
	_, ok := o.ids[id]
	return ok
}

func (o *Owners) List() []models.Identity {
	out := make([]models.Identity, 0, len(o.ids))
	for id := range o.ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
