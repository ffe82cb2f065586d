package models

import "strconv"

// Identity is an opaque user or chat identifier as issued by the transport.
type Identity int64

func (id Identity) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseIdentity parses a decimal identifier.
func ParseIdentity(raw string) (Identity, error) {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, err
	}
	return Identity(n), nil
}

type ScopeKind string

const (
	ScopeUser  ScopeKind = "user"
	ScopeGroup ScopeKind = "group"
)

// ChatScope is the chat context a command originates from.
type ChatScope struct {
	Kind ScopeKind `json:"kind"`
	ID   Identity  `json:"id"`
}

func UserScope(id Identity) ChatScope {
	return ChatScope{Kind: ScopeUser, ID: id}
}

func GroupScope(id Identity) ChatScope {
	return ChatScope{Kind: ScopeGroup, ID: id}
}

// ScopeForChat maps a raw transport chat id to a scope. Group chats carry negative ids.
func ScopeForChat(chatID int64) ChatScope {
	if chatID < 0 {
		return GroupScope(Identity(chatID))
	}
	return UserScope(Identity(chatID))
}

func (s ChatScope) IsGroup() bool {
	return s.Kind == ScopeGroup
}
