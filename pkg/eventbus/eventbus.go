package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"likegate/pkg/models"
)

// Record is the wire form of an audit-worthy bot event.
type Record struct {
	Type   string          `json:"type"`
	UserID models.Identity `json:"user_id,omitempty"`
	ChatID models.Identity `json:"chat_id,omitempty"`
	At     time.Time       `json:"at"`
	Data   json.RawMessage `json:"data,omitempty"`
}

func NewRecord(eventType string, user, chat models.Identity, data interface{}) Record {
	rec := Record{Type: eventType, UserID: user, ChatID: chat, At: time.Now().UTC()}
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			rec.Data = b
		}
	}
	return rec
}

// Publisher ships records off-process.
type Publisher interface {
	Publish(ctx context.Context, rec Record) error
	Close() error
}

// Nop drops every record.
type Nop struct{}

func (Nop) Publish(context.Context, Record) error { return nil }
func (Nop) Close() error                          { return nil }
