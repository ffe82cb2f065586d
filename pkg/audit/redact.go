package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// redactRecord replaces the actor id with a salted hash and drops free text
// (broadcast bodies) from the detail, keeping only its hash.
func redactRecord(rec Record, salt []byte) Record {
	rec.Actor = hashString(rec.Actor, salt)
	rec.Detail = redactDetail(rec.Detail, salt)
	return rec
}

func redactDetail(raw json.RawMessage, salt []byte) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}
	var detail map[string]interface{}
	if err := json.Unmarshal(raw, &detail); err != nil {
		b, _ := json.Marshal(map[string]interface{}{
			"detail_hash":     hashBytes(raw, salt),
			"redaction_error": "invalid_json",
		})
		return b
	}
	if msg, ok := detail["message"].(string); ok {
		delete(detail, "message")
		detail["message_hash"] = hashString(msg, salt)
	}
	b, _ := json.Marshal(detail)
	return b
}

func hashString(v string, salt []byte) string {
	if v == "" {
		return ""
	}
	return hashBytes([]byte(v), salt)
}

func hashBytes(b []byte, salt []byte) string {
	h := sha256.New()
	if len(salt) > 0 {
		_, _ = h.Write(salt)
	}
	_, _ = h.Write(b)
	return hex.EncodeToString(h.Sum(nil))
}
