package model

import (
	"encoding/json"
	"time"
)

const (
	MetaSubmission  = "submission"
	MetaSubmitError = "submit_error"
	MetaCallbacks   = "callbacks"
	MetaOrphan      = "orphan"
)

// Metadata holds raw gateway payloads and audit breadcrumbs.
type Metadata map[string]any

type CallbackRecord struct {
	Kind       string          `json:"kind"` // result, timeout
	ReceivedAt time.Time       `json:"received_at"`
	Applied    bool            `json:"applied"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Clone returns a shallow copy with a fresh callbacks slice.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	if cbs := m.Callbacks(); cbs != nil {
		out[MetaCallbacks] = append([]CallbackRecord(nil), cbs...)
	}
	return out
}

// AppendCallback returns a copy of m with rec appended to the callback log.
func (m Metadata) AppendCallback(rec CallbackRecord) Metadata {
	out := m.Clone()
	out[MetaCallbacks] = append(out.Callbacks(), rec)
	return out
}

// Callbacks returns the callback log regardless of whether m was built in
// memory or decoded from JSON.
func (m Metadata) Callbacks() []CallbackRecord {
	switch v := m[MetaCallbacks].(type) {
	case []CallbackRecord:
		return v
	case []any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out []CallbackRecord
		if err := json.Unmarshal(data, &out); err != nil {
			return nil
		}
		return out
	}
	return nil
}
