// Package message defines the messages exchanged between the sync engine
// and the pages it serves.
//
// Messages form a closed tagged union discriminated by a "type" field. Every
// concrete message implements Message; the unexported marker method keeps
// the set closed to this package. Unmarshal validates at the boundary and
// rejects unknown types, unknown fields and invalid values with *DecodeError.
package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Type discriminates messages on the wire.
type Type string

const (
	TypeCacheCriticalAssets Type = "CACHE_CRITICAL_ASSETS"
	TypeCacheComplete       Type = "CACHE_COMPLETE"
	TypeSyncRequest         Type = "SYNC_REQUEST"
	TypeSyncComplete        Type = "SYNC_COMPLETE"
	TypeConnectivityChanged Type = "CONNECTIVITY_CHANGED"
)

// Message is one member of the closed message union.
type Message interface {
	Type() Type
	validate() error
}

// CacheCriticalAssets asks the engine to precache the critical asset list.
// An empty URLs list means the configured defaults.
type CacheCriticalAssets struct {
	URLs []string `json:"urls,omitempty"`
}

// CacheComplete reports how many critical assets were cached.
type CacheComplete struct {
	Cached int `json:"cached"`
}

// SyncRequest asks the engine to run a sync pass now.
type SyncRequest struct{}

// SyncComplete summarizes a finished sync pass.
type SyncComplete struct {
	Synced  int          `json:"synced"`
	Failed  int          `json:"failed"`
	Results []SyncResult `json:"results"`
}

// SyncResult is the outcome of replaying one queued action.
type SyncResult struct {
	ID         string `json:"id"`
	Method     string `json:"method"`
	Endpoint   string `json:"endpoint"`
	Status     string `json:"status"`
	HTTPStatus int    `json:"httpStatus,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ConnectivityChanged announces an online/offline transition.
// Timestamp is Unix milliseconds.
type ConnectivityChanged struct {
	Online    bool  `json:"online"`
	Timestamp int64 `json:"timestamp"`
}

func (CacheCriticalAssets) Type() Type { return TypeCacheCriticalAssets }
func (CacheComplete) Type() Type       { return TypeCacheComplete }
func (SyncRequest) Type() Type         { return TypeSyncRequest }
func (SyncComplete) Type() Type        { return TypeSyncComplete }
func (ConnectivityChanged) Type() Type { return TypeConnectivityChanged }

func (m CacheCriticalAssets) validate() error {
	for i, u := range m.URLs {
		if u == "" {
			return fmt.Errorf("urls[%d]: empty url", i)
		}
	}
	return nil
}

func (m CacheComplete) validate() error {
	if m.Cached < 0 {
		return fmt.Errorf("cached: negative count %d", m.Cached)
	}
	return nil
}

func (SyncRequest) validate() error { return nil }

func (m SyncComplete) validate() error {
	if m.Synced < 0 || m.Failed < 0 {
		return fmt.Errorf("negative counts (synced=%d, failed=%d)", m.Synced, m.Failed)
	}
	for i, r := range m.Results {
		if r.ID == "" {
			return fmt.Errorf("results[%d].id: required", i)
		}
	}
	return nil
}

func (m ConnectivityChanged) validate() error {
	if m.Timestamp < 0 {
		return fmt.Errorf("timestamp: negative value %d", m.Timestamp)
	}
	return nil
}

// DecodeError reports a message rejected at the boundary.
type DecodeError struct {
	Type    Type
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	prefix := "decode message"
	if e.Type != "" {
		prefix = fmt.Sprintf("decode %s", e.Type)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Marshal encodes m with its "type" discriminator. Object keys are sorted.
func Marshal(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("marshal message: nil message")
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	tag, _ := json.Marshal(m.Type())
	fields["type"] = tag

	return json.Marshal(fields)
}

// Unmarshal decodes and validates one message.
func Unmarshal(data []byte) (Message, error) {
	var envelope struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &DecodeError{Message: "invalid JSON", Err: err}
	}
	if envelope.Type == "" {
		return nil, &DecodeError{Message: `missing "type" field`}
	}

	var m Message
	var err error
	switch envelope.Type {
	case TypeCacheCriticalAssets:
		m, err = decodeAs[CacheCriticalAssets](data)
	case TypeCacheComplete:
		m, err = decodeAs[CacheComplete](data)
	case TypeSyncRequest:
		m, err = decodeAs[SyncRequest](data)
	case TypeSyncComplete:
		m, err = decodeAs[SyncComplete](data)
	case TypeConnectivityChanged:
		m, err = decodeAs[ConnectivityChanged](data)
	default:
		return nil, &DecodeError{Type: envelope.Type, Message: "unknown message type"}
	}
	if err != nil {
		return nil, &DecodeError{Type: envelope.Type, Message: "invalid payload", Err: err}
	}
	if err := m.validate(); err != nil {
		return nil, &DecodeError{Type: envelope.Type, Message: "invalid payload", Err: err}
	}
	return m, nil
}

// decodeAs strictly decodes data into T, ignoring only the "type" field.
func decodeAs[T Message](data []byte) (Message, error) {
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	delete(fields, "type")
	rest, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}

	var v T
	dec := json.NewDecoder(bytes.NewReader(rest))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
