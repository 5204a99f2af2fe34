// Package events defines the canonical ProgramEvent decoded from the
// upstream chain subscriber and consumed by the rule engine.
package events

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"
)

// ID is a 128-bit identifier unique within a single process run.
type ID [16]byte

// String renders the identifier as lowercase hex.
func (id ID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the identifier was never assigned.
func (id ID) IsZero() bool { return id == ID{} }

// NewID generates a random 128-bit identifier. Falls back to a
// timestamp-derived identifier if the system RNG is unavailable, which
// only happens on a badly misconfigured kernel.
func NewID() ID {
	var id ID
	if _, err := rand.Read(id[:]); err == nil {
		return id
	}
	binary.BigEndian.PutUint64(id[:8], uint64(time.Now().UnixNano()))
	return id
}

// ProgramID is the fixed-width binary identifier of a monitored on-chain
// program (mirrors the upstream chain's 32-byte public key layout).
type ProgramID [32]byte

// String renders the identifier as hex; the external config/CLI layer is
// responsible for base58 presentation when talking to chain explorers.
func (p ProgramID) String() string { return hex.EncodeToString(p[:]) }

// ParseProgramID decodes a hex-encoded 32-byte program identifier.
func ParseProgramID(hexStr string) (ProgramID, error) {
	var p ProgramID
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return p, fmt.Errorf("decode program id: %w", err)
	}
	if len(raw) != len(p) {
		return p, fmt.Errorf("program id must be %d bytes, got %d", len(p), len(raw))
	}
	copy(p[:], raw)
	return p, nil
}

// ProgramIDFromString maps an upstream-reported program identifier string
// (base58 in production, but this decoder is encoding-agnostic) onto the
// fixed-width internal representation. A 64-character hex string is
// decoded directly; anything else is folded through SHA-256 so that
// distinct identifiers never collide regardless of the source encoding.
func ProgramIDFromString(s string) ProgramID {
	if p, err := ParseProgramID(s); err == nil {
		return p
	}
	return ProgramID(sha256.Sum256([]byte(s)))
}

// Type enumerates the coarse routing classification of an event.
type Type string

const (
	TypeAccountUpdate     Type = "AccountUpdate"
	TypeTransactionUpdate Type = "TransactionUpdate"
	TypeLogsUpdate        Type = "LogsUpdate"
	TypeSlotUpdate        Type = "SlotUpdate"
	// TypeCustom events carry an arbitrary, ingress-assigned subtype in
	// CustomName, e.g. the synthetic "reconnect" event emitted after a
	// successful reconnect.
	TypeCustom Type = "Custom"
)

// ProgramEvent is a decoded observation pertaining to a single monitored
// program. Zero value is not meaningful; construct via New.
type ProgramEvent struct {
	ID         ID
	Type       Type
	CustomName string
	ProgramID  ProgramID
	Timestamp  time.Time
	Slot       *uint64
	Signature  string
	Data       map[string]any
}

// New constructs a ProgramEvent with a fresh identifier and UTC timestamp
// pinned to ingress time: timestamp is always wall-clock at ingress
// rather than an upstream-reported value.
func New(typ Type, programID ProgramID, data map[string]any) *ProgramEvent {
	return &ProgramEvent{
		ID:        NewID(),
		Type:      typ,
		ProgramID: programID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// NewCustom constructs a synthetic Custom(name) event such as "reconnect".
func NewCustom(name string, programID ProgramID, data map[string]any) *ProgramEvent {
	ev := New(TypeCustom, programID, data)
	ev.CustomName = name
	return ev
}

// Float64 extracts a numeric field from Data, accepting float64, int and
// int64 values; any other type (including json.Number) reports false.
func (e *ProgramEvent) Float64(key string) (float64, bool) {
	if e == nil || e.Data == nil {
		return 0, false
	}
	switch v := e.Data[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// String extracts a string field from Data.
func (e *ProgramEvent) String(key string) (string, bool) {
	if e == nil || e.Data == nil {
		return "", false
	}
	s, ok := e.Data[key].(string)
	return s, ok
}

// Before orders two events by (Timestamp, ID), giving stable, tie-broken
// ordering within a program bucket.
func (e *ProgramEvent) Before(other *ProgramEvent) bool {
	if e.Timestamp.Equal(other.Timestamp) {
		return lessID(e.ID, other.ID)
	}
	return e.Timestamp.Before(other.Timestamp)
}

func lessID(a, b ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
