package events

import (
	"encoding/json"
	"fmt"
)

// SubscribeMethod enumerates the upstream subscription RPC methods.
type SubscribeMethod string

const (
	MethodAccountSubscribe   SubscribeMethod = "accountSubscribe"
	MethodLogsSubscribe      SubscribeMethod = "logsSubscribe"
	MethodSignatureSubscribe SubscribeMethod = "signatureSubscribe"
	MethodProgramSubscribe   SubscribeMethod = "programSubscribe"
)

// SubscribeFrame is the outbound subscription request:
// {"id": int, "method": "...Subscribe", "params": [...]}.
type SubscribeFrame struct {
	ID     int             `json:"id"`
	Method SubscribeMethod `json:"method"`
	Params []any           `json:"params"`
}

// notificationEnvelope mirrors the inbound frame shape:
// {"method": "...Notification", "params": {"result": {...}, "subscription": int}}.
// Unknown fields are ignored by construction (json.Unmarshal's default
// behavior), satisfying the "unknown fields are ignored" decoding contract.
type notificationEnvelope struct {
	Method string `json:"method"`
	Params struct {
		Subscription int             `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// ErrUnknownMethod is returned for notification methods this decoder does
// not recognise; callers should ignore the frame rather than treat it as
// fatal.
type ErrUnknownMethod struct{ Method string }

func (e *ErrUnknownMethod) Error() string { return fmt.Sprintf("unknown notification method %q", e.Method) }

// ErrMalformedFrame indicates a frame that could not be parsed at all; the
// caller must count it in events_malformed and drop it without
// terminating the stream.
type ErrMalformedFrame struct{ Cause error }

func (e *ErrMalformedFrame) Error() string { return fmt.Sprintf("malformed frame: %v", e.Cause) }
func (e *ErrMalformedFrame) Unwrap() error { return e.Cause }

// accountResult mirrors the subset of the upstream account payload this
// package names; Decode itself reads the generic payload map and
// carries it verbatim into ProgramEvent.Data for rules that need it.
type accountResult struct {
	ProgramID string         `json:"programId"`
	Slot      *uint64        `json:"slot"`
	Signature string         `json:"signature"`
	Liquidity *float64       `json:"liquidity"`
	Extra     map[string]any `json:"-"`
}

// Decode converts a single raw frame into a ProgramEvent. method carries
// the routing hint already stripped off the frame by the transport layer;
// the concrete socket handling lives in ingress, which calls this as its
// documented decoding contract.
func Decode(method string, raw json.RawMessage) (*ProgramEvent, error) {
	var env notificationEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ErrMalformedFrame{Cause: err}
	}
	if env.Method == "" {
		env.Method = method
	}

	var payload map[string]any
	if len(env.Params.Result) > 0 {
		if err := json.Unmarshal(env.Params.Result, &payload); err != nil {
			return nil, &ErrMalformedFrame{Cause: err}
		}
	} else {
		return nil, &ErrMalformedFrame{Cause: fmt.Errorf("empty result payload")}
	}

	typ, ok := routeType(env.Method)
	if !ok {
		return nil, &ErrUnknownMethod{Method: env.Method}
	}

	programID, err := extractProgramID(payload)
	if err != nil {
		return nil, &ErrMalformedFrame{Cause: err}
	}

	ev := New(typ, programID, payload)
	if slot, ok := numericField(payload, "slot"); ok {
		slotVal := uint64(slot)
		ev.Slot = &slotVal
	}
	if sig, ok := payload["signature"].(string); ok {
		ev.Signature = sig
	}
	return ev, nil
}

func routeType(method string) (Type, bool) {
	switch method {
	case "accountNotification":
		return TypeAccountUpdate, true
	case "signatureNotification", "transactionNotification":
		return TypeTransactionUpdate, true
	case "logsNotification":
		return TypeLogsUpdate, true
	case "slotNotification":
		return TypeSlotUpdate, true
	default:
		return "", false
	}
}

func extractProgramID(payload map[string]any) (ProgramID, error) {
	raw, ok := payload["programId"].(string)
	if !ok || raw == "" {
		// Slot updates carry no program id; key them on the zero program so
		// history still buckets them deterministically.
		return ProgramID{}, nil
	}
	return ProgramIDFromString(raw), nil
}

func numericField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}
