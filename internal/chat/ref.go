package chat

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type refKind uint8

const (
	refNone refKind = iota
	refPending
	refConfirmed
)

// Key prefixes used by MessageRef.Key.
const (
	pendingPrefix   = "p:"
	confirmedPrefix = "c:"
)

// MessageRef identifies a message either by the local key it was created with
// (pending) or by the id the server assigned (confirmed).
//
// The zero value is an invalid reference.
type MessageRef struct {
	kind     refKind
	localKey string
	serverID string
}

// Pending returns a reference to a message not yet acknowledged by the server.
func Pending(localKey string) MessageRef {
	return MessageRef{kind: refPending, localKey: localKey}
}

// Confirmed returns a reference to a server-acknowledged message.
func Confirmed(serverID string) MessageRef {
	return MessageRef{kind: refConfirmed, serverID: serverID}
}

// IsPending reports whether the message still waits for server assignment.
func (r MessageRef) IsPending() bool { return r.kind == refPending }

// IsConfirmed reports whether the server has assigned an id.
func (r MessageRef) IsConfirmed() bool { return r.kind == refConfirmed }

// IsZero reports whether r is the zero reference.
func (r MessageRef) IsZero() bool { return r.kind == refNone }

// LocalKey returns the local key of a pending reference.
func (r MessageRef) LocalKey() (string, bool) {
	return r.localKey, r.kind == refPending
}

// ServerID returns the server id of a confirmed reference.
func (r MessageRef) ServerID() (string, bool) {
	return r.serverID, r.kind == refConfirmed
}

// Key returns the cache primary key for the reference.
func (r MessageRef) Key() string {
	switch r.kind {
	case refPending:
		return pendingPrefix + r.localKey
	case refConfirmed:
		return confirmedPrefix + r.serverID
	default:
		return ""
	}
}

// String implements fmt.Stringer.
func (r MessageRef) String() string {
	switch r.kind {
	case refPending:
		return "pending(" + r.localKey + ")"
	case refConfirmed:
		return r.serverID
	default:
		return "<none>"
	}
}

// ParseKey is the inverse of MessageRef.Key.
func ParseKey(key string) (MessageRef, error) {
	switch {
	case strings.HasPrefix(key, pendingPrefix) && len(key) > len(pendingPrefix):
		return Pending(key[len(pendingPrefix):]), nil
	case strings.HasPrefix(key, confirmedPrefix) && len(key) > len(confirmedPrefix):
		return Confirmed(key[len(confirmedPrefix):]), nil
	default:
		return MessageRef{}, fmt.Errorf("invalid message key %q", key)
	}
}

// MarshalJSON encodes the reference as its cache key.
func (r MessageRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Key())
}

// UnmarshalJSON decodes a reference produced by MarshalJSON.
func (r *MessageRef) UnmarshalJSON(data []byte) error {
	var key string
	if err := json.Unmarshal(data, &key); err != nil {
		return err
	}
	if key == "" {
		*r = MessageRef{}
		return nil
	}
	ref, err := ParseKey(key)
	if err != nil {
		return err
	}
	*r = ref
	return nil
}

// Seq returns the numeric value of a server id, or 0 when the id is not an
// integer. It is the tie-breaker for messages sharing a timestamp.
func Seq(serverID string) int64 {
	n, err := strconv.ParseInt(serverID, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
