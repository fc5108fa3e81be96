// ABOUTME: Room identity resolution mapping conversation coordinates to canonical keys
// ABOUTME: Pure and deterministic; all routing correctness rests on this function

package room

import (
	"errors"
	"fmt"
)

// ErrInvalidParameters indicates the room coordinates cannot identify a room:
// unknown kind, an empty id, or a direct conversation with oneself.
var ErrInvalidParameters = errors.New("invalid room parameters")

// Kind identifies the conversation flavor a room fans out for.
type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// ParseKind validates a wire-level kind string.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindDirect, KindGroup:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidParameters, s)
	}
}

// Key is the canonical identity of one room. Keys are never persisted;
// they are recomputed from their inputs on every connection attempt.
type Key string

// Resolve maps (tenant, kind, conversation, requesting subject) to a Key.
//
// Group rooms are keyed by the group id alone. Direct rooms are keyed by the
// unordered pair of the two participants, sorted lexicographically, so both
// endpoints resolve to the same key regardless of who initiates.
func Resolve(tenantID string, kind Kind, conversationID, subjectID string) (Key, error) {
	if tenantID == "" || conversationID == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidParameters)
	}

	switch kind {
	case KindGroup:
		return Key(fmt.Sprintf("tenant:%s:group:%s", tenantID, conversationID)), nil

	case KindDirect:
		if subjectID == "" {
			return "", fmt.Errorf("%w: empty id", ErrInvalidParameters)
		}
		if conversationID == subjectID {
			return "", fmt.Errorf("%w: direct conversation with self", ErrInvalidParameters)
		}
		a, b := subjectID, conversationID
		if b < a {
			a, b = b, a
		}
		return Key(fmt.Sprintf("tenant:%s:direct:%s:%s", tenantID, a, b)), nil

	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidParameters, kind)
	}
}
