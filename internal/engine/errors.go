package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/hirechat/internal/chat"
)

var (
	// ErrEmptyContent rejects a send or edit with no visible text.
	ErrEmptyContent = errors.New("message content is empty")

	// ErrUnknownMessage means the message is neither in the open list nor
	// in the cache.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrClosed is returned by intents after Close.
	ErrClosed = errors.New("engine closed")
)

// Stage names where a reconciliation failed.
type Stage string

const (
	StageHub  Stage = "hub"
	StageREST Stage = "rest"
)

// ReconcileError reports that an intent was applied locally but the server
// did not confirm it. The local state is kept as is: a send stays pending
// and an edit or delete stays applied.
//
// ReconcileError includes structured fields for diagnostics and retry.
type ReconcileError struct {
	// Op is the intent: "send", "edit" or "delete".
	Op string

	// ConversationID is the conversation the intent targeted.
	ConversationID int64

	// Ref identifies the affected message.
	Ref chat.MessageRef

	// Stage is the remote step that failed.
	Stage Stage

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ReconcileError) Error() string {
	return fmt.Sprintf("%s %s in conversation %d: %s: %v", e.Op, e.Ref, e.ConversationID, e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *ReconcileError) Unwrap() error { return e.Err }

// IsReconcileError returns true if the error is a ReconcileError.
// Uses errors.As to handle wrapped errors.
func IsReconcileError(err error) bool {
	var re *ReconcileError
	return errors.As(err, &re)
}

// PendingRef returns the reference of a send that was left pending, so the
// caller can offer a retry.
func PendingRef(err error) (chat.MessageRef, bool) {
	var re *ReconcileError
	if errors.As(err, &re) && re.Ref.IsPending() {
		return re.Ref, true
	}
	return chat.MessageRef{}, false
}
