// Error taxonomy for the engine.
//
// User-facing write APIs surface the sentinel errors below; AtomicOperation
// state failures use the two typed wrappers so callers can tell a retryable
// mistake (operation already committed, try again) from a dead session
// (transaction backup failed, do not retry).
package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrNotFound names a missing document/record; no function in this
	// package returns it.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidKey is returned for a blank or otherwise non-writable key.
	ErrInvalidKey = errors.New("key is not writable")

	// ErrEmptyValue is returned when a write carries a blank value.
	ErrEmptyValue = errors.New("value cannot be empty")

	// ErrFunctionValue is returned when a write carries a function-typed value.
	ErrFunctionValue = errors.New("function values are not writable")

	// ErrSelfReferential is returned by Set when a link value targets its own record.
	ErrSelfReferential = errors.New("a record cannot link to itself")

	// ErrClosed is returned when operating on a closed Engine.
	ErrClosed = errors.New("engine is closed")

	// ErrIllegalAction is returned when actionCompare is observed outside internal bookkeeping.
	ErrIllegalAction = errors.New("illegal action")

	// ErrCorruptBlock is returned when a block's on-disk files cannot be parsed and startup halts.
	ErrCorruptBlock = errors.New("corrupt block")

	// ErrCorruptBackup is returned when a transaction backup file cannot be parsed; it is logged and removed.
	ErrCorruptBackup = errors.New("corrupt transaction backup")

	// ErrBlockImmutable is returned by Block.Insert after Sync has been called.
	ErrBlockImmutable = errors.New("block is immutable")

	// ErrNoSuchToken names an unknown lock permit; LockBroker.release
	// ignores unknown tokens and never returns it.
	ErrNoSuchToken = errors.New("no such locked token")

	// ErrDecompress is wrapped by compress.go when value decompression fails.
	ErrDecompress = errors.New("decompress failed")
)

// StateError is raised when an operation is attempted on an AtomicOperation
// that is not OPEN. Retryable is true for ordinary AtomicOperations (the
// orchestrator may simply re-run the operation) and false for Transactions,
// whose session is dead once the state error fires.
type StateError struct {
	State     OperationState
	Retryable bool
}

func (e *StateError) Error() string {
	if e.Retryable {
		return fmt.Sprintf("atomic operation not open (state=%s); retry", e.State)
	}
	return fmt.Sprintf("transaction not open (state=%s); session is dead, do not retry", e.State)
}

// TransactionStateError is the non-retryable subtype raised only for
// Transactions. Kept as a distinct type (rather than a bool field callers
// must remember to check) so errors.As alone tells a caller not to retry.
type TransactionStateError struct {
	StateError
}

func newStateError(s OperationState, retryable bool) error {
	if retryable {
		return &StateError{State: s, Retryable: true}
	}
	return &TransactionStateError{StateError{State: s, Retryable: false}}
}
