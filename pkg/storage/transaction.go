package storage

import (
	"fmt"
	"sync"
)

// TxStatus is the linear transaction state machine. There is no path back
// to Active.
type TxStatus string

const (
	TxActive     TxStatus = "active"
	TxCommitted  TxStatus = "committed"
	TxRolledBack TxStatus = "rolled_back"
	TxFailed     TxStatus = "failed"
)

// TransactionError reports an illegal state transition, a failed commit, or
// a failed compensator. Cause carries the underlying error when one exists.
type TransactionError struct {
	Msg   string
	Cause error
}

func (e *TransactionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transaction: %s: %v", e.Msg, e.Cause)
	}
	return "transaction: " + e.Msg
}

func (e *TransactionError) Unwrap() error { return e.Cause }

// Transaction is an ordered list of operations paired with compensating
// rollbacks. Commit runs the operations in order; when one fails, the
// compensators registered so far run in reverse order and the original
// failure is reported wrapped in a TransactionError.
//
// The transaction provides compensation, not isolation: operations apply
// to the backend as they run, and a rollback is whatever the caller's
// compensator does.
type Transaction struct {
	mu        sync.Mutex
	status    TxStatus
	ops       []func() error
	rollbacks []func() error
}

// NewTransaction returns an empty transaction in the Active state.
func NewTransaction() *Transaction {
	return &Transaction{status: TxActive}
}

// Status returns the current state.
func (t *Transaction) Status() TxStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AddOperation queues op with its compensating rollback. Only legal while
// the transaction is Active.
func (t *Transaction) AddOperation(op, rollback func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TxActive {
		return &TransactionError{Msg: fmt.Sprintf("cannot add operation in state %q", t.status)}
	}
	t.ops = append(t.ops, op)
	t.rollbacks = append(t.rollbacks, rollback)
	return nil
}

// Commit runs every queued operation in order. On the first failure it
// rolls back the compensators in reverse order and returns a
// TransactionError wrapping the original cause; the rollback's own outcome
// decides whether the final state is RolledBack or Failed.
func (t *Transaction) Commit() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TxActive {
		return &TransactionError{Msg: fmt.Sprintf("cannot commit in state %q", t.status)}
	}
	for i, op := range t.ops {
		if err := op(); err != nil {
			t.rollbackLocked()
			return &TransactionError{Msg: fmt.Sprintf("operation %d failed", i), Cause: err}
		}
	}
	t.status = TxCommitted
	return nil
}

// Rollback runs every registered compensator in reverse order. On success
// the transaction is RolledBack; a compensator failure leaves it Failed and
// returns a TransactionError wrapping that failure.
func (t *Transaction) Rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.status != TxActive {
		return &TransactionError{Msg: fmt.Sprintf("cannot roll back in state %q", t.status)}
	}
	return t.rollbackLocked()
}

func (t *Transaction) rollbackLocked() error {
	for i := len(t.rollbacks) - 1; i >= 0; i-- {
		if t.rollbacks[i] == nil {
			continue
		}
		if err := t.rollbacks[i](); err != nil {
			t.status = TxFailed
			return &TransactionError{Msg: fmt.Sprintf("rollback %d failed", i), Cause: err}
		}
	}
	t.status = TxRolledBack
	return nil
}
