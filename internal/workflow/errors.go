package workflow

import (
	"errors"
	"fmt"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrSideEffectFailed  = errors.New("transition side effect failed")
	// ErrStaleStatus is returned by Tx.UpdateWorkflowStatus when the stored
	// status no longer matches the expected one.
	ErrStaleStatus = errors.New("workflow status changed concurrently")
)

// InvalidTransitionError carries the rejected edge. Stale is set when the
// edge was valid but another writer moved the entity first.
type InvalidTransitionError struct {
	Ref   domain.Ref
	From  domain.WorkflowStatus
	To    domain.WorkflowStatus
	Stale bool
}

func (e *InvalidTransitionError) Error() string {
	if e.Stale {
		return fmt.Sprintf("invalid transition for %s: status is no longer %s", e.Ref, e.From)
	}
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.Ref, e.From, e.To)
}

func (e *InvalidTransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// SideEffectError wraps a failing post-transition hook.
type SideEffectError struct {
	Transition domain.WorkflowTransition
	Err        error
}

func (e *SideEffectError) Error() string {
	return fmt.Sprintf("transition side effect failed for %s -> %s: %v", e.Transition.Entity, e.Transition.ToStatus, e.Err)
}

func (e *SideEffectError) Is(target error) bool { return target == ErrSideEffectFailed }
func (e *SideEffectError) Unwrap() error        { return e.Err }
