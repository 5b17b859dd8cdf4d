package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/rmarronnier/docusphere-sub011/internal/domain"
)

// Entity is the capability every workflow-bearing record exposes.
type Entity interface {
	Ref() domain.Ref
	CurrentWorkflowStatus() domain.WorkflowStatus
	SetWorkflowStatus(domain.WorkflowStatus)
	DomainStatus() string
}

// Tx is the write side of the persistence collaborator, scoped to one
// transaction.
type Tx interface {
	// UpdateWorkflowStatus moves ref from -> to and returns ErrStaleStatus
	// when the stored status is no longer from.
	UpdateWorkflowStatus(ctx context.Context, ref domain.Ref, from, to domain.WorkflowStatus) error
	SaveTransition(ctx context.Context, t domain.WorkflowTransition) error
	LoadWorkflowEntity(ctx context.Context, ref domain.Ref) (Entity, error)
}

// Store runs fn inside a single transaction, committing only when fn
// returns nil. Errors from fn are returned unchanged.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Hook runs inside the transition's transaction after the status update and
// history append. A non-nil error rolls everything back.
type Hook func(ctx context.Context, tx Tx, t domain.WorkflowTransition) error

// Hooks maps entity kind -> target status -> hook.
type Hooks map[string]map[domain.WorkflowStatus]Hook

// On registers fn for transitions of kind into status. Registering twice
// chains the hooks in registration order.
func (h Hooks) On(kind string, status domain.WorkflowStatus, fn Hook) {
	byStatus, ok := h[kind]
	if !ok {
		byStatus = map[domain.WorkflowStatus]Hook{}
		h[kind] = byStatus
	}
	prev := byStatus[status]
	if prev == nil {
		byStatus[status] = fn
		return
	}
	byStatus[status] = func(ctx context.Context, tx Tx, t domain.WorkflowTransition) error {
		if err := prev(ctx, tx, t); err != nil {
			return err
		}
		return fn(ctx, tx, t)
	}
}

func (h Hooks) lookup(kind string, status domain.WorkflowStatus) Hook {
	if h == nil {
		return nil
	}
	return h[kind][status]
}

// Machine is the shared transition engine for every entity kind.
type Machine struct {
	Store Store
	Hooks Hooks
	Now   func() time.Time
}

func New(store Store, hooks Hooks) *Machine {
	if hooks == nil {
		hooks = Hooks{}
	}
	return &Machine{Store: store, Hooks: hooks, Now: time.Now}
}

func (m *Machine) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *Machine) CanTransition(current, target domain.WorkflowStatus) bool {
	return CanTransition(current, target)
}

// Transition moves e to target in its own transaction. e is only updated in
// memory once the transaction has committed.
func (m *Machine) Transition(ctx context.Context, e Entity, target domain.WorkflowStatus, actorID, notes string) (domain.WorkflowTransition, error) {
	if err := check(e, target); err != nil {
		return domain.WorkflowTransition{}, err
	}
	var out domain.WorkflowTransition
	err := m.Store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		t, err := m.apply(ctx, tx, e.Ref(), e.CurrentWorkflowStatus(), target, actorID, notes)
		out = t
		return err
	})
	if err != nil {
		return domain.WorkflowTransition{}, err
	}
	e.SetWorkflowStatus(target)
	return out, nil
}

// TransitionTx is Transition inside a caller-owned transaction, used by hooks
// that cascade onto other entities.
func (m *Machine) TransitionTx(ctx context.Context, tx Tx, e Entity, target domain.WorkflowStatus, actorID, notes string) (domain.WorkflowTransition, error) {
	if err := check(e, target); err != nil {
		return domain.WorkflowTransition{}, err
	}
	t, err := m.apply(ctx, tx, e.Ref(), e.CurrentWorkflowStatus(), target, actorID, notes)
	if err != nil {
		return domain.WorkflowTransition{}, err
	}
	e.SetWorkflowStatus(target)
	return t, nil
}

func check(e Entity, target domain.WorkflowStatus) error {
	from := e.CurrentWorkflowStatus()
	if !CanTransition(from, target) {
		return &InvalidTransitionError{Ref: e.Ref(), From: from, To: target}
	}
	return nil
}

func (m *Machine) apply(ctx context.Context, tx Tx, ref domain.Ref, from, to domain.WorkflowStatus, actorID, notes string) (domain.WorkflowTransition, error) {
	if err := tx.UpdateWorkflowStatus(ctx, ref, from, to); err != nil {
		if errors.Is(err, ErrStaleStatus) {
			return domain.WorkflowTransition{}, &InvalidTransitionError{Ref: ref, From: from, To: to, Stale: true}
		}
		return domain.WorkflowTransition{}, err
	}
	t := domain.WorkflowTransition{
		ID:         uuid.NewString(),
		Entity:     ref,
		FromStatus: from,
		ToStatus:   to,
		ActorID:    actorID,
		Notes:      notes,
		OccurredAt: m.now().UTC().Format(time.RFC3339Nano),
	}
	if err := tx.SaveTransition(ctx, t); err != nil {
		return domain.WorkflowTransition{}, err
	}
	if hook := m.Hooks.lookup(ref.Kind, to); hook != nil {
		if err := hook(ctx, tx, t); err != nil {
			return domain.WorkflowTransition{}, &SideEffectError{Transition: t, Err: err}
		}
	}
	return t, nil
}
