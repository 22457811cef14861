package collab

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/theopensystemslab/planx-new-sub014/internal/access"
	"github.com/theopensystemslab/planx-new-sub014/internal/sanitize"
	"github.com/theopensystemslab/planx-new-sub014/internal/store"
)

var ErrPermissionDenied = errors.New("PERMISSION_DENIED")

// Store is the storage-provider seam the OT engine commits through.
type Store interface {
	GetSnapshot(ctx context.Context, flowID string) (store.Snapshot, error)
	GetOps(ctx context.Context, flowID string, from, to uint64) ([]json.RawMessage, error)
	Commit(ctx context.Context, flowID string, op json.RawMessage, snap store.Snapshot) (bool, error)
}

// SubmitResult reports the outcome of one submit. A version conflict is a
// normal outcome, not an error: Applied is false and CurrentVersion tells
// the caller where to rebase from. Op is the sanitized payload as persisted;
// it is what must be fanned out to other editors so that live-applied and
// replayed history stay identical.
type SubmitResult struct {
	Applied        bool
	CurrentVersion uint64
	Op             json.RawMessage
}

// Service gates every storage call behind the access policy and fans
// applied operations out to other server instances.
type Service interface {
	Submit(ctx context.Context, flowID, actorID string, op json.RawMessage, snap store.Snapshot) (SubmitResult, error)
	Snapshot(ctx context.Context, flowID, actorID string) (store.Snapshot, error)
	Ops(ctx context.Context, flowID, actorID string, from, to uint64) ([]json.RawMessage, error)
}

type service struct {
	store      Store
	policy     access.Policy
	dispatcher *Dispatcher
}

func NewService(s Store, policy access.Policy, dispatcher *Dispatcher) Service {
	return &service{store: s, policy: policy, dispatcher: dispatcher}
}

// Submit runs the write path: permission check, then the store's sanitizing
// transactional commit. Denial is terminal for the action; the store call
// never runs.
func (s *service) Submit(ctx context.Context, flowID, actorID string, op json.RawMessage, snap store.Snapshot) (SubmitResult, error) {
	if !s.policy.Allow(access.ActionUpdate, "flows", flowID, snap.Data, actorID) ||
		!s.policy.Allow(access.ActionCreate, "operations", flowID, op, actorID) {
		return SubmitResult{}, fmt.Errorf("submit %s: %w", flowID, ErrPermissionDenied)
	}

	// Sanitize up front so the committed, broadcast, and published copies of
	// the op are all the same bytes. The store sanitizes again on its own
	// contract; the cleaner is idempotent, so that is a no-op.
	op, err := sanitize.CleanRaw(op)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("sanitize op: %w", err)
	}

	applied, err := s.store.Commit(ctx, flowID, op, snap)
	if err != nil {
		return SubmitResult{}, err
	}
	if !applied {
		current, err := s.store.GetSnapshot(ctx, flowID)
		if err != nil {
			return SubmitResult{}, err
		}
		return SubmitResult{Applied: false, CurrentVersion: current.Version}, nil
	}

	if s.dispatcher != nil {
		evt := FlowOpEvent{
			EventType: "OP_APPLIED",
			FlowID:    flowID,
			Version:   snap.Version,
			ActorID:   actorID,
			Op:        op,
			AppliedAt: time.Now(),
		}
		// fan-out is best effort; the commit already happened
		_ = s.dispatcher.Enqueue(ctx, evt)
	}

	return SubmitResult{Applied: true, CurrentVersion: snap.Version, Op: op}, nil
}

func (s *service) Snapshot(ctx context.Context, flowID, actorID string) (store.Snapshot, error) {
	if !s.policy.Allow(access.ActionRead, "flows", flowID, nil, actorID) {
		return store.Snapshot{}, fmt.Errorf("snapshot %s: %w", flowID, ErrPermissionDenied)
	}
	return s.store.GetSnapshot(ctx, flowID)
}

func (s *service) Ops(ctx context.Context, flowID, actorID string, from, to uint64) ([]json.RawMessage, error) {
	if !s.policy.Allow(access.ActionRead, "operations", flowID, nil, actorID) {
		return nil, fmt.Errorf("ops %s: %w", flowID, ErrPermissionDenied)
	}
	return s.store.GetOps(ctx, flowID, from, to)
}
