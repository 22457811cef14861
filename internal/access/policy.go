package access

// Action is one of the four operations a policy can rule on.
type Action int

const (
	ActionCreate Action = iota
	ActionRead
	ActionUpdate
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionRead:
		return "read"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Policy decides whether an actor may perform an action on an entity.
// Implementations must be safe for concurrent use.
type Policy interface {
	Allow(action Action, entityType, id string, data any, actorID string) bool
}

// Registry wraps a Policy with a fixed enumeration of permitted entity
// types. Anything not registered is denied before the policy is consulted.
type Registry struct {
	types  map[string]struct{}
	policy Policy
}

func NewRegistry(policy Policy, entityTypes ...string) *Registry {
	types := make(map[string]struct{}, len(entityTypes))
	for _, t := range entityTypes {
		types[t] = struct{}{}
	}
	return &Registry{types: types, policy: policy}
}

func (r *Registry) Allow(action Action, entityType, id string, data any, actorID string) bool {
	if _, ok := r.types[entityType]; !ok {
		return false
	}
	return r.policy.Allow(action, entityType, id, data, actorID)
}

// AllowAll grants every action unconditionally. It is the reference policy;
// a stricter one (e.g. named collaborators per flow) can replace it without
// touching the store.
type AllowAll struct{}

func (AllowAll) Allow(Action, string, string, any, string) bool { return true }
