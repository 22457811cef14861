package access

import "testing"

func TestRegistry_UnregisteredTypeDenied(t *testing.T) {
	reg := NewRegistry(AllowAll{}, "flows", "operations")

	if !reg.Allow(ActionUpdate, "flows", "f1", nil, "actor-1") {
		t.Fatal("registered type should be allowed by AllowAll")
	}
	if reg.Allow(ActionRead, "users", "u1", nil, "actor-1") {
		t.Fatal("unregistered type must be denied")
	}
}

func TestRegistry_DelegatesToPolicy(t *testing.T) {
	reg := NewRegistry(denyWrites{}, "flows")

	if !reg.Allow(ActionRead, "flows", "f1", nil, "actor-1") {
		t.Fatal("read should be allowed")
	}
	if reg.Allow(ActionUpdate, "flows", "f1", nil, "actor-1") {
		t.Fatal("update should be denied by policy")
	}
}

type denyWrites struct{}

func (denyWrites) Allow(action Action, _, _ string, _ any, _ string) bool {
	return action == ActionRead
}

func TestActionString(t *testing.T) {
	cases := map[Action]string{
		ActionCreate: "create",
		ActionRead:   "read",
		ActionUpdate: "update",
		ActionDelete: "delete",
	}
	for action, want := range cases {
		if got := action.String(); got != want {
			t.Fatalf("String() = %q, want %q", got, want)
		}
	}
}
