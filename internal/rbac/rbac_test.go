package rbac

import (
	"context"
	"errors"
	"testing"
)

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "reader read", role: RoleReader, action: ActionRead, allow: true},
		{name: "reader mutate", role: RoleReader, action: ActionMutate, allow: false},
		{name: "reader manage", role: RoleReader, action: ActionManageMembers, allow: false},
		{name: "writer mutate", role: RoleWriter, action: ActionMutate, allow: true},
		{name: "writer manage", role: RoleWriter, action: ActionManageMembers, allow: false},
		{name: "admin manage", role: RoleAdmin, action: ActionManageMembers, allow: true},
		{name: "admin mutate", role: RoleAdmin, action: ActionMutate, allow: true},
		{name: "writer manage board", role: RoleWriter, action: ActionManageBoard, allow: false},
		{name: "admin manage board", role: RoleAdmin, action: ActionManageBoard, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionRead, allow: false},
		{name: "unknown action", role: RoleAdmin, action: Action("delete_everything"), allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole(" Writer ")
	if err != nil {
		t.Fatalf("ParseRole() error = %v", err)
	}
	if role != RoleWriter {
		t.Fatalf("ParseRole() = %q, want writer", role)
	}
	if _, err := ParseRole("editor"); err == nil {
		t.Fatal("expected ParseRole(editor) to fail")
	}
	if _, err := ParseStatus("revoked"); err == nil {
		t.Fatal("expected ParseStatus(revoked) to fail")
	}
}

func TestRoleOrdering(t *testing.T) {
	if !RoleAdmin.AtLeast(RoleWriter) || !RoleWriter.AtLeast(RoleReader) {
		t.Fatal("role hierarchy broken")
	}
	if RoleReader.AtLeast(RoleWriter) {
		t.Fatal("reader must not satisfy writer")
	}
	if Role("").AtLeast(Role("")) {
		t.Fatal("empty role must not satisfy anything")
	}
}

type fakeDirectory struct {
	owners  map[string]string
	members map[string]fakeMember
	err     error
}

type fakeMember struct {
	role   Role
	status Status
}

func (f *fakeDirectory) BoardOwner(_ context.Context, boardID string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	owner, ok := f.owners[boardID]
	return owner, ok, nil
}

func (f *fakeDirectory) MemberRole(_ context.Context, boardID, userID string) (Role, Status, bool, error) {
	m, ok := f.members[boardID+"/"+userID]
	return m.role, m.status, ok, nil
}

func TestGuardAuthorize(t *testing.T) {
	dir := &fakeDirectory{
		owners: map[string]string{"b1": "owner"},
		members: map[string]fakeMember{
			"b1/wendy":  {role: RoleWriter, status: StatusActive},
			"b1/rita":   {role: RoleReader, status: StatusActive},
			"b1/pat":    {role: RoleAdmin, status: StatusPending},
			"b1/andrea": {role: RoleAdmin, status: StatusActive},
		},
	}
	guard := NewGuard(dir)

	cases := []struct {
		name    string
		user    string
		board   string
		action  Action
		allow   bool
		visible bool
	}{
		{name: "owner is implicit admin", user: "owner", board: "b1", action: ActionManageMembers, allow: true, visible: true},
		{name: "writer mutates", user: "wendy", board: "b1", action: ActionMutate, allow: true, visible: true},
		{name: "writer cannot manage", user: "wendy", board: "b1", action: ActionManageMembers, allow: false, visible: true},
		{name: "reader reads", user: "rita", board: "b1", action: ActionRead, allow: true, visible: true},
		{name: "reader cannot mutate", user: "rita", board: "b1", action: ActionMutate, allow: false, visible: true},
		{name: "pending grants nothing", user: "pat", board: "b1", action: ActionRead, allow: false, visible: false},
		{name: "active admin manages", user: "andrea", board: "b1", action: ActionManageMembers, allow: true, visible: true},
		{name: "stranger", user: "eve", board: "b1", action: ActionRead, allow: false, visible: false},
		{name: "missing board", user: "owner", board: "b2", action: ActionRead, allow: false, visible: false},
		{name: "anonymous", user: "", board: "b1", action: ActionRead, allow: false, visible: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := guard.Authorize(context.Background(), tc.user, tc.board, tc.action)
			if err != nil {
				t.Fatalf("Authorize() error = %v", err)
			}
			if decision.Allowed != tc.allow || decision.BoardVisible != tc.visible {
				t.Fatalf("Authorize() = %+v, want allowed=%v visible=%v", decision, tc.allow, tc.visible)
			}
		})
	}
}

func TestGuardPropagatesDirectoryErrors(t *testing.T) {
	boom := errors.New("db down")
	guard := NewGuard(&fakeDirectory{err: boom})
	if _, err := guard.Authorize(context.Background(), "u", "b", ActionRead); !errors.Is(err, boom) {
		t.Fatalf("Authorize() error = %v, want %v", err, boom)
	}
}
