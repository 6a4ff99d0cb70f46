package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"kanban/api/internal/config"
	"kanban/api/internal/orderkey"
	"kanban/api/internal/rbac"
	"kanban/api/internal/store"
)

// fakeStore is a MemoryStore with injectable failures.
type fakeStore struct {
	*store.MemoryStore
	pingFn         func(context.Context) error
	listCardsFn    func(context.Context, string) ([]store.Card, error)
	insertColumnFn func(context.Context, store.Column) (store.Column, error)
	invitations    int
}

func (f *fakeStore) InsertColumn(ctx context.Context, col store.Column) (store.Column, error) {
	if f.insertColumnFn != nil {
		return f.insertColumnFn(ctx, col)
	}
	return f.MemoryStore.InsertColumn(ctx, col)
}

func (f *fakeStore) InsertInvitation(ctx context.Context, inv store.Invitation) (store.Invitation, error) {
	f.invitations++
	return f.MemoryStore.InsertInvitation(ctx, inv)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return f.MemoryStore.Ping(ctx)
}

func (f *fakeStore) ListBoardCards(ctx context.Context, boardID string) ([]store.Card, error) {
	if f.listCardsFn != nil {
		return f.listCardsFn(ctx, boardID)
	}
	return f.MemoryStore.ListBoardCards(ctx, boardID)
}

var (
	alice = Caller{UserID: "alice", Name: "Alice"}
	bob   = Caller{UserID: "bob", Name: "Bob"}
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *fakeStore) {
	t.Helper()
	fs := &fakeStore{MemoryStore: store.NewMemoryStore()}
	return New(config.Default(), fs, WithLogger(discardLogger())), fs
}

func mustCreateBoard(t *testing.T, svc *Service, owner Caller) string {
	t.Helper()
	board, err := svc.CreateBoard(context.Background(), owner, CreateBoardInput{Name: "Roadmap"})
	if err != nil {
		t.Fatalf("CreateBoard() error = %v", err)
	}
	return board["id"].(string)
}

func mustCreateColumn(t *testing.T, svc *Service, caller Caller, boardID string, input CreateColumnInput) map[string]any {
	t.Helper()
	col, err := svc.CreateColumn(context.Background(), caller, boardID, input)
	if err != nil {
		t.Fatalf("CreateColumn(%q) error = %v", input.Name, err)
	}
	return col
}

func mustCreateCard(t *testing.T, svc *Service, caller Caller, boardID, columnID string, input CreateCardInput) map[string]any {
	t.Helper()
	card, err := svc.CreateCard(context.Background(), caller, boardID, columnID, input)
	if err != nil {
		t.Fatalf("CreateCard(%q) error = %v", input.Title, err)
	}
	return card
}

func addMember(t *testing.T, svc *Service, boardID, userID string, role rbac.Role) {
	t.Helper()
	if _, err := svc.InviteMember(context.Background(), alice, boardID, InviteMemberInput{Role: string(role), UserID: userID}); err != nil {
		t.Fatalf("InviteMember(%s) error = %v", userID, err)
	}
}

func assertStatus(t *testing.T, err error, want int, wantCode string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %d %s, got nil error", want, wantCode)
	}
	status, code, _, _ := mapError(err)
	if status != want || code != wantCode {
		t.Fatalf("mapError(%v) = %d %s, want %d %s", err, status, code, want, wantCode)
	}
}

func TestCreateColumnBetweenNeighbours(t *testing.T) {
	svc, fs := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	for id, key := range map[string]string{"col_m": "m", "col_r": "r"} {
		if _, err := fs.InsertColumn(ctx, store.Column{ID: id, BoardID: boardID, Name: id, SortKey: orderkey.Key(key)}); err != nil {
			t.Fatalf("InsertColumn() error = %v", err)
		}
	}

	col := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{
		Name:           "Doing",
		AfterColumnID:  "col_m",
		BeforeColumnID: "col_r",
	})
	if col["sortKey"] != "o" {
		t.Fatalf("sortKey = %v, want o", col["sortKey"])
	}
	if col["version"] != int64(0) {
		t.Fatalf("version = %v, want 0", col["version"])
	}

	board, err := svc.GetBoard(ctx, alice, boardID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	columns := board["columns"].([]map[string]any)
	got := []any{columns[0]["id"], columns[1]["name"], columns[2]["id"]}
	want := []any{"col_m", "Doing", "col_r"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("column order = %v, want %v", got, want)
		}
	}
}

func TestCreateColumnAppendsByDefault(t *testing.T) {
	svc, _ := newTestService(t)
	boardID := mustCreateBoard(t, svc, alice)

	todo := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Todo"})
	done := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Done"})
	first := orderkey.Key(todo["sortKey"].(string))
	second := orderkey.Key(done["sortKey"].(string))
	if !first.Less(second) {
		t.Fatalf("expected %q < %q", first, second)
	}
}

func TestCreateColumnRejectsUnknownAnchor(t *testing.T) {
	svc, _ := newTestService(t)
	boardID := mustCreateBoard(t, svc, alice)

	_, err := svc.CreateColumn(context.Background(), alice, boardID, CreateColumnInput{Name: "Todo", AfterColumnID: "col_missing"})
	assertStatus(t, err, http.StatusUnprocessableEntity, "INVALID_ANCHOR")
}

func TestCreateColumnValidation(t *testing.T) {
	svc, _ := newTestService(t)
	boardID := mustCreateBoard(t, svc, alice)

	_, err := svc.CreateColumn(context.Background(), alice, boardID, CreateColumnInput{Name: "   "})
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %T", err)
	}
	details := domainErr.Details.(map[string]string)
	if details["name"] != "required" {
		t.Fatalf("details = %v, want name=required", details)
	}
}

func TestMoveCardVersionFence(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	todo := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Todo"})
	done := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Done"})
	card := mustCreateCard(t, svc, alice, boardID, todo["id"].(string), CreateCardInput{Title: "Write docs"})

	zero := int64(0)
	moved, err := svc.MoveCard(ctx, alice, boardID, card["id"].(string), MoveCardInput{
		ToColumnID:      done["id"].(string),
		ExpectedVersion: &zero,
	})
	if err != nil {
		t.Fatalf("MoveCard() error = %v", err)
	}
	if moved["columnId"] != done["id"] || moved["version"] != int64(1) {
		t.Fatalf("moved = %v, want column %v version 1", moved, done["id"])
	}

	_, err = svc.MoveCard(ctx, alice, boardID, card["id"].(string), MoveCardInput{
		ToColumnID:      todo["id"].(string),
		ExpectedVersion: &zero,
	})
	assertStatus(t, err, http.StatusPreconditionFailed, "PRECONDITION_FAILED")
}

func TestMoveCardAcrossBoardsIsInvalid(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardA := mustCreateBoard(t, svc, alice)
	boardB := mustCreateBoard(t, svc, alice)
	colA := mustCreateColumn(t, svc, alice, boardA, CreateColumnInput{Name: "Todo"})
	colB := mustCreateColumn(t, svc, alice, boardB, CreateColumnInput{Name: "Todo"})
	card := mustCreateCard(t, svc, alice, boardA, colA["id"].(string), CreateCardInput{Title: "Ship"})

	_, err := svc.MoveCard(ctx, alice, boardA, card["id"].(string), MoveCardInput{ToColumnID: colB["id"].(string)})
	assertStatus(t, err, http.StatusConflict, "INVALID_MOVE")

	_, err = svc.MoveCard(ctx, alice, boardA, "card_missing", MoveCardInput{})
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestCreateCardInMissingColumn(t *testing.T) {
	svc, _ := newTestService(t)
	boardID := mustCreateBoard(t, svc, alice)

	_, err := svc.CreateCard(context.Background(), alice, boardID, "col_missing", CreateCardInput{Title: "Orphan"})
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestAuthorizationOutcomes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	col := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Todo"})

	_, err := svc.GetBoard(ctx, bob, boardID)
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")

	addMember(t, svc, boardID, bob.UserID, rbac.RoleReader)
	if _, err := svc.GetBoard(ctx, bob, boardID); err != nil {
		t.Fatalf("reader GetBoard() error = %v", err)
	}
	_, err = svc.CreateCard(ctx, bob, boardID, col["id"].(string), CreateCardInput{Title: "Nope"})
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")
	_, err = svc.UpdateBoard(ctx, bob, boardID, UpdateBoardInput{Name: ptr("Renamed")})
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")

	allowed, err := svc.Authorize(ctx, alice.UserID, boardID, rbac.ActionManageBoard)
	if err != nil || !allowed {
		t.Fatalf("Authorize(owner) = %v, %v", allowed, err)
	}
	allowed, err = svc.Authorize(ctx, bob.UserID, boardID, rbac.ActionMutate)
	if err != nil || allowed {
		t.Fatalf("Authorize(reader, mutate) = %v, %v", allowed, err)
	}
}

func TestPendingInvitationGrantsNothing(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)

	result, err := svc.InviteMember(ctx, alice, boardID, InviteMemberInput{Role: "writer", Email: "Carol@Example.com"})
	if err != nil {
		t.Fatalf("InviteMember() error = %v", err)
	}
	membership := result["membership"].(map[string]any)
	if membership["status"] != rbac.StatusPending || membership["userId"] != "carol@example.com" {
		t.Fatalf("membership = %v", membership)
	}
	invitation := result["invitation"].(map[string]any)
	if invitation["token"] == "" {
		t.Fatalf("invitation token is empty")
	}

	_, err = svc.GetBoard(ctx, Caller{UserID: "carol@example.com"}, boardID)
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")

	_, err = svc.InviteMember(ctx, alice, boardID, InviteMemberInput{Role: "writer"})
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	_, err = svc.InviteMember(ctx, alice, boardID, InviteMemberInput{Role: "owner", UserID: "dave"})
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")
}

func TestWriterEditsCards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	addMember(t, svc, boardID, bob.UserID, rbac.RoleWriter)
	col := mustCreateColumn(t, svc, bob, boardID, CreateColumnInput{Name: "Todo"})
	card := mustCreateCard(t, svc, bob, boardID, col["id"].(string), CreateCardInput{Title: "Draft"})
	cardID := card["id"].(string)

	updated, err := svc.UpdateCard(ctx, bob, boardID, cardID, UpdateCardInput{Title: ptr("  Final  ")})
	if err != nil {
		t.Fatalf("UpdateCard() error = %v", err)
	}
	if updated["title"] != "Final" || updated["version"] != int64(1) {
		t.Fatalf("updated = %v", updated)
	}

	stale := int64(0)
	_, err = svc.UpdateCard(ctx, bob, boardID, cardID, UpdateCardInput{Title: ptr("Again"), ExpectedVersion: &stale})
	assertStatus(t, err, http.StatusPreconditionFailed, "PRECONDITION_FAILED")

	_, err = svc.UpdateCard(ctx, bob, boardID, cardID, UpdateCardInput{})
	assertStatus(t, err, http.StatusUnprocessableEntity, "VALIDATION_ERROR")

	err = svc.DeleteBoard(ctx, bob, boardID)
	assertStatus(t, err, http.StatusForbidden, "FORBIDDEN")
}

func TestDeleteColumnRemovesCards(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	col := mustCreateColumn(t, svc, alice, boardID, CreateColumnInput{Name: "Todo"})
	card := mustCreateCard(t, svc, alice, boardID, col["id"].(string), CreateCardInput{Title: "Gone soon"})

	if err := svc.DeleteColumn(ctx, alice, boardID, col["id"].(string)); err != nil {
		t.Fatalf("DeleteColumn() error = %v", err)
	}
	err := svc.DeleteCard(ctx, alice, boardID, card["id"].(string))
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")

	board, err := svc.GetBoard(ctx, alice, boardID)
	if err != nil {
		t.Fatalf("GetBoard() error = %v", err)
	}
	if n := len(board["cards"].([]map[string]any)); n != 0 {
		t.Fatalf("cards left = %d, want 0", n)
	}
}

func TestColumnsOfOtherBoardsAreHidden(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardA := mustCreateBoard(t, svc, alice)
	boardB := mustCreateBoard(t, svc, alice)
	col := mustCreateColumn(t, svc, alice, boardB, CreateColumnInput{Name: "Todo"})

	_, err := svc.RenameColumn(ctx, alice, boardA, col["id"].(string), RenameColumnInput{Name: "Later"})
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")
	err = svc.DeleteColumn(ctx, alice, boardA, col["id"].(string))
	assertStatus(t, err, http.StatusNotFound, "NOT_FOUND")
}

func TestListBoardsShowsRole(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	addMember(t, svc, boardID, bob.UserID, rbac.RoleWriter)

	result, err := svc.ListBoards(ctx, bob)
	if err != nil {
		t.Fatalf("ListBoards() error = %v", err)
	}
	items := result["items"].([]map[string]any)
	if len(items) != 1 {
		t.Fatalf("items = %d, want 1", len(items))
	}
	if items[0]["myRole"] != rbac.RoleWriter || items[0]["membersCount"] != 2 {
		t.Fatalf("item = %v", items[0])
	}
}

func TestGetBoardStoreFailure(t *testing.T) {
	svc, fs := newTestService(t)
	boardID := mustCreateBoard(t, svc, alice)
	fs.listCardsFn = func(context.Context, string) ([]store.Card, error) {
		return nil, errors.New("connection reset")
	}

	_, err := svc.GetBoard(context.Background(), alice, boardID)
	assertStatus(t, err, http.StatusInternalServerError, "SERVER_ERROR")
}

func ptr[T any](v T) *T {
	return &v
}

func TestInviteExistingEmailRecordsNoInvitation(t *testing.T) {
	svc, fs := newTestService(t)
	ctx := context.Background()
	boardID := mustCreateBoard(t, svc, alice)
	input := InviteMemberInput{Role: "reader", Email: "carol@example.com"}

	first, err := svc.InviteMember(ctx, alice, boardID, input)
	if err != nil {
		t.Fatalf("InviteMember() error = %v", err)
	}
	if _, ok := first["invitation"]; !ok {
		t.Fatalf("first invite returned no invitation: %v", first)
	}

	input.Role = "admin"
	second, err := svc.InviteMember(ctx, alice, boardID, input)
	if err != nil {
		t.Fatalf("InviteMember() again error = %v", err)
	}
	if _, ok := second["invitation"]; ok {
		t.Fatalf("repeat invite recorded an invitation: %v", second)
	}
	membership := second["membership"].(map[string]any)
	if membership["role"] != rbac.RoleReader || membership["status"] != rbac.StatusPending {
		t.Fatalf("membership = %v, want the original pending reader", membership)
	}
	if fs.invitations != 1 {
		t.Fatalf("invitations inserted = %d, want 1", fs.invitations)
	}
}
