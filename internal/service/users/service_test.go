package users

import (
	"context"
	"errors"
	"testing"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/service/audit"
	"contractflow/internal/storage"
	"contractflow/internal/storage/storagetest"
)

func newService(t *testing.T) (*Service, *storage.DB) {
	t.Helper()
	db := storagetest.Open(t)
	return NewService(db), db
}

func register(t *testing.T, svc *Service, email string) *models.User {
	t.Helper()
	u, err := svc.Register(context.Background(), NewUser{Email: email, Password: "correct horse", FirstName: "Ana", LastName: "Lima"})
	if err != nil {
		t.Fatalf("Register %s: %v", email, err)
	}
	return u
}

func TestRegisterAndAuthenticate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u := register(t, svc, "  Ana@Example.com ")
	if u.Email != "ana@example.com" || u.Role != models.RoleUser || u.UUID == "" {
		t.Fatalf("unexpected user %+v", u)
	}
	if u.PasswordHash == "correct horse" {
		t.Fatalf("password stored in plaintext")
	}

	got, err := svc.Authenticate(ctx, "ANA@example.com", "correct horse")
	if err != nil || got.ID != u.ID {
		t.Fatalf("Authenticate = %+v, %v", got, err)
	}
	if _, err := svc.Authenticate(ctx, "ana@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "nobody@example.com", "x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown email should be invalid credentials, got %v", err)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc, "dup@example.com")
	_, err := svc.Register(context.Background(), NewUser{Email: "DUP@example.com", Password: "x"})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestChangePasswordAndProfile(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	u := register(t, svc, "bob@example.com")

	if err := svc.ChangePassword(ctx, u.ID, "bad", "new secret"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := svc.ChangePassword(ctx, u.ID, "correct horse", "new secret"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if _, err := svc.Authenticate(ctx, u.Email, "new secret"); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}

	updated, err := svc.UpdateProfile(ctx, u.ID, " Bob ", "Builder")
	if err != nil || updated.FirstName != "Bob" || updated.LastName != "Builder" {
		t.Fatalf("UpdateProfile = %+v, %v", updated, err)
	}

	logs, err := audit.NewService(db).List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	seen := map[models.AuditAction]bool{}
	for _, l := range logs {
		seen[l.Action] = true
	}
	for _, want := range []models.AuditAction{models.ActionUserCreated, models.ActionUserPasswordChanged, models.ActionUserUpdated} {
		if !seen[want] {
			t.Fatalf("missing audit action %s in %v", want, seen)
		}
	}
}

func TestChangeRole(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := register(t, svc, "admin@example.com")
	u := register(t, svc, "user@example.com")

	if _, err := svc.ChangeRole(ctx, admin.ID, u.UUID, "ROOT"); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected ErrInvalidRole, got %v", err)
	}
	got, err := svc.ChangeRole(ctx, admin.ID, u.UUID, models.RoleAdmin)
	if err != nil || got.Role != models.RoleAdmin {
		t.Fatalf("ChangeRole = %+v, %v", got, err)
	}
	if _, err := svc.ChangeRole(ctx, admin.ID, "missing-uuid", models.RoleAdmin); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteClearsContractReferences(t *testing.T) {
	svc, db := newService(t)
	ctx := context.Background()
	admin := register(t, svc, "admin@example.com")
	u := register(t, svc, "owner@example.com")

	if _, err := db.Exec(`INSERT INTO contracts (filename, status, provider, user_id, created_at, is_deleted, deleted_by_id) VALUES ('a.pdf', 'SUCCESS', 'simulated', ?, ?, 1, ?)`,
		u.ID, time.Now().UTC(), u.ID); err != nil {
		t.Fatalf("insert contract: %v", err)
	}

	if err := svc.Delete(ctx, admin.ID, admin.UUID); !errors.Is(err, ErrSelfDelete) {
		t.Fatalf("expected ErrSelfDelete, got %v", err)
	}
	if err := svc.Delete(ctx, admin.ID, u.UUID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.GetByUUID(ctx, u.UUID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("user still present: %v", err)
	}

	var owner, deleter *int64
	if err := db.QueryRow(`SELECT user_id, deleted_by_id FROM contracts WHERE filename = 'a.pdf'`).Scan(&owner, &deleter); err != nil {
		t.Fatalf("query contract: %v", err)
	}
	if owner != nil || deleter != nil {
		t.Fatalf("references not cleared: owner=%v deleter=%v", owner, deleter)
	}
}

func TestEnsureAdmin(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	u, created, err := svc.EnsureAdmin(ctx, "root@example.com", "pw")
	if err != nil || !created || u.Role != models.RoleAdmin {
		t.Fatalf("EnsureAdmin create = %+v, %v, %v", u, created, err)
	}

	existing := register(t, svc, "promote@example.com")
	u, created, err = svc.EnsureAdmin(ctx, "promote@example.com", "ignored")
	if err != nil || created || u.ID != existing.ID || u.Role != models.RoleAdmin {
		t.Fatalf("EnsureAdmin promote = %+v, %v, %v", u, created, err)
	}
	if _, err := svc.Authenticate(ctx, "promote@example.com", "correct horse"); err != nil {
		t.Fatalf("promotion must keep password: %v", err)
	}
}

func TestListUsers(t *testing.T) {
	svc, _ := newService(t)
	register(t, svc, "a@example.com")
	register(t, svc, "b@example.com")
	list, err := svc.List(context.Background())
	if err != nil || len(list) != 2 || list[0].Email != "a@example.com" {
		t.Fatalf("List = %+v, %v", list, err)
	}
}
