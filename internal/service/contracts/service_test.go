package contracts

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/readcache"
	"contractflow/internal/service/audit"
	"contractflow/internal/service/users"
	"contractflow/internal/storage"
	"contractflow/internal/storage/storagetest"

	"github.com/xuri/excelize/v2"
)

type fixture struct {
	db    *storage.DB
	svc   *Service
	users *users.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.Open(t)
	return &fixture{
		db:    db,
		svc:   NewService(db, readcache.New(nil, 64, time.Minute), time.Hour),
		users: users.NewService(db),
	}
}

func (f *fixture) user(t *testing.T, email string, role models.Role) *models.User {
	t.Helper()
	ctx := context.Background()
	var (
		u   *models.User
		err error
	)
	if role == models.RoleAdmin {
		u, _, err = f.users.EnsureAdmin(ctx, email, "pw")
	} else {
		u, err = f.users.Register(ctx, users.NewUser{Email: email, Password: "pw"})
	}
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (f *fixture) contract(t *testing.T, owner *models.User, name string) *models.Contract {
	t.Helper()
	c, err := f.svc.Create(context.Background(), owner.ID, name, "simulated")
	if err != nil {
		t.Fatalf("create contract: %v", err)
	}
	return c
}

func sampleDoc() map[string]any {
	return map[string]any{
		"mandatory_fields": map[string]any{"parties": "A and B", "term": "12 months"},
		"crucial_fields":   map[string]any{"jurisdiction": "Lisbon"},
	}
}

func TestCreateStartsPending(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "owner@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.pdf")
	if c.ID == 0 || c.Status != models.StatusPending {
		t.Fatalf("unexpected snapshot %+v", c)
	}
	got, err := f.svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusPending || got.ExtractedData != nil || got.AnalysisSummary != nil {
		t.Fatalf("pending record should carry no result, got %+v", got)
	}
	if got.UserID == nil || *got.UserID != owner.ID {
		t.Fatalf("owner not stored: %+v", got.UserID)
	}
}

func TestFinalizeOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.pdf")

	if err := f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusSuccess, Data: sampleDoc()}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	err := f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusError, Summary: "late"})
	if !errors.Is(err, ErrAlreadyFinal) {
		t.Fatalf("expected ErrAlreadyFinal, got %v", err)
	}
	if err := f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusPending}); err == nil {
		t.Fatalf("finalizing to PENDING should fail")
	}

	got, _ := f.svc.Get(ctx, c.ID)
	if got.Status != models.StatusSuccess || got.AnalysisSummary != nil {
		t.Fatalf("unexpected final record %+v", got)
	}
	mandatory, _ := got.ExtractedData["mandatory_fields"].(map[string]any)
	if mandatory["parties"] != "A and B" {
		t.Fatalf("extracted data not persisted: %+v", got.ExtractedData)
	}
}

func TestFinalizeErrorKeepsSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.txt")

	if err := f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusError, Summary: "unsupported"}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	got, _ := f.svc.Get(ctx, c.ID)
	if got.Status != models.StatusError || got.AnalysisSummary == nil || *got.AnalysisSummary != "unsupported" {
		t.Fatalf("unexpected record %+v", got)
	}
	if got.ExtractedData != nil {
		t.Fatalf("error record must not carry data")
	}
}

func TestDetailAccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	other := f.user(t, "other@example.com", models.RoleUser)
	admin := f.user(t, "admin@example.com", models.RoleAdmin)
	c := f.contract(t, owner, "a.pdf")

	if got, err := f.svc.Detail(ctx, owner, c.ID); err != nil || got.ID != c.ID {
		t.Fatalf("owner Detail = %+v, %v", got, err)
	}
	if _, err := f.svc.Detail(ctx, admin, c.ID); err != nil {
		t.Fatalf("admin Detail: %v", err)
	}
	if _, err := f.svc.Detail(ctx, other, c.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := f.svc.Detail(ctx, owner, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDetailServedFromCacheUntilFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.pdf")

	first, err := f.svc.Detail(ctx, owner, c.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	// change the row behind the cache's back
	if _, err := f.db.ExecContext(ctx, `UPDATE contracts SET filename = ? WHERE id = ?`, "renamed.pdf", c.ID); err != nil {
		t.Fatalf("update: %v", err)
	}
	second, err := f.svc.Detail(ctx, owner, c.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if second.Filename != first.Filename {
		t.Fatalf("second read should be cached, got %q", second.Filename)
	}

	if err := f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusSuccess, Data: sampleDoc()}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	third, err := f.svc.Detail(ctx, owner, c.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if third.Filename != "renamed.pdf" || third.Status != models.StatusSuccess {
		t.Fatalf("finalize should drop cached views, got %+v", third)
	}
}

func TestListAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	other := f.user(t, "other@example.com", models.RoleUser)
	admin := f.user(t, "admin@example.com", models.RoleAdmin)

	a := f.contract(t, owner, "a.pdf")
	b := f.contract(t, owner, "b.pdf")
	c := f.contract(t, other, "c.pdf")
	_ = f.svc.Finalize(ctx, a.ID, Result{Status: models.StatusSuccess, Data: sampleDoc()})
	_ = f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusError, Summary: "x"})

	list, err := f.svc.List(ctx, owner)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != b.ID || list[1].ID != a.ID {
		t.Fatalf("owner list should be own records newest first, got %d items", len(list))
	}
	all, _ := f.svc.List(ctx, admin)
	if len(all) != 3 {
		t.Fatalf("admin should see all records, got %d", len(all))
	}

	stats, err := f.svc.Stats(ctx, owner)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if *stats != (models.ContractStats{Analyzed: 1, Pending: 1}) {
		t.Fatalf("owner stats = %+v", stats)
	}
	stats, _ = f.svc.Stats(ctx, admin)
	if *stats != (models.ContractStats{Analyzed: 1, Pending: 1, Error: 1}) {
		t.Fatalf("admin stats = %+v", stats)
	}
}

func TestSoftDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	other := f.user(t, "other@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.pdf")

	// warm the cache so deletion has something to invalidate
	if _, err := f.svc.Detail(ctx, owner, c.ID); err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if err := f.svc.SoftDelete(ctx, other, c.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := f.svc.SoftDelete(ctx, owner, c.ID); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := f.svc.SoftDelete(ctx, owner, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if _, err := f.svc.Detail(ctx, owner, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted record should be hidden, got %v", err)
	}
	if list, _ := f.svc.List(ctx, owner); len(list) != 0 {
		t.Fatalf("deleted record listed")
	}
	if stats, _ := f.svc.Stats(ctx, owner); stats.Pending != 0 {
		t.Fatalf("deleted record counted: %+v", stats)
	}

	got, _ := f.svc.Get(ctx, c.ID)
	if !got.IsDeleted || got.DeletedAt == nil || got.DeletedByID == nil || *got.DeletedByID != owner.ID {
		t.Fatalf("deletion not recorded: %+v", got)
	}

	logs, err := audit.NewService(f.db).List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(logs) == 0 || logs[0].Action != models.ActionContractDeleted {
		t.Fatalf("expected CONTRACT_DELETED audit entry first, got %+v", logs)
	}
	if logs[0].Details["filename"] != "a.pdf" {
		t.Fatalf("unexpected audit details %+v", logs[0].Details)
	}
}

func TestReapStale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	stale := f.contract(t, owner, "old.pdf")
	done := f.contract(t, owner, "done.pdf")
	_ = f.svc.Finalize(ctx, done.ID, Result{Status: models.StatusSuccess, Data: sampleDoc()})

	n, err := f.svc.ReapStale(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ReapStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped record, got %d", n)
	}
	got, _ := f.svc.Get(ctx, stale.ID)
	if got.Status != models.StatusError || got.AnalysisSummary == nil {
		t.Fatalf("stale record not failed: %+v", got)
	}
	if n, _ := f.svc.ReapStale(ctx, time.Now().UTC().Add(-time.Hour)); n != 0 {
		t.Fatalf("fresh records must not be reaped")
	}
}

func TestExportXLSX(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.user(t, "owner@example.com", models.RoleUser)
	c := f.contract(t, owner, "a.pdf")
	_ = f.svc.Finalize(ctx, c.ID, Result{Status: models.StatusSuccess, Data: sampleDoc()})

	raw, err := f.svc.ExportXLSX(ctx, owner)
	if err != nil {
		t.Fatalf("ExportXLSX: %v", err)
	}
	wb, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("open workbook: %v", err)
	}
	defer wb.Close()
	rows, err := wb.GetRows(exportSheet)
	if err != nil {
		t.Fatalf("GetRows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header and one row, got %d rows", len(rows))
	}
	if rows[0][0] != "ID" || rows[1][1] != "a.pdf" || rows[1][2] != "SUCCESS" {
		t.Fatalf("unexpected rows %v", rows)
	}
	if rows[1][6] != "A and B" {
		t.Fatalf("parties column = %q", rows[1][6])
	}
}
