package contracts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/readcache"
	"contractflow/internal/service/audit"
	"contractflow/internal/storage"
)

var (
	ErrNotFound     = errors.New("contract not found")
	ErrForbidden    = errors.New("not allowed to access this contract")
	ErrAlreadyFinal = errors.New("contract already finalized")
)

const defaultDetailTTL = time.Hour

// Service persists contract records and serves their cached read views.
type Service struct {
	db        *storage.DB
	cache     *readcache.Cache
	detailTTL time.Duration
}

func NewService(db *storage.DB, cache *readcache.Cache, detailTTL time.Duration) *Service {
	if detailTTL <= 0 {
		detailTTL = defaultDetailTTL
	}
	return &Service{db: db, cache: cache, detailTTL: detailTTL}
}

// Result is the terminal outcome written by Finalize.
type Result struct {
	Status  models.ContractStatus
	Data    map[string]any
	Summary string
}

const contractColumns = `id, filename, status, extracted_data, analysis_summary, provider, storage_key,
	user_id, created_at, is_deleted, deleted_at, deleted_by_id`

// Create inserts a PENDING record owned by ownerID and returns it.
func (s *Service) Create(ctx context.Context, ownerID int64, filename, provider string) (*models.Contract, error) {
	c := &models.Contract{
		Filename:  filename,
		Status:    models.StatusPending,
		Provider:  provider,
		UserID:    &ownerID,
		CreatedAt: time.Now().UTC(),
	}
	id, err := s.db.InsertID(ctx,
		`INSERT INTO contracts (filename, status, provider, user_id, created_at, is_deleted) VALUES (?, ?, ?, ?, ?, ?)`,
		c.Filename, string(c.Status), c.Provider, ownerID, c.CreatedAt, false,
	)
	if err != nil {
		return nil, fmt.Errorf("create contract: %w", err)
	}
	c.ID = id
	return c, nil
}

// SetStorageKey records where the original upload was archived.
func (s *Service) SetStorageKey(ctx context.Context, id int64, key string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE contracts SET storage_key = ? WHERE id = ?`, key, id); err != nil {
		return fmt.Errorf("set storage key: %w", err)
	}
	return nil
}

// Finalize moves a PENDING record to its terminal state. Only the first
// call has an effect; later calls return ErrAlreadyFinal.
func (s *Service) Finalize(ctx context.Context, id int64, r Result) error {
	if !r.Status.Terminal() {
		return fmt.Errorf("finalize with non terminal status %q", r.Status)
	}
	var (
		data    sql.NullString
		summary sql.NullString
	)
	if r.Status == models.StatusSuccess {
		b, err := json.Marshal(r.Data)
		if err != nil {
			return fmt.Errorf("encode extracted data: %w", err)
		}
		data = sql.NullString{String: string(b), Valid: true}
	} else {
		summary = sql.NullString{String: r.Summary, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE contracts SET status = ?, extracted_data = ?, analysis_summary = ? WHERE id = ? AND status = ?`,
		string(r.Status), data, summary, id, string(models.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("finalize contract %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrAlreadyFinal
	}
	s.cache.Invalidate(ctx, readcache.ContractPrefix(id))
	return nil
}

// Get loads a record regardless of deletion state.
func (s *Service) Get(ctx context.Context, id int64) (*models.Contract, error) {
	c, err := scanContract(s.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// visible loads a non deleted record the requester may see.
func (s *Service) visible(ctx context.Context, q storage.Querier, requester *models.User, id int64) (*models.Contract, error) {
	c, err := scanContract(q.QueryRowContext(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = ? AND is_deleted = ?`, id, false))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !canAccess(requester, c) {
		return nil, ErrForbidden
	}
	return c, nil
}

// Detail returns the requester's view of a record through the read cache.
func (s *Service) Detail(ctx context.Context, requester *models.User, id int64) (*models.Contract, error) {
	if requester == nil {
		return nil, ErrForbidden
	}
	return readcache.GetOrCompute(ctx, s.cache, readcache.ContractKey(id, requester.UUID), s.detailTTL,
		func(ctx context.Context) (*models.Contract, error) {
			return s.visible(ctx, s.db, requester, id)
		})
}

// List returns non deleted records, newest first. Admins see every record.
func (s *Service) List(ctx context.Context, requester *models.User) ([]*models.Contract, error) {
	query := `SELECT ` + contractColumns + ` FROM contracts WHERE is_deleted = ?`
	args := []any{false}
	if !requester.IsAdmin() {
		query += ` AND user_id = ?`
		args = append(args, requester.ID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contracts: %w", err)
	}
	defer rows.Close()
	out := make([]*models.Contract, 0)
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Stats counts visible records by status.
func (s *Service) Stats(ctx context.Context, requester *models.User) (*models.ContractStats, error) {
	query := `SELECT status, COUNT(*) FROM contracts WHERE is_deleted = ?`
	args := []any{false}
	if !requester.IsAdmin() {
		query += ` AND user_id = ?`
		args = append(args, requester.ID)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("contract stats: %w", err)
	}
	defer rows.Close()
	stats := &models.ContractStats{}
	for rows.Next() {
		var (
			status string
			count  int64
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		switch models.ContractStatus(status) {
		case models.StatusSuccess:
			stats.Analyzed = count
		case models.StatusPending:
			stats.Pending = count
		case models.StatusError:
			stats.Error = count
		}
	}
	return stats, rows.Err()
}

// SoftDelete hides a record from reads, records who deleted it and drops
// every cached view of it.
func (s *Service) SoftDelete(ctx context.Context, requester *models.User, id int64) error {
	if requester == nil {
		return ErrForbidden
	}
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		c, err := s.visible(ctx, tx, requester, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE contracts SET is_deleted = ?, deleted_at = ?, deleted_by_id = ? WHERE id = ?`,
			true, time.Now().UTC(), requester.ID, id,
		); err != nil {
			return fmt.Errorf("soft delete contract %d: %w", id, err)
		}
		return audit.Record(ctx, tx, &requester.ID, models.ActionContractDeleted, map[string]any{
			"contract_id": id,
			"filename":    c.Filename,
		})
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, readcache.ContractPrefix(id))
	return nil
}

func canAccess(u *models.User, c *models.Contract) bool {
	if u == nil {
		return false
	}
	if u.IsAdmin() {
		return true
	}
	return c.UserID != nil && *c.UserID == u.ID
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*models.Contract, error) {
	var (
		c          models.Contract
		status     string
		data       sql.NullString
		summary    sql.NullString
		storageKey sql.NullString
		userID     sql.NullInt64
		deletedAt  sql.NullTime
		deletedBy  sql.NullInt64
	)
	err := row.Scan(&c.ID, &c.Filename, &status, &data, &summary, &c.Provider, &storageKey,
		&userID, &c.CreatedAt, &c.IsDeleted, &deletedAt, &deletedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan contract: %w", err)
	}
	c.Status = models.ContractStatus(status)
	if data.Valid && strings.TrimSpace(data.String) != "" {
		if err := json.Unmarshal([]byte(data.String), &c.ExtractedData); err != nil {
			return nil, fmt.Errorf("decode extracted data of contract %d: %w", c.ID, err)
		}
	}
	if summary.Valid {
		c.AnalysisSummary = &summary.String
	}
	if storageKey.Valid {
		c.StorageKey = &storageKey.String
	}
	if userID.Valid {
		c.UserID = &userID.Int64
	}
	if deletedAt.Valid {
		c.DeletedAt = &deletedAt.Time
	}
	if deletedBy.Valid {
		c.DeletedByID = &deletedBy.Int64
	}
	return &c, nil
}
