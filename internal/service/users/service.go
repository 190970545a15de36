package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow/internal/models"
	"contractflow/internal/service/audit"
	"contractflow/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("user not found")
	ErrSelfDelete         = errors.New("admins cannot delete their own account")
	ErrInvalidRole        = errors.New("invalid role")
)

// Service handles account lifecycle.
type Service struct {
	db *storage.DB
}

func NewService(db *storage.DB) *Service {
	return &Service{db: db}
}

// NewUser carries the fields needed to create an account.
type NewUser struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      models.Role
}

const userColumns = `id, uuid, email, password_hash, first_name, last_name, role, created_at`

// Register creates a USER account for self sign-up.
func (s *Service) Register(ctx context.Context, in NewUser) (*models.User, error) {
	in.Role = models.RoleUser
	return s.create(ctx, nil, in)
}

// Create lets an admin create an account with any role.
func (s *Service) Create(ctx context.Context, actorID int64, in NewUser) (*models.User, error) {
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	return s.create(ctx, &actorID, in)
}

func (s *Service) create(ctx context.Context, actorID *int64, in NewUser) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, errors.New("email and password are required")
	}
	if !in.Role.Valid() {
		return nil, ErrInvalidRole
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		UUID:         uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Role:         in.Role,
		CreatedAt:    time.Now().UTC(),
	}

	err = s.db.WithTx(ctx, func(tx *storage.Tx) error {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`, email).Scan(&exists); err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if exists {
			return ErrEmailTaken
		}
		id, err := tx.InsertID(ctx,
			`INSERT INTO users (uuid, email, password_hash, first_name, last_name, role, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			user.UUID, user.Email, user.PasswordHash, user.FirstName, user.LastName, string(user.Role), user.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		user.ID = id
		actor := actorID
		if actor == nil {
			actor = &id
		}
		return audit.Record(ctx, tx, actor, models.ActionUserCreated, map[string]any{
			"user_uuid": user.UUID,
			"email":     user.Email,
			"role":      string(user.Role),
		})
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate validates credentials and returns the user profile.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (s *Service) GetByUUID(ctx context.Context, userUUID string) (*models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE uuid = ?`, userUUID)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, normalizeEmail(email))
}

// List returns every account, oldest first.
func (s *Service) List(ctx context.Context) ([]*models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	var out []*models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateProfile changes the display name of the user.
func (s *Service) UpdateProfile(ctx context.Context, id int64, firstName, lastName string) (*models.User, error) {
	firstName, lastName = strings.TrimSpace(firstName), strings.TrimSpace(lastName)
	err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET first_name = ?, last_name = ? WHERE id = ?`, firstName, lastName, id)
		if err != nil {
			return fmt.Errorf("update profile: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return audit.Record(ctx, tx, &id, models.ActionUserUpdated, map[string]any{
			"first_name": firstName,
			"last_name":  lastName,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, id)
}

// ChangePassword replaces the password after checking the current one.
func (s *Service) ChangePassword(ctx context.Context, id int64, oldPassword, newPassword string) error {
	user, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(oldPassword)) != nil {
		return ErrInvalidCredentials
	}
	return s.SetPassword(ctx, id, newPassword)
}

// SetPassword replaces the password without checking the current one.
// Used by the reset flow once the reset token was verified.
func (s *Service) SetPassword(ctx context.Context, id int64, newPassword string) error {
	if newPassword == "" {
		return errors.New("password is required")
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *storage.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, hash, id)
		if err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return audit.Record(ctx, tx, &id, models.ActionUserPasswordChanged, nil)
	})
}

// ChangeRole sets the role of the user identified by targetUUID.
func (s *Service) ChangeRole(ctx context.Context, actorID int64, targetUUID string, role models.Role) (*models.User, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	target, err := s.GetByUUID(ctx, targetUUID)
	if err != nil {
		return nil, err
	}
	if target.Role == role {
		return target, nil
	}
	err = s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE users SET role = ? WHERE id = ?`, string(role), target.ID); err != nil {
			return fmt.Errorf("update role: %w", err)
		}
		return audit.Record(ctx, tx, &actorID, models.ActionUserRoleChanged, map[string]any{
			"user_uuid": target.UUID,
			"old_role":  string(target.Role),
			"new_role":  string(role),
		})
	})
	if err != nil {
		return nil, err
	}
	target.Role = role
	return target, nil
}

// Delete removes the account identified by targetUUID. Contracts it owned
// or deleted keep existing with the reference cleared.
func (s *Service) Delete(ctx context.Context, actorID int64, targetUUID string) error {
	target, err := s.GetByUUID(ctx, targetUUID)
	if err != nil {
		return err
	}
	if target.ID == actorID {
		return ErrSelfDelete
	}
	return s.db.WithTx(ctx, func(tx *storage.Tx) error {
		stmts := []string{
			`UPDATE contracts SET user_id = NULL WHERE user_id = ?`,
			`UPDATE contracts SET deleted_by_id = NULL WHERE deleted_by_id = ?`,
			`UPDATE audit_logs SET user_id = NULL WHERE user_id = ?`,
			`DELETE FROM user_tokens WHERE user_id = ?`,
			`DELETE FROM users WHERE id = ?`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, target.ID); err != nil {
				return fmt.Errorf("delete user: %w", err)
			}
		}
		return audit.Record(ctx, tx, &actorID, models.ActionUserDeleted, map[string]any{
			"user_uuid": target.UUID,
			"email":     target.Email,
		})
	})
}

// EnsureAdmin promotes the account with email to ADMIN, creating it with
// password when it does not exist. It reports whether an account was created.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) (*models.User, bool, error) {
	existing, err := s.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role == models.RoleAdmin {
			return existing, false, nil
		}
		user, err := s.ChangeRole(ctx, existing.ID, existing.UUID, models.RoleAdmin)
		return user, false, err
	case errors.Is(err, ErrNotFound):
		user, err := s.create(ctx, nil, NewUser{Email: email, Password: password, Role: models.RoleAdmin})
		return user, err == nil, err
	default:
		return nil, false, err
	}
}

func (s *Service) getOne(ctx context.Context, query string, arg any) (*models.User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u    models.User
		role string
	)
	if err := row.Scan(&u.ID, &u.UUID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &role, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Role = models.Role(role)
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}
