package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a lookup matches no user.
var ErrNotFound = errors.New("user not found")

const userColumns = `
	id, username, email, name, role, status,
	password_hash, password_changed_at,
	failed_login_attempts, locked_until,
	two_factor_enabled, two_factor_secret, two_factor_recovery_codes,
	remember_token_hash, last_totp_step,
	last_login_at, last_login_ip, created_at, updated_at
`

// UserRepository handles user data operations.
type UserRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewUserRepository creates a new user repository.
func NewUserRepository(db *pgxpool.Pool, log zerolog.Logger) *UserRepository {
	return &UserRepository{db: db, log: log}
}

func scanUser(row pgx.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Name, &user.Role, &user.Status,
		&user.PasswordHash, &user.PasswordChangedAt,
		&user.FailedLoginAttempts, &user.LockedUntil,
		&user.TwoFactorEnabled, &user.TwoFactorSecret, &user.TwoFactorRecoveryCodes,
		&user.RememberTokenHash, &user.LastTOTPStep,
		&user.LastLoginAt, &user.LastLoginIP, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

// GetByUsername retrieves a user by exact, case-sensitive username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return scanUser(r.db.QueryRow(ctx, query, username))
}

// GetByID retrieves a user by ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRow(ctx, query, id))
}

// Create inserts a new user. Used by the bootstrap tool; account creation is
// otherwise owned by the admin UI, outside this service.
func (r *UserRepository) Create(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	query := `
		INSERT INTO users (id, username, email, name, role, status, password_hash, password_changed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		user.ID, user.Username, user.Email, user.Name, user.Role, user.Status,
		user.PasswordHash, user.PasswordChangedAt,
	).Scan(&user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// RecordLoginFailure increments the failed-attempt counter and, when the new
// count reaches threshold, starts a lockout window. The increment and the
// lockout decision happen in a single statement so concurrent failures cannot
// under-count.
func (r *UserRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE
		        WHEN failed_login_attempts + 1 >= $2 THEN now() + $3
		        ELSE locked_until
		    END,
		    updated_at = now()
		WHERE id = $1
		RETURNING failed_login_attempts, locked_until
	`
	var count int
	var lockedUntil *time.Time
	err := r.db.QueryRow(ctx, query, id, threshold, lockFor).Scan(&count, &lockedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to record login failure: %w", err)
	}
	return count, lockedUntil, nil
}

// ResetLoginFailures zeroes the failure counter and clears any lockout.
func (r *UserRepository) ResetLoginFailures(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0, locked_until = NULL, updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to reset login failures: %w", err)
	}
	return nil
}

// UpdateLastLogin records the timestamp and source address of a successful login.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id, ip string) error {
	query := `UPDATE users SET last_login_at = now(), last_login_ip = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, ip); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// UpdatePassword rotates the password hash and stamps password_changed_at.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, hash string) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = now(), updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// RehashPassword replaces the stored digest without touching
// password_changed_at. Used for transparent parameter upgrades after a
// successful verification; it is not a password change.
func (r *UserRepository) RehashPassword(ctx context.Context, id, hash string) error {
	query := `UPDATE users SET password_hash = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, hash); err != nil {
		return fmt.Errorf("failed to rehash password: %w", err)
	}
	return nil
}

// SetRememberTokenHash stores the digest of the current persistent-login
// secret, replacing any previous one. One active token per user.
func (r *UserRepository) SetRememberTokenHash(ctx context.Context, id, hash string) error {
	query := `UPDATE users SET remember_token_hash = $2, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id, hash); err != nil {
		return fmt.Errorf("failed to set remember token: %w", err)
	}
	return nil
}

// ClearRememberToken revokes the persistent-login token.
func (r *UserRepository) ClearRememberToken(ctx context.Context, id string) error {
	query := `UPDATE users SET remember_token_hash = NULL, updated_at = now() WHERE id = $1`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to clear remember token: %w", err)
	}
	return nil
}

// EnableTwoFactor stores the TOTP secret and the hashed recovery codes and
// flips the enabled flag in one statement.
func (r *UserRepository) EnableTwoFactor(ctx context.Context, id, secret string, codeHashes []string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = TRUE,
		    two_factor_secret = $2,
		    two_factor_recovery_codes = $3,
		    last_totp_step = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id, secret, codeHashes); err != nil {
		return fmt.Errorf("failed to enable two-factor: %w", err)
	}
	return nil
}

// DisableTwoFactor removes the secret and all recovery codes.
func (r *UserRepository) DisableTwoFactor(ctx context.Context, id string) error {
	query := `
		UPDATE users
		SET two_factor_enabled = FALSE,
		    two_factor_secret = NULL,
		    two_factor_recovery_codes = NULL,
		    last_totp_step = NULL,
		    updated_at = now()
		WHERE id = $1
	`
	if _, err := r.db.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("failed to disable two-factor: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode removes one recovery code digest from the user's list.
// The WHERE clause makes the removal at-most-once: a second submission of the
// same code matches zero rows.
func (r *UserRepository) ConsumeRecoveryCode(ctx context.Context, id, codeHash string) (bool, error) {
	query := `
		UPDATE users
		SET two_factor_recovery_codes = array_remove(two_factor_recovery_codes, $2),
		    updated_at = now()
		WHERE id = $1 AND $2 = ANY(two_factor_recovery_codes)
	`
	tag, err := r.db.Exec(ctx, query, id, codeHash)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetLastTOTPStep advances the replay guard. Returns false when the submitted
// step is not newer than the stored one, i.e. the code was already used.
func (r *UserRepository) SetLastTOTPStep(ctx context.Context, id string, step int64) (bool, error) {
	query := `
		UPDATE users
		SET last_totp_step = $2, updated_at = now()
		WHERE id = $1 AND (last_totp_step IS NULL OR last_totp_step < $2)
	`
	tag, err := r.db.Exec(ctx, query, id, step)
	if err != nil {
		return false, fmt.Errorf("failed to set last totp step: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
