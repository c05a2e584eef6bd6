package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/storage"
)

var tracer = otel.Tracer("github.com/cloudprofile/hub/pkg/storage/postgres")

// uniqueViolation is the PostgreSQL error code raised when an insert or
// update breaks a UNIQUE constraint.
const uniqueViolation = "23505"

const accountColumns = "id, name, email, password_hash, bio, profile_picture_url, created_at, updated_at"

// PostgresStorage implements storage.Store using PostgreSQL
type PostgresStorage struct {
	db     *sql.DB
	config storage.Config
}

// NewPostgresStorage creates a new PostgreSQL-backed storage
func NewPostgresStorage(config storage.Config) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), config.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return &PostgresStorage{
		db:     db,
		config: config,
	}, nil
}

// NewPostgresStorageWithDB wraps an existing connection. Used by tests.
func NewPostgresStorageWithDB(db *sql.DB, config storage.Config) *PostgresStorage {
	return &PostgresStorage{db: db, config: config}
}

// FindAccountByEmail returns the account with the given email, or
// (nil, nil) when no such account exists.
func (s *PostgresStorage) FindAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM users
		WHERE email = $1
	`

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find account by email: %w", err)
	}

	return account, nil
}

// FindAccountByID returns the account with the given id, or (nil, nil)
// when no such account exists.
func (s *PostgresStorage) FindAccountByID(ctx context.Context, id int64) (*auth.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM users
		WHERE id = $1
	`

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to find account by id: %w", err)
	}

	return account, nil
}

// CreateAccount inserts a new account. The UNIQUE constraint on email is
// the authoritative duplicate signal: a violation maps to
// auth.ErrEmailExists regardless of any earlier pre-check.
func (s *PostgresStorage) CreateAccount(ctx context.Context, account *auth.Account) (*auth.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateAccount",
		trace.WithAttributes(
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.table", "users"),
		),
	)
	defer span.End()

	query := `
		INSERT INTO users (name, email, password_hash, bio)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + accountColumns + `
	`

	created, err := scanAccount(s.db.QueryRowContext(ctx, query,
		account.Name,
		account.Email,
		account.PasswordHash,
		account.Bio,
	))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			span.SetStatus(codes.Error, "duplicate email")
			return nil, auth.ErrEmailExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create account")
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", created.ID))
	span.SetStatus(codes.Ok, "account created")
	return created, nil
}

// ListAccounts returns every account, newest first.
func (s *PostgresStorage) ListAccounts(ctx context.Context) ([]*auth.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM users
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*auth.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating accounts: %w", err)
	}

	return accounts, nil
}

// UpdateAccount applies a partial update and returns the fresh row, or
// (nil, nil) when the account does not exist. An email change that
// collides with another account maps to auth.ErrEmailExists.
func (s *PostgresStorage) UpdateAccount(ctx context.Context, id int64, fields storage.UpdateAccountFields) (*auth.Account, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpdateAccount",
		trace.WithAttributes(
			attribute.String("db.operation", "UPDATE"),
			attribute.String("db.table", "users"),
			attribute.Int64("user.id", id),
		),
	)
	defer span.End()

	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)
	next := 1

	appendSet := func(column string, value interface{}) {
		set = append(set, fmt.Sprintf("%s = $%d", column, next))
		args = append(args, value)
		next++
	}

	if fields.Name != nil {
		appendSet("name", *fields.Name)
	}
	if fields.Email != nil {
		appendSet("email", *fields.Email)
	}
	if fields.Bio != nil {
		appendSet("bio", *fields.Bio)
	}
	if fields.ProfilePictureURL != nil {
		appendSet("profile_picture_url", *fields.ProfilePictureURL)
	}
	if len(set) == 0 {
		return s.FindAccountByID(ctx, id)
	}
	set = append(set, "updated_at = NOW()")

	query := fmt.Sprintf(`
		UPDATE users
		SET %s
		WHERE id = $%d
		RETURNING `+accountColumns+`
	`, strings.Join(set, ", "), next)
	args = append(args, id)

	account, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			span.SetStatus(codes.Error, "duplicate email")
			return nil, auth.ErrEmailExists
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to update account")
		return nil, fmt.Errorf("failed to update account: %w", err)
	}

	span.SetStatus(codes.Ok, "account updated")
	return account, nil
}

// DeleteAccount removes an account. Deleting a missing account returns
// auth.ErrAccountNotFound.
func (s *PostgresStorage) DeleteAccount(ctx context.Context, id int64) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteAccount",
		trace.WithAttributes(
			attribute.String("db.operation", "DELETE"),
			attribute.String("db.table", "users"),
			attribute.Int64("user.id", id),
		),
	)
	defer span.End()

	result, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to delete account")
		return fmt.Errorf("failed to delete account: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return auth.ErrAccountNotFound
	}

	span.SetStatus(codes.Ok, "account deleted")
	return nil
}

// RecordActivity appends an immutable activity record. Records survive
// account deletion, so user_id carries no foreign key.
func (s *PostgresStorage) RecordActivity(ctx context.Context, userID int64, action string, details map[string]interface{}) error {
	ctx, span := tracer.Start(ctx, "Postgres.RecordActivity",
		trace.WithAttributes(
			attribute.String("db.operation", "INSERT"),
			attribute.String("db.table", "activity_logs"),
			attribute.String("activity.action", action),
		),
	)
	defer span.End()

	if details == nil {
		details = map[string]interface{}{}
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to encode activity details: %w", err)
	}

	query := `
		INSERT INTO activity_logs (user_id, action, details)
		VALUES ($1, $2, $3)
	`

	if _, err := s.db.ExecContext(ctx, query, userID, action, payload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record activity")
		return fmt.Errorf("failed to record activity: %w", err)
	}

	span.SetStatus(codes.Ok, "activity recorded")
	return nil
}

// ListActivityByUser returns a user's most recent activity records.
func (s *PostgresStorage) ListActivityByUser(ctx context.Context, userID int64, limit int) ([]*auth.Activity, error) {
	query := `
		SELECT id, user_id, action, details, created_at
		FROM activity_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	return collectActivity(rows)
}

// ListActivity returns the most recent activity records across all users.
func (s *PostgresStorage) ListActivity(ctx context.Context, limit int) ([]*auth.Activity, error) {
	query := `
		SELECT id, user_id, action, details, created_at
		FROM activity_logs
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer rows.Close()

	return collectActivity(rows)
}

// HealthCheck verifies database connectivity.
func (s *PostgresStorage) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	return nil
}

// GetDB returns the database connection for health checks
func (s *PostgresStorage) GetDB() *sql.DB {
	return s.db
}

// Close closes the database connection
func (s *PostgresStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*auth.Account, error) {
	var account auth.Account
	var bio, pictureURL sql.NullString
	err := row.Scan(
		&account.ID,
		&account.Name,
		&account.Email,
		&account.PasswordHash,
		&bio,
		&pictureURL,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	account.Bio = bio.String
	account.ProfilePictureURL = pictureURL.String
	return &account, nil
}

func collectActivity(rows *sql.Rows) ([]*auth.Activity, error) {
	var records []*auth.Activity
	for rows.Next() {
		var record auth.Activity
		var payload []byte
		if err := rows.Scan(&record.ID, &record.UserID, &record.Action, &payload, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &record.Details); err != nil {
				return nil, fmt.Errorf("failed to decode activity details: %w", err)
			}
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	return records, nil
}
