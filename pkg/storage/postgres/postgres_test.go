package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudprofile/hub/pkg/auth"
	"github.com/cloudprofile/hub/pkg/storage"
)

func newMockStorage(t *testing.T) (*PostgresStorage, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStorageWithDB(db, storage.DefaultConfig()), mock
}

func accountRows(t *testing.T, accounts ...*auth.Account) *sqlmock.Rows {
	t.Helper()
	rows := sqlmock.NewRows([]string{
		"id", "name", "email", "password_hash", "bio", "profile_picture_url", "created_at", "updated_at",
	})
	for _, a := range accounts {
		rows.AddRow(a.ID, a.Name, a.Email, a.PasswordHash, a.Bio, a.ProfilePictureURL, a.CreatedAt, a.UpdatedAt)
	}
	return rows
}

func testAccount() *auth.Account {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &auth.Account{
		ID:           1,
		Name:         "Ann Lee",
		Email:        "ann@example.com",
		PasswordHash: "$2a$12$digest",
		Bio:          "hello",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestFindAccountByEmail(t *testing.T) {
	store, mock := newMockStorage(t)
	want := testAccount()

	mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE email = \$1`).
		WithArgs("ann@example.com").
		WillReturnRows(accountRows(t, want))

	got, err := store.FindAccountByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Email, got.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindAccountByEmailNotFound(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE email = \$1`).
		WithArgs("nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	got, err := store.FindAccountByEmail(context.Background(), "nobody@example.com")
	require.NoError(t, err, "absence is not a failure")
	assert.Nil(t, got)
}

func TestCreateAccount(t *testing.T) {
	store, mock := newMockStorage(t)
	want := testAccount()

	mock.ExpectQuery(`INSERT INTO users`).
		WithArgs("Ann Lee", "ann@example.com", "$2a$12$digest", "hello").
		WillReturnRows(accountRows(t, want))

	created, err := store.CreateAccount(context.Background(), &auth.Account{
		Name:         "Ann Lee",
		Email:        "ann@example.com",
		PasswordHash: "$2a$12$digest",
		Bio:          "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccountUniqueViolation(t *testing.T) {
	store, mock := newMockStorage(t)

	// The UNIQUE constraint is the authoritative duplicate signal.
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	_, err := store.CreateAccount(context.Background(), testAccount())
	assert.ErrorIs(t, err, auth.ErrEmailExists)
}

func TestUpdateAccountPartial(t *testing.T) {
	store, mock := newMockStorage(t)
	want := testAccount()
	want.Bio = "updated bio"

	// Only the set fields appear in the statement.
	mock.ExpectQuery(`UPDATE users\s+SET bio = \$1, updated_at = NOW\(\)\s+WHERE id = \$2`).
		WithArgs("updated bio", int64(1)).
		WillReturnRows(accountRows(t, want))

	bio := "updated bio"
	got, err := store.UpdateAccount(context.Background(), 1, storage.UpdateAccountFields{Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "updated bio", got.Bio)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAccountMissingRow(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(`UPDATE users`).
		WillReturnError(sql.ErrNoRows)

	name := "Ann Lee"
	got, err := store.UpdateAccount(context.Background(), 99, storage.UpdateAccountFields{Name: &name})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUpdateAccountEmailConflict(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectQuery(`UPDATE users`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})

	email := "taken@example.com"
	_, err := store.UpdateAccount(context.Background(), 1, storage.UpdateAccountFields{Email: &email})
	assert.ErrorIs(t, err, auth.ErrEmailExists)
}

func TestUpdateAccountNoFields(t *testing.T) {
	store, mock := newMockStorage(t)
	want := testAccount()

	// An empty update degenerates to a read.
	mock.ExpectQuery(`SELECT .+ FROM users\s+WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnRows(accountRows(t, want))

	got, err := store.UpdateAccount(context.Background(), 1, storage.UpdateAccountFields{})
	require.NoError(t, err)
	assert.Equal(t, want.Email, got.Email)
}

func TestDeleteAccount(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, store.DeleteAccount(context.Background(), 1))
}

func TestDeleteAccountMissing(t *testing.T) {
	store, mock := newMockStorage(t)

	mock.ExpectExec(`DELETE FROM users WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.DeleteAccount(context.Background(), 99)
	assert.ErrorIs(t, err, auth.ErrAccountNotFound)
}

func TestRecordActivity(t *testing.T) {
	store, mock := newMockStorage(t)

	payload, err := json.Marshal(map[string]interface{}{"email": "ann@example.com"})
	require.NoError(t, err)

	mock.ExpectExec(`INSERT INTO activity_logs`).
		WithArgs(int64(1), auth.ActionUserLogin, payload).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = store.RecordActivity(context.Background(), 1, auth.ActionUserLogin, map[string]interface{}{
		"email": "ann@example.com",
	})
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordActivityNilDetails(t *testing.T) {
	store, mock := newMockStorage(t)

	// Nil details persist as an empty JSON object, never SQL NULL.
	mock.ExpectExec(`INSERT INTO activity_logs`).
		WithArgs(int64(1), auth.ActionUserLogout, []byte("{}")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	assert.NoError(t, store.RecordActivity(context.Background(), 1, auth.ActionUserLogout, nil))
}

func TestListActivityByUser(t *testing.T) {
	store, mock := newMockStorage(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "user_id", "action", "details", "created_at"}).
		AddRow(2, 1, auth.ActionUserLogin, []byte(`{"email":"ann@example.com"}`), now).
		AddRow(1, 1, auth.ActionUserRegistered, []byte(`{}`), now.Add(-time.Hour))

	mock.ExpectQuery(`SELECT .+ FROM activity_logs\s+WHERE user_id = \$1`).
		WithArgs(int64(1), 50).
		WillReturnRows(rows)

	records, err := store.ListActivityByUser(context.Background(), 1, 50)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, auth.ActionUserLogin, records[0].Action)
	assert.Equal(t, "ann@example.com", records[0].Details["email"])
}

func TestListAccounts(t *testing.T) {
	store, mock := newMockStorage(t)
	first := testAccount()
	second := testAccount()
	second.ID = 2
	second.Email = "bob@example.com"

	mock.ExpectQuery(`SELECT .+ FROM users\s+ORDER BY created_at DESC`).
		WillReturnRows(accountRows(t, second, first))

	accounts, err := store.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "bob@example.com", accounts[0].Email)
}

func TestHealthCheck(t *testing.T) {
	store, mock := newMockStorage(t)
	mock.ExpectPing()

	assert.NoError(t, store.HealthCheck(context.Background()))
}
