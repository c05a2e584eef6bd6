package storage

import (
	"context"
	"time"

	"github.com/cloudprofile/hub/pkg/auth"
)

// UpdateAccountFields carries a partial profile update. Nil fields are
// left untouched; set fields are written as-is.
type UpdateAccountFields struct {
	Name              *string
	Email             *string
	Bio               *string
	ProfilePictureURL *string
}

// Store extends the account-service persistence contract with the
// profile management, activity reporting and health operations the HTTP
// layer needs. Lookups return (nil, nil) when no row matches.
type Store interface {
	auth.Store // Account lifecycle operations used by the auth service

	// Profile management
	ListAccounts(ctx context.Context) ([]*auth.Account, error)
	UpdateAccount(ctx context.Context, id int64, fields UpdateAccountFields) (*auth.Account, error)
	DeleteAccount(ctx context.Context, id int64) error

	// Activity reporting
	ListActivityByUser(ctx context.Context, userID int64, limit int) ([]*auth.Activity, error)
	ListActivity(ctx context.Context, limit int) ([]*auth.Activity, error)

	// Health checks
	HealthCheck(ctx context.Context) error

	Close() error
}

// Config for storage backends
type Config struct {
	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// S3 config
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	// Redis config
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		S3Region:         "us-east-1",
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
	}
}
