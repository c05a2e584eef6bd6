// Package storage defines the persistence contract for accounts and
// activity records plus the shared backend configuration. The concrete
// PostgreSQL implementation, the S3 object client and the Redis client
// live in the postgres subpackage.
package storage
