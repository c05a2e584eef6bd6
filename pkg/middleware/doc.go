// Package middleware contains the HTTP auth gate and the Redis-backed
// rate limiter.
package middleware
