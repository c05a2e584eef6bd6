// Package auth implements the authentication and authorization core:
// bcrypt password hashing, HS256 bearer-token issuance and verification,
// the error taxonomy handlers translate into HTTP responses, and the
// account service that orchestrates register, login, profile and logout
// against the storage collaborator.
package auth
