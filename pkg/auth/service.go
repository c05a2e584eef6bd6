package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudprofile/hub/pkg/validation"
)

// Store is the persistence collaborator the account service depends on.
// Every method is a single atomic statement; lookups return (nil, nil)
// when no row matches so absence stays distinct from failure.
type Store interface {
	FindAccountByEmail(ctx context.Context, email string) (*Account, error)
	FindAccountByID(ctx context.Context, id int64) (*Account, error)
	CreateAccount(ctx context.Context, account *Account) (*Account, error)
	RecordActivity(ctx context.Context, userID int64, action string, details map[string]interface{}) error
}

// Service orchestrates registration, login, profile lookup and logout.
// It owns every Account lifecycle transition; nothing else mutates
// accounts through the auth flow.
type Service struct {
	store  Store
	hasher *PasswordHasher
	tokens *TokenManager
}

// NewService wires the account service with its collaborators.
func NewService(store Store, hasher *PasswordHasher, tokens *TokenManager) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		tokens: tokens,
	}
}

// RegisterInput holds the registration request fields. Bio is optional.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	Bio      string
}

// Register validates input, checks email uniqueness, hashes the password,
// persists the account, issues a bearer token and records the
// USER_REGISTERED activity. Each step is a rejection point; the first
// failure short-circuits the rest.
//
// The uniqueness pre-check is an optimization only — the database UNIQUE
// constraint is the authoritative conflict signal, so a race between two
// concurrent registrations still yields exactly one account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Account, string, error) {
	if in.Name == "" || in.Email == "" || in.Password == "" {
		return nil, "", NewValidationError("Name, email, and password are required")
	}
	if !validation.ValidateEmail(in.Email) {
		return nil, "", NewValidationError("Invalid email format")
	}
	if !validation.ValidatePassword(in.Password) {
		return nil, "", NewValidationError("Password must be at least 8 characters with 1 uppercase, 1 lowercase, and 1 number")
	}

	existing, err := s.store.FindAccountByEmail(ctx, in.Email)
	if err != nil {
		return nil, "", fmt.Errorf("check existing account: %w", err)
	}
	if existing != nil {
		return nil, "", ErrEmailExists
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	account, err := s.store.CreateAccount(ctx, &Account{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: digest,
		Bio:          in.Bio,
	})
	if err != nil {
		return nil, "", err
	}

	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	err = s.store.RecordActivity(ctx, account.ID, ActionUserRegistered, map[string]interface{}{
		"email": account.Email,
		"name":  account.Name,
	})
	if err != nil {
		return nil, "", fmt.Errorf("record activity: %w", err)
	}

	return account, token, nil
}

// Login verifies credentials and issues a bearer token. An unknown email
// and a wrong password both return ErrInvalidCredentials so a caller
// cannot enumerate accounts from the response.
func (s *Service) Login(ctx context.Context, email, password string) (*Account, string, error) {
	if email == "" || password == "" {
		return nil, "", NewValidationError("Email and password are required")
	}

	account, err := s.store.FindAccountByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, "", ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(account.ID, account.Email)
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	err = s.store.RecordActivity(ctx, account.ID, ActionUserLogin, map[string]interface{}{
		"email":     account.Email,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, "", fmt.Errorf("record activity: %w", err)
	}

	return account, token, nil
}

// Profile returns the account for an authenticated identity.
func (s *Service) Profile(ctx context.Context, userID int64) (*Account, error) {
	account, err := s.store.FindAccountByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

// Logout records the USER_LOGOUT activity. The token itself is not
// invalidated server-side; logout is advisory logging only.
func (s *Service) Logout(ctx context.Context, userID int64) error {
	err := s.store.RecordActivity(ctx, userID, ActionUserLogout, map[string]interface{}{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}
