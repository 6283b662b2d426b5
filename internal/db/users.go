package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/hairscan/internal/models"
)

// CreateUser inserts an account. Returns ErrAlreadyExists when the email is taken.
func (c *Client) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}

	results, err := surrealdb.Query[[]models.User](ctx, c.db, `
		CREATE type::record("users", $id) SET
			name = $name,
			surname = $surname,
			email = $email,
			phone = $phone,
			birthDate = $birthDate,
			password_hash = $hash,
			createdAt = time::now()
	`, map[string]any{
		"id":        id.String(),
		"name":      u.Name,
		"surname":   u.Surname,
		"email":     u.Email,
		"phone":     u.Phone,
		"birthDate": u.BirthDate,
		"hash":      u.PasswordHash,
	})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("create user: empty result")
	}
	return &(*results)[0].Result[0], nil
}

// GetUser retrieves an account by key. Returns ErrNotFound if missing.
func (c *Client) GetUser(ctx context.Context, id string) (*models.User, error) {
	results, err := surrealdb.Query[[]models.User](ctx, c.db, `
		SELECT * FROM type::record("users", $id)
	`, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// GetUserByEmail looks an account up by its (normalized) email.
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	results, err := surrealdb.Query[[]models.User](ctx, c.db, `
		SELECT * FROM users WHERE email = $email LIMIT 1
	`, map[string]any{"email": email})
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}

// UpdateProfile overwrites the profile fields. Email and password are not touched.
func (c *Client) UpdateProfile(ctx context.Context, id string, p models.Profile) (*models.User, error) {
	results, err := surrealdb.Query[[]models.User](ctx, c.db, `
		UPDATE type::record("users", $id) SET
			name = $name,
			surname = $surname,
			phone = $phone,
			birthDate = $birthDate
		RETURN AFTER
	`, map[string]any{
		"id":        id,
		"name":      p.Name,
		"surname":   p.Surname,
		"phone":     p.Phone,
		"birthDate": p.BirthDate,
	})
	if err != nil {
		return nil, fmt.Errorf("update profile: %w", wrapQueryError(err))
	}

	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return &(*results)[0].Result[0], nil
}
