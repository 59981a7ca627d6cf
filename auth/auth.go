// Package auth handles user accounts and the bearer-token middleware that
// scopes every API call to an owner.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/quillnotes/quill-server/domain"
	"github.com/quillnotes/quill-server/store"
)

// ownerKey is the fiber locals key the middleware fills in.
const ownerKey = "ownerID"

var ErrInvalidCredentials = errors.New("invalid credentials")

type Service struct {
	store store.Store
}

func NewService(s store.Store) *Service {
	return &Service{store: s}
}

// Register creates a user with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	u := &domain.User{
		ID:           uuid.New(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Login verifies the password and issues an opaque session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.store.UserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", ErrInvalidCredentials
	}

	t := &domain.Token{
		Token:     uuid.NewString(),
		UserID:    u.ID,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateToken(ctx, t); err != nil {
		return "", err
	}
	return t.Token, nil
}

// Middleware resolves the Authorization bearer token to an owner id and
// stores it in request locals.
func (s *Service) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if token == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing token")
		}

		owner, err := s.store.UserIDForToken(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
			}
			return err
		}

		c.Locals(ownerKey, owner)
		return c.Next()
	}
}

// Owner returns the owner id the middleware resolved for this request.
func Owner(c *fiber.Ctx) uuid.UUID {
	owner, _ := c.Locals(ownerKey).(uuid.UUID)
	return owner
}
