package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"eventbook_auth/internal/models"

	"github.com/gofrs/uuid"
)

type SeedAccount struct {
	Name     string
	Email    string
	Password string
	Role     models.Role
}

type hasher interface {
	Hash(password string) (string, error)
}

// Seed creates the bootstrap accounts that are missing. Existing accounts,
// including their passwords and roles, are left untouched.
func Seed(ctx context.Context, st Storage, h hasher, log *slog.Logger, accounts ...SeedAccount) error {
	const op = "storage.Seed"

	log = log.With(slog.String("op", op))

	for _, account := range accounts {
		email := strings.ToLower(strings.TrimSpace(account.Email))

		_, err := st.GetUserByEmail(ctx, email)
		if err == nil {
			log.Debug("seed account already exists", slog.String("email", email))
			continue
		}
		if !errors.Is(err, ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, err)
		}

		hash, err := h.Hash(account.Password)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}

		_, err = st.CreateUser(ctx, models.User{
			ID:           id,
			Name:         account.Name,
			Email:        email,
			PasswordHash: hash,
			Role:         account.Role,
		})
		if err != nil {
			if errors.Is(err, ErrUserExists) {
				log.Debug("seed account created concurrently", slog.String("email", email))
				continue
			}
			return fmt.Errorf("%s: %w", op, err)
		}

		log.Info("seeded account", slog.String("email", email), slog.String("role", string(account.Role)))
	}

	return nil
}
