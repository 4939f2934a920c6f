package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"eventbook_auth/internal/auth"
	"eventbook_auth/internal/cache"
	"eventbook_auth/internal/events"
	"eventbook_auth/internal/models"
	"eventbook_auth/internal/storage"

	"github.com/gofrs/uuid"
)

const minPasswordLength = 6

type Service interface {
	Register(ctx context.Context, name, email, password string) (models.AuthResult, error)
	Login(ctx context.Context, email, password string) (models.AuthResult, error)
	Authenticate(ctx context.Context, token string) (models.Identity, error)
	GetProfile(ctx context.Context, identity models.Identity) (models.PublicUser, error)
	Logout(ctx context.Context, identity models.Identity) error
	ListUsers(ctx context.Context) ([]models.PublicUser, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.PublicUser, error)
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, hash string) (bool, error)
}

type TokenManager interface {
	Issue(subjectID uuid.UUID, role models.Role) (string, error)
	Verify(token string) (models.Identity, error)
}

type Denylist interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, subject string, event events.UserEvent) error
}

type Option func(*AuthService)

func WithDenylist(d Denylist) Option {
	return func(s *AuthService) {
		s.denylist = d
	}
}

func WithPublisher(p Publisher) Option {
	return func(s *AuthService) {
		s.publisher = p
	}
}

type AuthService struct {
	storage   storage.Storage
	hasher    PasswordHasher
	tokens    TokenManager
	denylist  Denylist
	publisher Publisher
	log       *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(st storage.Storage, hasher PasswordHasher, tokens TokenManager, lgr *slog.Logger, opts ...Option) *AuthService {
	s := &AuthService{
		storage:   st,
		hasher:    hasher,
		tokens:    tokens,
		denylist:  cache.NopDenylist{},
		publisher: events.NopPublisher{},
		log:       lgr,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *AuthService) Register(ctx context.Context, name, email, password string) (models.AuthResult, error) {
	const op = "service.Register"

	log := s.log.With(slog.String("op", op))

	name = strings.TrimSpace(name)
	email = normalizeEmail(email)

	if name == "" || email == "" || password == "" {
		return models.AuthResult{}, invalid("All fields are required")
	}
	if !validEmail(email) {
		return models.AuthResult{}, invalid("Invalid email format")
	}
	if utf8.RuneCountInString(password) < minPasswordLength {
		return models.AuthResult{}, invalid(fmt.Sprintf("Password must be at least %d characters", minPasswordLength))
	}
	if len(password) > auth.MaxPasswordBytes {
		return models.AuthResult{}, invalid(fmt.Sprintf("Password must be at most %d bytes", auth.MaxPasswordBytes))
	}

	_, err := s.storage.GetUserByEmail(ctx, email)
	if err == nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, ErrDuplicateEmail)
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	passwordHash, err := s.hasher.Hash(password)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	id, err := uuid.NewV4()
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := s.storage.CreateUser(ctx, models.User{
		ID:           id,
		Name:         name,
		Email:        email,
		PasswordHash: passwordHash,
		Role:         models.RoleUser,
	})
	if err != nil {
		// Lost a race with a concurrent registration of the same email.
		if errors.Is(err, storage.ErrUserExists) {
			return models.AuthResult{}, fmt.Errorf("%s: %w", op, ErrDuplicateEmail)
		}
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("user_id", user.ID.String()))
	s.publish(ctx, events.SubjectUserRegistered, user)

	return models.AuthResult{User: user.Public(), Token: token}, nil
}

func (s *AuthService) Login(ctx context.Context, email, password string) (models.AuthResult, error) {
	const op = "service.Login"

	log := s.log.With(slog.String("op", op))

	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.AuthResult{}, invalid("Email and password are required")
	}

	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			s.burnVerify(password)
			return models.AuthResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	ok, err := s.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID, user.Role)
	if err != nil {
		return models.AuthResult{}, fmt.Errorf("%s: %w", op, err)
	}

	log.Debug("user logged in", slog.String("user_id", user.ID.String()))
	s.publish(ctx, events.SubjectUserLoggedIn, user)

	return models.AuthResult{User: user.Public(), Token: token}, nil
}

// Authenticate verifies a bearer token. The embedded role is trusted as
// issued; the stored user is not re-read.
func (s *AuthService) Authenticate(ctx context.Context, token string) (models.Identity, error) {
	const op = "service.Authenticate"

	identity, err := s.tokens.Verify(token)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w: %v", op, ErrInvalidToken, err)
	}

	revoked, err := s.denylist.IsRevoked(ctx, identity.TokenID)
	if err != nil {
		return models.Identity{}, fmt.Errorf("%s: %w", op, err)
	}
	if revoked {
		return models.Identity{}, fmt.Errorf("%s: %w: revoked", op, ErrInvalidToken)
	}

	return identity, nil
}

func (s *AuthService) GetProfile(ctx context.Context, identity models.Identity) (models.PublicUser, error) {
	const op = "service.GetProfile"

	if identity.SubjectID == uuid.Nil {
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	user, err := s.storage.GetUserByID(ctx, identity.SubjectID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.PublicUser{}, fmt.Errorf("%s: %w: subject no longer exists", op, ErrInvalidToken)
		}
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	return user.Public(), nil
}

// Logout revokes the presented token when a denylist is configured and is
// otherwise only an acknowledgement.
func (s *AuthService) Logout(ctx context.Context, identity models.Identity) error {
	const op = "service.Logout"

	if identity.SubjectID == uuid.Nil {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	if err := s.denylist.Revoke(ctx, identity.TokenID, identity.ExpiresAt); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user logout", slog.String("op", op), slog.String("user_id", identity.SubjectID.String()))

	return nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]models.PublicUser, error) {
	const op = "service.ListUsers"

	users, err := s.storage.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	public := make([]models.PublicUser, 0, len(users))
	for _, user := range users {
		public = append(public, user.Public())
	}

	return public, nil
}

func (s *AuthService) AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.PublicUser, error) {
	const op = "service.AssignRole"

	if userID == uuid.Nil {
		return models.PublicUser{}, invalid("user_id is required")
	}
	if !role.Valid() {
		return models.PublicUser{}, invalid(fmt.Sprintf("Unknown role %q", role))
	}

	user, err := s.storage.AssignRole(ctx, userID, role)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return models.PublicUser{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return models.PublicUser{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("role assigned", slog.String("op", op), slog.String("user_id", userID.String()), slog.String("role", string(role)))

	return user.Public(), nil
}

// RequireRole returns ErrForbidden unless identity holds one of allowed.
// An empty allowed set admits any authenticated identity.
func RequireRole(identity models.Identity, allowed ...models.Role) error {
	if len(allowed) == 0 {
		return nil
	}

	for _, role := range allowed {
		if identity.Role == role {
			return nil
		}
	}

	return ErrForbidden
}

func (s *AuthService) publish(ctx context.Context, subject string, user models.User) {
	err := s.publisher.Publish(ctx, subject, events.UserEvent{
		UserID:     user.ID.String(),
		Email:      user.Email,
		Role:       string(user.Role),
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slog.Any("error", err))
	}
}

// burnVerify spends one hash comparison so unknown emails take as long as
// wrong passwords.
func (s *AuthService) burnVerify(password string) {
	s.dummyOnce.Do(func() {
		hash, err := s.hasher.Hash("not-a-real-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	if s.dummyHash != "" {
		_, _ = s.hasher.Verify(password, s.dummyHash)
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
