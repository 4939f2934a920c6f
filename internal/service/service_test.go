package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"eventbook_auth/internal/auth"
	"eventbook_auth/internal/events"
	"eventbook_auth/internal/models"
	"eventbook_auth/internal/storage"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events map[string][]events.UserEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, event events.UserEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.events == nil {
		p.events = make(map[string][]events.UserEvent)
	}
	p.events[subject] = append(p.events[subject], event)

	return p.err
}

type memDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (d *memDenylist) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.revoked == nil {
		d.revoked = make(map[string]time.Time)
	}
	d.revoked[tokenID] = expiresAt

	return nil
}

func (d *memDenylist) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.revoked[tokenID]
	return ok, nil
}

// brokenStorage fails every call that reaches the database.
type brokenStorage struct {
	storage.Storage
	err error
}

func (b brokenStorage) GetUserByEmail(context.Context, string) (models.User, error) {
	return models.User{}, b.err
}

func (b brokenStorage) GetUserByID(context.Context, uuid.UUID) (models.User, error) {
	return models.User{}, b.err
}

// racingStorage lets the pre-check pass and then reports the store's
// uniqueness violation, as a concurrent registration would.
type racingStorage struct {
	storage.Storage
}

func (racingStorage) GetUserByEmail(context.Context, string) (models.User, error) {
	return models.User{}, storage.ErrUserNotFound
}

func (racingStorage) CreateUser(context.Context, models.User) (models.User, error) {
	return models.User{}, storage.ErrUserExists
}

type fixture struct {
	svc       *AuthService
	tokens    *auth.TokenManager
	st        *storage.SQLiteStorage
	publisher *recordingPublisher
	denylist  *memDenylist
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	st, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "auth.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	tokens := auth.NewTokenManager("test-secret", auth.DefaultTokenTTL)
	publisher := &recordingPublisher{}
	denylist := &memDenylist{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewAuthService(st, auth.NewPasswordHasher(bcrypt.MinCost), tokens, log,
		WithPublisher(publisher),
		WithDenylist(denylist),
	)

	return fixture{svc: svc, tokens: tokens, st: st, publisher: publisher, denylist: denylist}
}

func TestRegister_Success(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Register(context.Background(), "Ann", "Ann@Example.com", "secret1")
	require.NoError(t, err)

	assert.Equal(t, "Ann", res.User.Name)
	assert.Equal(t, "ann@example.com", res.User.Email)
	assert.Equal(t, models.RoleUser, res.User.Role)
	assert.NotEqual(t, uuid.Nil, res.User.ID)

	identity, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, identity.SubjectID)
	assert.Equal(t, models.RoleUser, identity.Role)

	stored, err := f.st.GetUserByID(context.Background(), res.User.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "secret1", stored.PasswordHash)

	require.Len(t, f.publisher.events[events.SubjectUserRegistered], 1)
	assert.Equal(t, res.User.ID.String(), f.publisher.events[events.SubjectUserRegistered][0].UserID)
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		userName string
		email    string
		password string
		message  string
	}{
		{name: "missing name", email: "a@example.com", password: "secret1", message: "All fields are required"},
		{name: "blank name", userName: "   ", email: "a@example.com", password: "secret1", message: "All fields are required"},
		{name: "missing email", userName: "Ann", password: "secret1", message: "All fields are required"},
		{name: "missing password", userName: "Ann", email: "a@example.com", message: "All fields are required"},
		{name: "bad email", userName: "Ann", email: "not-an-email", password: "secret1", message: "Invalid email format"},
		{name: "display-name email", userName: "Ann", email: "Ann <a@example.com>", password: "secret1", message: "Invalid email format"},
		{name: "short password", userName: "Ann", email: "a@example.com", password: "12345", message: "Password must be at least 6 characters"},
		{name: "long password", userName: "Ann", email: "a@example.com", password: strings.Repeat("p", 73), message: "Password must be at most 72 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), tt.userName, tt.email, tt.password)
			require.ErrorIs(t, err, ErrValidation)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.message, vErr.Message)
		})
	}
}

func TestRegister_SixCharacterPasswordAccepted(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Register(context.Background(), "Ann", "ann@example.com", "123456")
	assert.NoError(t, err)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	_, err = f.svc.Register(ctx, "Ann Again", "ANN@example.com ", "secret2")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_StoreUniqueViolationIsDuplicateEmail(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(racingStorage{}, auth.NewPasswordHasher(bcrypt.MinCost), auth.NewTokenManager("s", 0), log)

	_, err := svc.Register(context.Background(), "Ann", "ann@example.com", "secret1")
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRegister_PublishFailureDoesNotFail(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("nats down")

	_, err := f.svc.Register(context.Background(), "Ann", "ann@example.com", "secret1")
	assert.NoError(t, err)
}

func TestLogin_Success(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	res, err := f.svc.Login(ctx, " ANN@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, res.User.ID)

	identity, err := f.tokens.Verify(res.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, identity.SubjectID)
	assert.Equal(t, models.RoleUser, identity.Role)

	assert.Len(t, f.publisher.events[events.SubjectUserLoggedIn], 1)
}

func TestLogin_EnumerationResistance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	_, wrongPassword := f.svc.Login(ctx, "ann@example.com", "wrong-password")
	_, unknownEmail := f.svc.Login(ctx, "nobody@example.com", "secret1")

	require.ErrorIs(t, wrongPassword, ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, ErrInvalidCredentials)
	assert.Equal(t, wrongPassword.Error(), unknownEmail.Error())
}

func TestLogin_MissingFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "", "secret1")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Login(context.Background(), "ann@example.com", "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestLogin_CorruptStoredHashIsInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.st.CreateUser(ctx, models.User{
		ID:           uuid.Must(uuid.NewV4()),
		Name:         "Broken",
		Email:        "broken@example.com",
		PasswordHash: "garbage",
		Role:         models.RoleUser,
	})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, "broken@example.com", "secret1")
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrCorruptHash)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_StoreFailureIsInternal(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	storeErr := errors.New("connection refused")
	svc := NewAuthService(brokenStorage{err: storeErr}, auth.NewPasswordHasher(bcrypt.MinCost), auth.NewTokenManager("s", 0), log)

	_, err := svc.Login(context.Background(), "ann@example.com", "secret1")
	assert.ErrorIs(t, err, storeErr)
	assert.NotErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	identity, err := f.svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, identity.SubjectID)

	_, err = f.svc.Authenticate(ctx, reg.Token+"x")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_RevokesToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	identity, err := f.svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, identity))

	_, err = f.svc.Authenticate(ctx, reg.Token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestLogout_WithoutDenylistIsAdvisory(t *testing.T) {
	st, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "auth.db"), false)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewAuthService(st, auth.NewPasswordHasher(bcrypt.MinCost), auth.NewTokenManager("s", 0), log)
	ctx := context.Background()

	reg, err := svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	identity, err := svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)
	require.NoError(t, svc.Logout(ctx, identity))

	_, err = svc.Authenticate(ctx, reg.Token)
	assert.NoError(t, err)
}

func TestLogout_NoIdentity(t *testing.T) {
	f := newFixture(t)

	assert.ErrorIs(t, f.svc.Logout(context.Background(), models.Identity{}), ErrNotAuthenticated)
}

func TestGetProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	profile, err := f.svc.GetProfile(ctx, models.Identity{SubjectID: reg.User.ID, Role: models.RoleUser})
	require.NoError(t, err)
	assert.Equal(t, reg.User.ID, profile.ID)
	assert.Equal(t, reg.User.Email, profile.Email)
	assert.Equal(t, reg.User.Role, profile.Role)

	_, err = f.svc.GetProfile(ctx, models.Identity{})
	assert.ErrorIs(t, err, ErrNotAuthenticated)

	_, err = f.svc.GetProfile(ctx, models.Identity{SubjectID: uuid.Must(uuid.NewV4()), Role: models.RoleUser})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAssignRoleAndListUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.svc.Register(ctx, "Ann", "ann@example.com", "secret1")
	require.NoError(t, err)

	updated, err := f.svc.AssignRole(ctx, reg.User.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, updated.Role)

	// Tokens keep the role they were issued with.
	identity, err := f.svc.Authenticate(ctx, reg.Token)
	require.NoError(t, err)
	assert.Equal(t, models.RoleUser, identity.Role)

	_, err = f.svc.AssignRole(ctx, reg.User.ID, "ROOT")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.AssignRole(ctx, uuid.Must(uuid.NewV4()), models.RoleAdmin)
	assert.ErrorIs(t, err, ErrNotFound)

	users, err := f.svc.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, models.RoleAdmin, users[0].Role)
}

func TestRequireRole(t *testing.T) {
	admin := models.Identity{SubjectID: uuid.Must(uuid.NewV4()), Role: models.RoleAdmin}
	user := models.Identity{SubjectID: uuid.Must(uuid.NewV4()), Role: models.RoleUser}

	assert.NoError(t, RequireRole(user))
	assert.NoError(t, RequireRole(admin, models.RoleAdmin))
	assert.NoError(t, RequireRole(user, models.RoleAdmin, models.RoleUser))
	assert.ErrorIs(t, RequireRole(user, models.RoleAdmin), ErrForbidden)
}
