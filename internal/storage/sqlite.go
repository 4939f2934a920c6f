package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"eventbook_auth/internal/models"

	"github.com/gofrs/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type userRecord struct {
	ID           string `gorm:"primaryKey;type:text"`
	Name         string `gorm:"not null;type:text"`
	Email        string `gorm:"uniqueIndex;not null;type:text"`
	PasswordHash string `gorm:"not null;type:text"`
	Role         string `gorm:"not null;type:text"`
	CreatedAt    time.Time
}

func (userRecord) TableName() string {
	return usersTable
}

func (r userRecord) toModel() (models.User, error) {
	id, err := uuid.FromString(r.ID)
	if err != nil {
		return models.User{}, err
	}

	return models.User{
		ID:           id,
		Name:         r.Name,
		Email:        r.Email,
		PasswordHash: r.PasswordHash,
		Role:         models.Role(r.Role),
		CreatedAt:    r.CreatedAt,
	}, nil
}

// SQLiteStorage keeps users in a local SQLite file through GORM. Emails are
// stored lower-cased, so the unique index is case-insensitive.
type SQLiteStorage struct {
	db *gorm.DB
}

func NewSQLiteStorage(path string, debug bool) (*SQLiteStorage, error) {
	const op = "storage.NewSQLiteStorage"

	if err := os.MkdirAll(filepath.Dir(path), fs.ModePerm); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	gormLogger := logger.Default.LogMode(logger.Silent)
	if debug {
		gormLogger = logger.Default.LogMode(logger.Info)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	// SQLite allows one writer at a time.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&userRecord{}); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	const op = "storage.CreateUser"

	record := userRecord{
		ID:           user.ID.String(),
		Name:         user.Name,
		Email:        strings.ToLower(user.Email),
		PasswordHash: user.PasswordHash,
		Role:         string(user.Role),
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		if isDuplicatedKey(err) {
			return models.User{}, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	created, err := record.toModel()
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return created, nil
}

func (s *SQLiteStorage) GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error) {
	const op = "storage.GetUserByID"

	user, err := s.first(ctx, "id = ?", userID.String())
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const op = "storage.GetUserByEmail"

	user, err := s.first(ctx, "email = ?", strings.ToLower(email))
	if err != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, err)
	}

	return user, nil
}

func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "storage.ListUsers"

	var records []userRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	users := make([]models.User, 0, len(records))
	for _, record := range records {
		user, err := record.toModel()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, user)
	}

	return users, nil
}

func (s *SQLiteStorage) AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error) {
	const op = "storage.AssignRole"

	result := s.db.WithContext(ctx).
		Model(&userRecord{}).
		Where("id = ?", userID.String()).
		Update("role", string(role))
	if result.Error != nil {
		return models.User{}, fmt.Errorf("%s: %w", op, result.Error)
	}
	if result.RowsAffected == 0 {
		return models.User{}, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}

	return s.GetUserByID(ctx, userID)
}

func (s *SQLiteStorage) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStorage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

func (s *SQLiteStorage) first(ctx context.Context, query string, args ...any) (models.User, error) {
	var record userRecord

	err := s.db.WithContext(ctx).Where(query, args...).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.User{}, ErrUserNotFound
		}
		return models.User{}, err
	}

	return record.toModel()
}

func isDuplicatedKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint failed")
}
