package indexer

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var ErrNotFound = errors.New("indexer: snapshot not found")

// Repository stores the latest snapshot per vault and swap slot.
type Repository interface {
	SaveVault(ctx context.Context, v *VaultSnapshot) error
	SaveSwap(ctx context.Context, s *SwapSnapshot) error
	GetVault(ctx context.Context, index uint64) (*VaultSnapshot, error)
	GetSwap(ctx context.Context, index uint64) (*SwapSnapshot, error)
	FindVaultsByOwner(ctx context.Context, owner string, limit int) ([]*VaultSnapshot, error)
	FindSwapsByState(ctx context.Context, state string, limit int) ([]*SwapSnapshot, error)
}

// OpenPostgres connects to dsn and migrates the snapshot tables.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&VaultSnapshot{}, &SwapSnapshot{}); err != nil {
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	return db, nil
}

type gormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// SaveVault upserts by primary key.
func (r *gormRepository) SaveVault(ctx context.Context, v *VaultSnapshot) error {
	return r.db.WithContext(ctx).Save(v).Error
}

func (r *gormRepository) SaveSwap(ctx context.Context, s *SwapSnapshot) error {
	return r.db.WithContext(ctx).Save(s).Error
}

func (r *gormRepository) GetVault(ctx context.Context, index uint64) (*VaultSnapshot, error) {
	var v VaultSnapshot
	err := r.db.WithContext(ctx).Where("vault_index = ?", index).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *gormRepository) GetSwap(ctx context.Context, index uint64) (*SwapSnapshot, error) {
	var s SwapSnapshot
	err := r.db.WithContext(ctx).Where("swap_index = ?", index).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) FindVaultsByOwner(ctx context.Context, owner string, limit int) ([]*VaultSnapshot, error) {
	var out []*VaultSnapshot
	err := r.db.WithContext(ctx).
		Where("owner_address = ? AND empty = ?", owner, false).
		Order("vault_index ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) FindSwapsByState(ctx context.Context, state string, limit int) ([]*SwapSnapshot, error) {
	var out []*SwapSnapshot
	err := r.db.WithContext(ctx).
		Where("state = ?", state).
		Order("swap_index ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
