package repository

import (
	"context"
	"errors"
	"fmt"
	"github.com/jaam8/poll_ledger/internal/address"
	"github.com/jaam8/poll_ledger/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type entityRow struct {
	Address string `gorm:"primaryKey;size:64"`
	Payload []byte `gorm:"not null"`
	Version uint64 `gorm:"not null"`
}

func (entityRow) TableName() string {
	return "entities"
}

type GormStore struct {
	db *gorm.DB
	l  *zap.Logger
}

func NewGormStore(db *gorm.DB, l *zap.Logger) *GormStore {
	return &GormStore{
		db: db,
		l:  l,
	}
}

func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&entityRow{}); err != nil {
		return fmt.Errorf("repository: migrate entities: %w", err)
	}
	return nil
}

// errVersionConflict makes Commit roll back and start over.
var errVersionConflict = errors.New("repository: entity version changed")

func (s *GormStore) Create(ctx context.Context, addr address.Address, value []byte) error {
	return s.insert(s.db.WithContext(ctx), addr, value)
}

func (s *GormStore) Read(ctx context.Context, addr address.Address) ([]byte, error) {
	row, err := s.get(s.db.WithContext(ctx), addr)
	if err != nil {
		return nil, err
	}
	return row.Payload, nil
}

func (s *GormStore) Commit(ctx context.Context, guard *Entry, mutations ...Mutation) error {
	for {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if guard != nil {
				if err := s.insert(tx, guard.Addr, guard.Value); err != nil {
					return err
				}
			}
			writes, err := applyMutations(mutations, func(addr address.Address) ([]byte, uint64, error) {
				row, err := s.get(tx, addr)
				if err != nil {
					return nil, 0, err
				}
				return row.Payload, row.Version, nil
			})
			if err != nil {
				return err
			}
			for _, w := range writes {
				res := tx.Model(&entityRow{}).
					Where("address = ? AND version = ?", w.addr.String(), w.version).
					Updates(map[string]any{
						"payload": w.value,
						"version": w.version + 1,
					})
				if res.Error != nil {
					s.l.Debug("failed to update entity", zap.Stringer("address", w.addr), zap.Error(res.Error))
					return fmt.Errorf("repository: database update error: %w", res.Error)
				}
				if res.RowsAffected != 1 {
					return errVersionConflict
				}
			}
			return nil
		})
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		s.l.Debug("concurrent commit, retrying")
	}
}

func (s *GormStore) insert(db *gorm.DB, addr address.Address, value []byte) error {
	row := entityRow{Address: addr.String(), Payload: value, Version: 1}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "address"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		s.l.Debug("error inserting entity", zap.Stringer("address", addr), zap.Error(res.Error))
		return fmt.Errorf("repository: database insert error: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		s.l.Debug("entity already exists", zap.Stringer("address", addr))
		return models.ErrAlreadyExists
	}
	return nil
}

func (s *GormStore) get(db *gorm.DB, addr address.Address) (*entityRow, error) {
	var row entityRow
	err := db.Where("address = ?", addr.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", models.ErrNotFound, addr)
	}
	if err != nil {
		s.l.Debug("failed to select entity", zap.Error(err))
		return nil, fmt.Errorf("repository: database select error: %w", err)
	}
	return &row, nil
}
