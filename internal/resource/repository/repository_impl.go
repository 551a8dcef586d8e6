package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/kovra/internal/resource/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, db *gorm.DB, resource *domain.Resource) error {
	return db.WithContext(ctx).Create(resource).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID string, id snowflake.ID) (*domain.Resource, error) {
	var res domain.Resource
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// List returns up to filter.Limit rows newest first, after filter.After
// when set.
func (r *repo) List(ctx context.Context, db *gorm.DB, orgID string, filter domain.ListFilter) ([]domain.Resource, error) {
	var items []domain.Resource
	stmt := db.WithContext(ctx).
		Model(&domain.Resource{}).
		Where("org_id = ?", orgID)

	if filter.Type != nil {
		stmt = stmt.Where("type = ?", *filter.Type)
	}
	if filter.After != nil {
		stmt = stmt.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			filter.After.CreatedAt, filter.After.CreatedAt, filter.After.ID)
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}

	if err := stmt.Order("created_at DESC").Order("id DESC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, orgID string, id snowflake.ID) error {
	tx := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Delete(&domain.Resource{})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
