package gormstore

import (
	"context"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"gorm.io/gorm"
)

const profileTableName = "issuance_profiles"

type GormIssuanceProfileStore struct {
	querier *gormDBQuerier[models.IssuanceProfile]
}

func NewIssuanceProfileRepository(db *gorm.DB) (storage.IssuanceProfileRepo, error) {
	querier, err := TableQuery(db, profileTableName, "id", models.IssuanceProfile{})
	if err != nil {
		return nil, err
	}

	return &GormIssuanceProfileStore{
		querier: querier,
	}, nil
}

func (db *GormIssuanceProfileStore) Count(ctx context.Context) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{})
}

func (db *GormIssuanceProfileStore) SelectAll(ctx context.Context, req storage.StorageListRequest[models.IssuanceProfile]) (string, error) {
	return db.querier.SelectAll(ctx, req.QueryParams, []gormWhereParams{}, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormIssuanceProfileStore) SelectByID(ctx context.Context, id string) (bool, *models.IssuanceProfile, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormIssuanceProfileStore) Insert(ctx context.Context, issuanceProfile *models.IssuanceProfile) (*models.IssuanceProfile, error) {
	return db.querier.Insert(ctx, issuanceProfile)
}

func (db *GormIssuanceProfileStore) Update(ctx context.Context, issuanceProfile *models.IssuanceProfile) (*models.IssuanceProfile, error) {
	return db.querier.Update(ctx, issuanceProfile, issuanceProfile.ID)
}

func (db *GormIssuanceProfileStore) Delete(ctx context.Context, id string) error {
	return db.querier.Delete(ctx, id)
}
