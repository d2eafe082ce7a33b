package gormstore

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"gorm.io/gorm"
)

const vaRoleTableName = "va_roles"

type GormVAStore struct {
	db      *gorm.DB
	querier *gormDBQuerier[models.VARole]
}

func NewVARepository(db *gorm.DB) (storage.VARepo, error) {
	querier, err := TableQuery(db, vaRoleTableName, "ca_ski", models.VARole{})
	if err != nil {
		return nil, err
	}

	return &GormVAStore{
		db:      db,
		querier: querier,
	}, nil
}

func (db *GormVAStore) Get(ctx context.Context, caSubjectKeyID string) (bool, *models.VARole, error) {
	return db.querier.SelectExists(ctx, caSubjectKeyID, nil)
}

func (db *GormVAStore) GetAll(ctx context.Context, req storage.StorageListRequest[models.VARole]) (string, error) {
	return db.querier.SelectAll(ctx, req.QueryParams, []gormWhereParams{}, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormVAStore) Update(ctx context.Context, role *models.VARole) (*models.VARole, error) {
	return db.querier.Update(ctx, role, role.CASubjectKeyID)
}

func (db *GormVAStore) Insert(ctx context.Context, role *models.VARole) (*models.VARole, error) {
	return db.querier.Insert(ctx, role)
}

// AdvanceCRLVersion increments the CRL number counter inside a transaction
// so concurrent CRL generations never sign the same number twice.
func (db *GormVAStore) AdvanceCRLVersion(ctx context.Context, caSubjectKeyID string, validFrom, validUntil time.Time) (*big.Int, error) {
	var raw string
	err := db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(vaRoleTableName).Where("ca_ski = ?", caSubjectKeyID).
			Updates(map[string]any{
				"latest_crl_version":     gorm.Expr("latest_crl_version + 1"),
				"latest_crl_valid_from":  validFrom,
				"latest_crl_valid_until": validUntil,
			})
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}

		row := tx.Table(vaRoleTableName).Where("ca_ski = ?", caSubjectKeyID).Select("latest_crl_version").Row()
		if err := row.Scan(&raw); err != nil {
			return fmt.Errorf("could not read CRL number counter: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	version, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("stored CRL number %q is not an integer", raw)
	}

	return version, nil
}
