package gormstore

import (
	"context"
	"fmt"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"gorm.io/gorm"
)

const caTableName = "ca_certificates"

type GormCAStore struct {
	db      *gorm.DB
	querier *gormDBQuerier[models.CACertificate]
}

func NewCARepository(db *gorm.DB) (storage.CACertificatesRepo, error) {
	querier, err := TableQuery(db, caTableName, "id", models.CACertificate{})
	if err != nil {
		return nil, err
	}

	return &GormCAStore{
		db:      db,
		querier: querier,
	}, nil
}

func (db *GormCAStore) Count(ctx context.Context) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{})
}

func (db *GormCAStore) CountByStatus(ctx context.Context, status models.CertificateStatus) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{
		{query: "serial_number IN (SELECT serial_number FROM certificates WHERE status = ?)", extraArgs: []any{status}},
	})
}

func (db *GormCAStore) SelectAll(ctx context.Context, req storage.StorageListRequest[models.CACertificate]) (string, error) {
	return db.querier.SelectAll(ctx, req.QueryParams, []gormWhereParams{}, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCAStore) SelectExistsByID(ctx context.Context, id string) (bool, *models.CACertificate, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormCAStore) SelectExistsBySerialNumber(ctx context.Context, serialNumber string) (bool, *models.CACertificate, error) {
	queryCol := "serial_number"
	return db.querier.SelectExists(ctx, serialNumber, &queryCol)
}

func (db *GormCAStore) SelectExistsBySubjectKeyID(ctx context.Context, skid string) (bool, *models.CACertificate, error) {
	return db.querier.SelectExistsByQuery(ctx, "serial_number IN (SELECT serial_number FROM certificates WHERE key_id = ?)", skid)
}

func (db *GormCAStore) SelectByCommonName(ctx context.Context, commonName string, req storage.StorageListRequest[models.CACertificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "serial_number IN (SELECT serial_number FROM certificates WHERE subject_common_name = ?)", extraArgs: []any{commonName}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCAStore) SelectByParentCA(ctx context.Context, parentCAID string, req storage.StorageListRequest[models.CACertificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "id != ? AND serial_number IN (SELECT serial_number FROM certificates WHERE issuer_meta_id = ?)", extraArgs: []any{parentCAID, parentCAID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCAStore) Insert(ctx context.Context, caCertificate *models.CACertificate) (*models.CACertificate, error) {
	return db.querier.Insert(ctx, caCertificate)
}

func (db *GormCAStore) Update(ctx context.Context, caCertificate *models.CACertificate) (*models.CACertificate, error) {
	return db.querier.Update(ctx, caCertificate, caCertificate.ID)
}

func (db *GormCAStore) Delete(ctx context.Context, caID string) error {
	return db.querier.Delete(ctx, caID)
}

// IncrementSequentialSerial advances the per CA serial counter inside a
// transaction so concurrent issuances never observe the same value.
func (db *GormCAStore) IncrementSequentialSerial(ctx context.Context, caID string) (int64, error) {
	var next int64
	err := db.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(caTableName).Where("id = ?", caID).
			Update("next_sequential_serial", gorm.Expr("next_sequential_serial + 1"))
		if res.Error != nil {
			return res.Error
		}

		if res.RowsAffected != 1 {
			return gorm.ErrRecordNotFound
		}

		row := tx.Table(caTableName).Where("id = ?", caID).Select("next_sequential_serial").Row()
		if err := row.Scan(&next); err != nil {
			return fmt.Errorf("could not read serial counter: %w", err)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return next, nil
}
