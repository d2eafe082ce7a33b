package gormstore

import (
	"context"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"gorm.io/gorm"
)

const certTableName = "certificates"

type GormCertificateStore struct {
	querier *gormDBQuerier[models.Certificate]
}

func NewCertificateRepository(db *gorm.DB) (storage.CertificatesRepo, error) {
	querier, err := TableQuery(db, certTableName, "serial_number", models.Certificate{})
	if err != nil {
		return nil, err
	}

	return &GormCertificateStore{
		querier: querier,
	}, nil
}

func (db *GormCertificateStore) Count(ctx context.Context) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{})
}

func (db *GormCertificateStore) CountByCA(ctx context.Context, caID string) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{
		{query: "issuer_meta_id = ?", extraArgs: []any{caID}},
	})
}

func (db *GormCertificateStore) CountByCAIDAndStatus(ctx context.Context, caID string, status models.CertificateStatus) (int, error) {
	params := []gormWhereParams{
		{query: "status = ?", extraArgs: []any{status}},
	}

	if caID != "" {
		params = append(params, gormWhereParams{query: "issuer_meta_id = ?", extraArgs: []any{caID}})
	}

	return db.querier.Count(ctx, params)
}

func (db *GormCertificateStore) CountByProfile(ctx context.Context, profileID string) (int, error) {
	return db.querier.Count(ctx, []gormWhereParams{
		{query: "profile_id = ?", extraArgs: []any{profileID}},
	})
}

func (db *GormCertificateStore) SelectAll(ctx context.Context, req storage.StorageListRequest[models.Certificate]) (string, error) {
	return db.querier.SelectAll(ctx, req.QueryParams, []gormWhereParams{}, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCertificateStore) SelectByCA(ctx context.Context, caID string, req storage.StorageListRequest[models.Certificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "issuer_meta_id = ?", extraArgs: []any{caID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCertificateStore) SelectByCAIDAndStatus(ctx context.Context, caID string, status models.CertificateStatus, req storage.StorageListRequest[models.Certificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "issuer_meta_id = ?", extraArgs: []any{caID}},
		{query: "status = ?", extraArgs: []any{status}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCertificateStore) SelectByStatus(ctx context.Context, status models.CertificateStatus, req storage.StorageListRequest[models.Certificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "status = ?", extraArgs: []any{status}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCertificateStore) SelectByExpirationDate(ctx context.Context, beforeExpirationDate time.Time, afterExpirationDate time.Time, req storage.StorageListRequest[models.Certificate]) (string, error) {
	opts := []gormWhereParams{
		{query: "valid_to < ?", extraArgs: []any{beforeExpirationDate}},
		{query: "valid_to > ?", extraArgs: []any{afterExpirationDate}},
		{query: "status = ?", extraArgs: []any{models.StatusActive}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormCertificateStore) SelectExistsBySerialNumber(ctx context.Context, serialNumber string) (bool, *models.Certificate, error) {
	return db.querier.SelectExists(ctx, serialNumber, nil)
}

func (db *GormCertificateStore) Update(ctx context.Context, certificate *models.Certificate) (*models.Certificate, error) {
	return db.querier.Update(ctx, certificate, certificate.SerialNumber)
}

func (db *GormCertificateStore) Insert(ctx context.Context, certificate *models.Certificate) (*models.Certificate, error) {
	return db.querier.Insert(ctx, certificate)
}

func (db *GormCertificateStore) Delete(ctx context.Context, serialNumber string) error {
	return db.querier.Delete(ctx, serialNumber)
}
