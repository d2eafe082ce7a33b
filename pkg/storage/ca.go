package storage

import (
	"context"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
)

type CertificatesRepo interface {
	Count(ctx context.Context) (int, error)
	CountByCA(ctx context.Context, caID string) (int, error)
	CountByCAIDAndStatus(ctx context.Context, caID string, status models.CertificateStatus) (int, error)
	CountByProfile(ctx context.Context, profileID string) (int, error)
	SelectAll(ctx context.Context, req StorageListRequest[models.Certificate]) (string, error)
	SelectByCA(ctx context.Context, caID string, req StorageListRequest[models.Certificate]) (string, error)
	SelectByCAIDAndStatus(ctx context.Context, caID string, status models.CertificateStatus, req StorageListRequest[models.Certificate]) (string, error)
	SelectByStatus(ctx context.Context, status models.CertificateStatus, req StorageListRequest[models.Certificate]) (string, error)
	SelectByExpirationDate(ctx context.Context, beforeExpirationDate time.Time, afterExpirationDate time.Time, req StorageListRequest[models.Certificate]) (string, error)
	SelectExistsBySerialNumber(ctx context.Context, serialNumber string) (bool, *models.Certificate, error)
	Update(ctx context.Context, certificate *models.Certificate) (*models.Certificate, error)
	Insert(ctx context.Context, certificate *models.Certificate) (*models.Certificate, error)
	Delete(ctx context.Context, serialNumber string) error
}

type CACertificatesRepo interface {
	Count(ctx context.Context) (int, error)
	CountByStatus(ctx context.Context, status models.CertificateStatus) (int, error)
	SelectAll(ctx context.Context, req StorageListRequest[models.CACertificate]) (string, error)
	SelectExistsByID(ctx context.Context, id string) (bool, *models.CACertificate, error)
	SelectExistsBySerialNumber(ctx context.Context, serialNumber string) (bool, *models.CACertificate, error)
	SelectExistsBySubjectKeyID(ctx context.Context, skid string) (bool, *models.CACertificate, error)
	SelectByCommonName(ctx context.Context, commonName string, req StorageListRequest[models.CACertificate]) (string, error)
	SelectByParentCA(ctx context.Context, parentCAID string, req StorageListRequest[models.CACertificate]) (string, error)
	Insert(ctx context.Context, caCertificate *models.CACertificate) (*models.CACertificate, error)
	Update(ctx context.Context, caCertificate *models.CACertificate) (*models.CACertificate, error)
	Delete(ctx context.Context, caID string) error

	// IncrementSequentialSerial atomically advances and returns the next
	// serial counter of a CA configured with the sequential policy.
	IncrementSequentialSerial(ctx context.Context, caID string) (int64, error)
}

type IssuanceProfileRepo interface {
	Count(ctx context.Context) (int, error)
	SelectAll(ctx context.Context, req StorageListRequest[models.IssuanceProfile]) (string, error)
	SelectByID(ctx context.Context, id string) (bool, *models.IssuanceProfile, error)
	Insert(ctx context.Context, issuanceProfile *models.IssuanceProfile) (*models.IssuanceProfile, error)
	Update(ctx context.Context, issuanceProfile *models.IssuanceProfile) (*models.IssuanceProfile, error)
	Delete(ctx context.Context, id string) error
}
