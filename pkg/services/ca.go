package services

import (
	"context"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
)

type CAService interface {
	GetStats(ctx context.Context) (*models.CAStats, error)
	GetCryptoEngineProvider(ctx context.Context) ([]*models.CryptoEngineProvider, error)

	CreateCA(ctx context.Context, input CreateCAInput) (*models.CACertificate, error)
	GetCAByID(ctx context.Context, input GetCAByIDInput) (*models.CACertificate, error)
	GetCAs(ctx context.Context, input GetCAsInput) (string, error)
	GetCABySerialNumber(ctx context.Context, input GetCABySerialNumberInput) (*models.CACertificate, error)
	UpdateCAStatus(ctx context.Context, input UpdateCAStatusInput) (*models.CACertificate, error)
	UpdateCAMetadata(ctx context.Context, input UpdateCAMetadataInput) (*models.CACertificate, error)

	SignCertificate(ctx context.Context, input SignCertificateInput) (*models.Certificate, error)
	ImportCertificate(ctx context.Context, input ImportCertificateInput) (*models.Certificate, error)

	GetCertificateBySerialNumber(ctx context.Context, input GetCertificatesBySerialNumberInput) (*models.Certificate, error)
	GetCertificates(ctx context.Context, input GetCertificatesInput) (string, error)
	GetCertificatesByCA(ctx context.Context, input GetCertificatesByCAInput) (string, error)
	GetCertificatesByStatus(ctx context.Context, input GetCertificatesByStatusInput) (string, error)
	GetCertificatesByExpirationDate(ctx context.Context, input GetCertificatesByExpirationDateInput) (string, error)
	UpdateCertificateStatus(ctx context.Context, input UpdateCertificateStatusInput) (*models.Certificate, error)
	UpdateCertificateMetadata(ctx context.Context, input UpdateCertificateMetadataInput) (*models.Certificate, error)

	CreateIssuanceProfile(ctx context.Context, input CreateIssuanceProfileInput) (*models.IssuanceProfile, error)
	GetIssuanceProfileByID(ctx context.Context, input GetIssuanceProfileByIDInput) (*models.IssuanceProfile, error)
	GetIssuanceProfiles(ctx context.Context, input GetIssuanceProfilesInput) (string, error)
	UpdateIssuanceProfile(ctx context.Context, input UpdateIssuanceProfileInput) (*models.IssuanceProfile, error)
	DeleteIssuanceProfile(ctx context.Context, input DeleteIssuanceProfileInput) error
}

type CreateCAInput struct {
	ID           string
	ParentID     string
	KeyMetadata  models.KeyStrengthMetadata `validate:"required"`
	Subject      models.Subject             `validate:"required"`
	CAExpiration models.Validity            `validate:"required"`
	EngineID     string
	Metadata     map[string]any
	OCSPURLs     []string
	CRLURLs      []string
}

type GetCAByIDInput struct {
	CAID string `validate:"required"`
}

type GetCAsInput struct {
	QueryParameters *resources.QueryParameters

	ExhaustiveRun bool // whether to iter all elems
	ApplyFunc     func(ca models.CACertificate)
}

type GetCABySerialNumberInput struct {
	SerialNumber string `validate:"required"`
}

type UpdateCAStatusInput struct {
	CAID             string                   `validate:"required"`
	Status           models.CertificateStatus `validate:"required"`
	RevocationReason models.RevocationReason
}

type UpdateCAMetadataInput struct {
	CAID     string         `validate:"required"`
	Metadata map[string]any `validate:"required"`
}

type SignCertificateInput struct {
	CAID            string                         `validate:"required"`
	CertRequest     *models.X509CertificateRequest `validate:"required"`
	ProfileID       string
	IssuanceProfile *models.IssuanceProfile
	Validity        *models.Validity
}

type ImportCertificateInput struct {
	Certificate *models.X509Certificate `validate:"required"`
	Metadata    map[string]any
}

type GetCertificatesBySerialNumberInput struct {
	SerialNumber string `validate:"required"`
}

type GetCertificatesInput struct {
	QueryParameters *resources.QueryParameters

	ExhaustiveRun bool
	ApplyFunc     func(cert models.Certificate)
}

type GetCertificatesByCAInput struct {
	CAID string `validate:"required"`

	QueryParameters *resources.QueryParameters
	ExhaustiveRun   bool
	ApplyFunc       func(cert models.Certificate)
}

type GetCertificatesByStatusInput struct {
	Status models.CertificateStatus `validate:"required"`

	QueryParameters *resources.QueryParameters
	ExhaustiveRun   bool
	ApplyFunc       func(cert models.Certificate)
}

type GetCertificatesByExpirationDateInput struct {
	ExpiresAfter  int64
	ExpiresBefore int64

	QueryParameters *resources.QueryParameters
	ExhaustiveRun   bool
	ApplyFunc       func(cert models.Certificate)
}

type UpdateCertificateStatusInput struct {
	SerialNumber     string                   `validate:"required"`
	NewStatus        models.CertificateStatus `validate:"required"`
	RevocationReason models.RevocationReason
}

type UpdateCertificateMetadataInput struct {
	SerialNumber string         `validate:"required"`
	Metadata     map[string]any `validate:"required"`
}

type CreateIssuanceProfileInput struct {
	Profile models.IssuanceProfile `validate:"required"`
}

type GetIssuanceProfileByIDInput struct {
	ProfileID string `validate:"required"`
}

type GetIssuanceProfilesInput struct {
	QueryParameters *resources.QueryParameters

	ExhaustiveRun bool
	ApplyFunc     func(profile models.IssuanceProfile)
}

type UpdateIssuanceProfileInput struct {
	Profile models.IssuanceProfile `validate:"required"`
}

type DeleteIssuanceProfileInput struct {
	ProfileID string `validate:"required"`
}
