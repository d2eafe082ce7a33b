package services

import (
	"context"
	"crypto/x509"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"golang.org/x/crypto/ocsp"
)

type OCSPService interface {
	Verify(ctx context.Context, req *ocsp.Request) ([]byte, error)
}

type CRLService interface {
	// GetCRL returns the DER bytes of the latest published CRL of a CA.
	GetCRL(ctx context.Context, input GetCRLInput) ([]byte, error)
	// CalculateCRL regenerates and publishes a fresh CRL for a CA.
	CalculateCRL(ctx context.Context, input CalculateCRLInput) (*x509.RevocationList, error)
	InitCRLRole(ctx context.Context, caSubjectKeyID string) (*models.VARole, error)
}

type GetCRLInput struct {
	CASubjectKeyID string `validate:"required"`
	CRLVersion     string
}

type CalculateCRLInput struct {
	CASubjectKeyID string `validate:"required"`
}

type VAService interface {
	GetOCSPResponse(ctx context.Context, input GetOCSPResponseInput) ([]byte, error)
	GetCRLResponse(ctx context.Context, input GetCRLResponseInput) ([]byte, error)
	GetVARoles(ctx context.Context, input GetVARolesInput) (string, error)
	GetVARoleByID(ctx context.Context, input GetVARoleInput) (*models.VARole, error)
	UpdateVARole(ctx context.Context, input UpdateVARoleInput) (*models.VARole, error)
}

type GetOCSPResponseInput struct {
	Request *ocsp.Request `validate:"required"`
}

type GetCRLResponseInput struct {
	CASubjectKeyID string `validate:"required"`
	CRLVersion     string
}

type GetVARolesInput struct {
	QueryParameters *resources.QueryParameters

	ExhaustiveRun bool
	ApplyFunc     func(role models.VARole)
}

type GetVARoleInput struct {
	CASubjectKeyID string `validate:"required"`
}

type UpdateVARoleInput struct {
	CASubjectKeyID string           `validate:"required"`
	CRLRole        models.VACRLRole `validate:"required"`
}
