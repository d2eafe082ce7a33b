package services

import (
	"context"

	"github.com/go-playground/validator/v10"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
)

var vaValidate *validator.Validate

// VAServiceBackend fronts the OCSP responder and the CRL engine behind a
// single validation authority surface.
type VAServiceBackend struct {
	ocspService services.OCSPService
	crlService  services.CRLService
	vaRepo      storage.VARepo
	logger      *logrus.Entry
}

type VAServiceBuilder struct {
	Logger      *logrus.Entry
	OCSPService services.OCSPService
	CRLService  services.CRLService
	VARepo      storage.VARepo
}

func NewVAService(builder VAServiceBuilder) (services.VAService, error) {
	vaValidate = validator.New()

	return &VAServiceBackend{
		ocspService: builder.OCSPService,
		crlService:  builder.CRLService,
		vaRepo:      builder.VARepo,
		logger:      builder.Logger,
	}, nil
}

func (svc *VAServiceBackend) GetOCSPResponse(ctx context.Context, input services.GetOCSPResponseInput) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := vaValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetOCSPResponseInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	return svc.ocspService.Verify(ctx, input.Request)
}

func (svc *VAServiceBackend) GetCRLResponse(ctx context.Context, input services.GetCRLResponseInput) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := vaValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCRLResponseInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	return svc.crlService.GetCRL(ctx, services.GetCRLInput{
		CASubjectKeyID: input.CASubjectKeyID,
		CRLVersion:     input.CRLVersion,
	})
}

func (svc *VAServiceBackend) GetVARoles(ctx context.Context, input services.GetVARolesInput) (string, error) {
	return svc.vaRepo.GetAll(ctx, storage.StorageListRequest[models.VARole]{
		ExhaustiveRun: input.ExhaustiveRun,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     map[string]interface{}{},
		ApplyFunc:     input.ApplyFunc,
	})
}

func (svc *VAServiceBackend) GetVARoleByID(ctx context.Context, input services.GetVARoleInput) (*models.VARole, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := vaValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetVARoleInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, role, err := svc.vaRepo.Get(ctx, input.CASubjectKeyID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, errs.ErrVARoleNotFound
	}

	return role, nil
}

func (svc *VAServiceBackend) UpdateVARole(ctx context.Context, input services.UpdateVARoleInput) (*models.VARole, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := vaValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateVARoleInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, role, err := svc.vaRepo.Get(ctx, input.CASubjectKeyID)
	if err != nil {
		return nil, err
	}

	if !exists {
		return nil, errs.ErrVARoleNotFound
	}

	role.CRLOptions = input.CRLRole

	return svc.vaRepo.Update(ctx, role)
}
