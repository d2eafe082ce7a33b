package controllers

import (
	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
)

type caHttpRoutes struct {
	svc services.CAService
}

func NewCAHttpRoutes(svc services.CAService) *caHttpRoutes {
	return &caHttpRoutes{
		svc: svc,
	}
}

func (r *caHttpRoutes) GetCryptoEngineProvider(ctx *gin.Context) {
	engine, err := r.svc.GetCryptoEngineProvider(ctx)
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, engine)
}

func (r *caHttpRoutes) GetStats(ctx *gin.Context) {
	stats, err := r.svc.GetStats(ctx)
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, stats)
}

func (r *caHttpRoutes) CreateCA(ctx *gin.Context) {
	var requestBody resources.CreateCABody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	ca, err := r.svc.CreateCA(ctx, services.CreateCAInput{
		ID:           requestBody.ID,
		ParentID:     requestBody.ParentID,
		KeyMetadata:  requestBody.KeyMetadata,
		Subject:      requestBody.Subject,
		CAExpiration: requestBody.CAExpiration,
		EngineID:     requestBody.EngineID,
		Metadata:     requestBody.Metadata,
		OCSPURLs:     requestBody.OCSPURLs,
		CRLURLs:      requestBody.CRLURLs,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCAIncompatibleValidity:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrUnsupportedKeyType:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCryptoEngineNotFound:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrCAStatus:
			ctx.JSON(409, gin.H{"err": err.Error()})
		case errs.ErrCAAlreadyExists:
			ctx.JSON(409, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(201, ca)
}

func (r *caHttpRoutes) GetAllCAs(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.CAFiltrableFields)

	cas := []models.CACertificate{}

	nextBookmark, err := r.svc.GetCAs(ctx, services.GetCAsInput{
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(ca models.CACertificate) {
			cas = append(cas, ca)
		},
	})
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.CACertificate]{
		NextBookmark: nextBookmark,
		List:         cas,
	})
}

func (r *caHttpRoutes) GetCAByID(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	ca, err := r.svc.GetCAByID(ctx, services.GetCAByIDInput{
		CAID: params.ID,
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, ca)
}

func (r *caHttpRoutes) GetCABySerialNumber(ctx *gin.Context) {
	type uriParams struct {
		SerialNumber string `uri:"sn" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	ca, err := r.svc.GetCABySerialNumber(ctx, services.GetCABySerialNumberInput{
		SerialNumber: params.SerialNumber,
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, ca)
}

func (r *caHttpRoutes) UpdateCAStatus(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.UpdateCAStatusBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	ca, err := r.svc.UpdateCAStatus(ctx, services.UpdateCAStatusInput{
		CAID:             params.ID,
		Status:           requestBody.Status,
		RevocationReason: requestBody.RevocationReason,
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCertificateStatusTransitionNotAllowed:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCAAlreadyRevoked:
			ctx.JSON(409, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, ca)
}

func (r *caHttpRoutes) UpdateCAMetadata(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.UpdateMetadataBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	ca, err := r.svc.UpdateCAMetadata(ctx, services.UpdateCAMetadataInput{
		CAID:     params.ID,
		Metadata: requestBody.Metadata,
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, ca)
}

func (r *caHttpRoutes) SignCertificate(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.SignCertificateBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	cert, err := r.svc.SignCertificate(ctx, services.SignCertificateInput{
		CAID:        params.ID,
		CertRequest: requestBody.CertRequest,
		ProfileID:   requestBody.ProfileID,
		Validity:    requestBody.Validity,
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrIssuanceProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrIssuanceProfileViolation:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrValidityWindowInvalid:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrKeyStrengthTooWeak:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCAStatus:
			ctx.JSON(409, gin.H{"err": err.Error()})
		case errs.ErrCAExpired:
			ctx.JSON(409, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, cert)
}

func (r *caHttpRoutes) ImportCertificate(ctx *gin.Context) {
	var requestBody resources.ImportCertificateBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	cert, err := r.svc.ImportCertificate(ctx, services.ImportCertificateInput{
		Certificate: requestBody.Certificate,
		Metadata:    requestBody.Metadata,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(201, cert)
}

func (r *caHttpRoutes) GetCertificates(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.CertificateFiltrableFields)

	certs := []models.Certificate{}

	nextBookmark, err := r.svc.GetCertificates(ctx, services.GetCertificatesInput{
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(cert models.Certificate) {
			certs = append(certs, cert)
		},
	})
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.Certificate]{
		NextBookmark: nextBookmark,
		List:         certs,
	})
}

func (r *caHttpRoutes) GetCertificatesByCA(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.CertificateFiltrableFields)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	certs := []models.Certificate{}

	nextBookmark, err := r.svc.GetCertificatesByCA(ctx, services.GetCertificatesByCAInput{
		CAID:            params.ID,
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(cert models.Certificate) {
			certs = append(certs, cert)
		},
	})
	if err != nil {
		switch err {
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.Certificate]{
		NextBookmark: nextBookmark,
		List:         certs,
	})
}

func (r *caHttpRoutes) GetCertificatesByStatus(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.CertificateFiltrableFields)

	type uriParams struct {
		Status string `uri:"status" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	certs := []models.Certificate{}

	nextBookmark, err := r.svc.GetCertificatesByStatus(ctx, services.GetCertificatesByStatusInput{
		Status:          models.CertificateStatus(params.Status),
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(cert models.Certificate) {
			certs = append(certs, cert)
		},
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.Certificate]{
		NextBookmark: nextBookmark,
		List:         certs,
	})
}

func (r *caHttpRoutes) GetCertificatesByExpirationDate(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.CertificateFiltrableFields)

	type queryParamsStruct struct {
		ExpiresAfter  int64 `form:"expires_after"`
		ExpiresBefore int64 `form:"expires_before"`
	}

	var window queryParamsStruct
	if err := ctx.ShouldBindQuery(&window); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	certs := []models.Certificate{}

	nextBookmark, err := r.svc.GetCertificatesByExpirationDate(ctx, services.GetCertificatesByExpirationDateInput{
		ExpiresAfter:    window.ExpiresAfter,
		ExpiresBefore:   window.ExpiresBefore,
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(cert models.Certificate) {
			certs = append(certs, cert)
		},
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.Certificate]{
		NextBookmark: nextBookmark,
		List:         certs,
	})
}

func (r *caHttpRoutes) GetCertificateBySerialNumber(ctx *gin.Context) {
	type uriParams struct {
		SerialNumber string `uri:"sn" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	cert, err := r.svc.GetCertificateBySerialNumber(ctx, services.GetCertificatesBySerialNumberInput{
		SerialNumber: params.SerialNumber,
	})
	if err != nil {
		switch err {
		case errs.ErrCertificateNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, cert)
}

func (r *caHttpRoutes) UpdateCertificateStatus(ctx *gin.Context) {
	type uriParams struct {
		SerialNumber string `uri:"sn" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.UpdateCertificateStatusBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	cert, err := r.svc.UpdateCertificateStatus(ctx, services.UpdateCertificateStatusInput{
		SerialNumber:     params.SerialNumber,
		NewStatus:        requestBody.NewStatus,
		RevocationReason: requestBody.RevocationReason,
	})
	if err != nil {
		switch err {
		case errs.ErrCertificateNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCertificateStatusTransitionNotAllowed:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCertificateAlreadyRevoked:
			ctx.JSON(409, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, cert)
}

func (r *caHttpRoutes) UpdateCertificateMetadata(ctx *gin.Context) {
	type uriParams struct {
		SerialNumber string `uri:"sn" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.UpdateMetadataBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	cert, err := r.svc.UpdateCertificateMetadata(ctx, services.UpdateCertificateMetadataInput{
		SerialNumber: params.SerialNumber,
		Metadata:     requestBody.Metadata,
	})
	if err != nil {
		switch err {
		case errs.ErrCertificateNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, cert)
}

func (r *caHttpRoutes) CreateIssuanceProfile(ctx *gin.Context) {
	var requestBody resources.CreateIssuanceProfileBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	profile, err := r.svc.CreateIssuanceProfile(ctx, services.CreateIssuanceProfileInput{
		Profile: requestBody.Profile,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(201, profile)
}

func (r *caHttpRoutes) GetIssuanceProfiles(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.IssuanceProfileFiltrableFields)

	profiles := []models.IssuanceProfile{}

	nextBookmark, err := r.svc.GetIssuanceProfiles(ctx, services.GetIssuanceProfilesInput{
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(profile models.IssuanceProfile) {
			profiles = append(profiles, profile)
		},
	})
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.IssuanceProfile]{
		NextBookmark: nextBookmark,
		List:         profiles,
	})
}

func (r *caHttpRoutes) GetIssuanceProfileByID(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	profile, err := r.svc.GetIssuanceProfileByID(ctx, services.GetIssuanceProfileByIDInput{
		ProfileID: params.ID,
	})
	if err != nil {
		switch err {
		case errs.ErrIssuanceProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, profile)
}

func (r *caHttpRoutes) UpdateIssuanceProfile(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody resources.CreateIssuanceProfileBody
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	requestBody.Profile.ID = params.ID

	profile, err := r.svc.UpdateIssuanceProfile(ctx, services.UpdateIssuanceProfileInput{
		Profile: requestBody.Profile,
	})
	if err != nil {
		switch err {
		case errs.ErrIssuanceProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrIssuanceProfileInUse:
			ctx.JSON(409, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, profile)
}

func (r *caHttpRoutes) DeleteIssuanceProfile(ctx *gin.Context) {
	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	err := r.svc.DeleteIssuanceProfile(ctx, services.DeleteIssuanceProfileInput{
		ProfileID: params.ID,
	})
	if err != nil {
		switch err {
		case errs.ErrIssuanceProfileNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrIssuanceProfileInUse:
			ctx.JSON(409, gin.H{"err": err.Error()})
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, gin.H{})
}
