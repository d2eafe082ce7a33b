package controllers

import (
	"encoding/base64"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
	"golang.org/x/crypto/ocsp"
)

type vaHttpRoutes struct {
	svc services.VAService
}

func NewVAHttpRoutes(svc services.VAService) *vaHttpRoutes {
	return &vaHttpRoutes{
		svc: svc,
	}
}

// Verify answers an OCSP request. GET carries the DER request base64
// encoded in the path, POST carries it raw in the body. Requests the
// responder cannot parse get the RFC 6960 malformedRequest response,
// not an HTTP error document.
func (r *vaHttpRoutes) Verify(ctx *gin.Context) {
	var requestDER []byte

	if ctx.Request.Method == "GET" {
		type uriParams struct {
			OCSPRequest string `uri:"ocsp_request" binding:"required"`
		}

		var params uriParams
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.Data(200, "application/ocsp-response", ocsp.MalformedRequestErrorResponse)
			return
		}

		decoded, err := base64.URLEncoding.DecodeString(params.OCSPRequest)
		if err != nil {
			// Some clients percent escape standard base64 instead.
			decoded, err = base64.StdEncoding.DecodeString(params.OCSPRequest)
			if err != nil {
				ctx.Data(200, "application/ocsp-response", ocsp.MalformedRequestErrorResponse)
				return
			}
		}
		requestDER = decoded
	} else {
		body, err := io.ReadAll(ctx.Request.Body)
		if err != nil {
			ctx.Data(200, "application/ocsp-response", ocsp.MalformedRequestErrorResponse)
			return
		}
		requestDER = body
	}

	ocspReq, err := ocsp.ParseRequest(requestDER)
	if err != nil {
		ctx.Data(200, "application/ocsp-response", ocsp.MalformedRequestErrorResponse)
		return
	}

	response, err := r.svc.GetOCSPResponse(ctx, services.GetOCSPResponseInput{
		Request: ocspReq,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrCertificateNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.Data(200, "application/ocsp-response", response)
}

// CRL serves the latest published CRL of a CA, selected by subject key id.
func (r *vaHttpRoutes) CRL(ctx *gin.Context) {
	type uriParams struct {
		CASubjectKeyID string `uri:"ca-ski" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	crl, err := r.svc.GetCRLResponse(ctx, services.GetCRLResponseInput{
		CASubjectKeyID: params.CASubjectKeyID,
		CRLVersion:     ctx.Query("version"),
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrVARoleNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrCRLNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		case errs.ErrCANotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.Data(200, "application/pkix-crl", crl)
}

func (r *vaHttpRoutes) GetRoles(ctx *gin.Context) {
	queryParams := FilterQuery(ctx.Request, resources.VARoleFiltrableFields)

	roles := []models.VARole{}

	nextBookmark, err := r.svc.GetVARoles(ctx, services.GetVARolesInput{
		QueryParameters: queryParams,
		ExhaustiveRun:   false,
		ApplyFunc: func(role models.VARole) {
			roles = append(roles, role)
		},
	})
	if err != nil {
		switch err {
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, resources.IterableList[models.VARole]{
		NextBookmark: nextBookmark,
		List:         roles,
	})
}

func (r *vaHttpRoutes) GetRoleByID(ctx *gin.Context) {
	type uriParams struct {
		CASubjectKeyID string `uri:"ca-ski" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	role, err := r.svc.GetVARoleByID(ctx, services.GetVARoleInput{
		CASubjectKeyID: params.CASubjectKeyID,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrVARoleNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, role)
}

func (r *vaHttpRoutes) UpdateRole(ctx *gin.Context) {
	type uriParams struct {
		CASubjectKeyID string `uri:"ca-ski" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	var requestBody models.VACRLRole
	if err := ctx.BindJSON(&requestBody); err != nil {
		ctx.JSON(400, gin.H{"err": err.Error()})
		return
	}

	role, err := r.svc.UpdateVARole(ctx, services.UpdateVARoleInput{
		CASubjectKeyID: params.CASubjectKeyID,
		CRLRole:        requestBody,
	})
	if err != nil {
		switch err {
		case errs.ErrValidateBadRequest:
			ctx.JSON(400, gin.H{"err": err.Error()})
		case errs.ErrVARoleNotFound:
			ctx.JSON(404, gin.H{"err": err.Error()})
		default:
			ctx.JSON(500, gin.H{"err": err.Error()})
		}
		return
	}

	ctx.JSON(200, role)
}
