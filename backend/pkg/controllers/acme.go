package controllers

import (
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
)

type acmeHttpRoutes struct {
	svc     services.ACMEService
	baseURL string
	meta    resources.ACMEDirectoryMeta
}

// NewACMEHttpRoutes builds the RFC 8555 HTTP surface. baseURL is the
// external URL prefix clients reach the server on. It is baked into the
// directory document and into every URL the server hands out, so it must
// match the URLs requests are signed over. meta is published verbatim in
// the directory document.
func NewACMEHttpRoutes(svc services.ACMEService, baseURL string, meta resources.ACMEDirectoryMeta) *acmeHttpRoutes {
	return &acmeHttpRoutes{
		svc:     svc,
		baseURL: baseURL,
		meta:    meta,
	}
}

func (r *acmeHttpRoutes) url(format string, args ...any) string {
	return r.baseURL + "/acme" + fmt.Sprintf(format, args...)
}

// replyNonce stamps a fresh Replay-Nonce and the directory index link on a
// response. Every ACME response carries both.
func (r *acmeHttpRoutes) replyNonce(ctx *gin.Context) {
	nonce, err := r.svc.NewNonce(ctx)
	if err == nil {
		ctx.Header("Replay-Nonce", nonce)
	}
	ctx.Header("Link", fmt.Sprintf("<%s>;rel=\"index\"", r.url("/directory")))
	ctx.Header("Cache-Control", "no-store")
}

// problem renders an error as an RFC 7807 problem document. Errors that are
// not ACME problems surface as serverInternal.
func (r *acmeHttpRoutes) problem(ctx *gin.Context, err error) {
	prob, ok := err.(*errs.ACMEProblem)
	if !ok {
		prob = errs.ACMEServerInternalProblem("%s", err.Error())
	}

	doc := models.ACMEProblemDetails{
		Type:   prob.URN(),
		Detail: prob.Detail,
		Status: prob.HTTPStatus,
	}

	ctx.Header("Content-Type", "application/problem+json")
	ctx.JSON(prob.HTTPStatus, doc)
}

func (r *acmeHttpRoutes) verify(ctx *gin.Context, url string, allowJWK, allowKID bool) (*services.VerifiedRequest, bool) {
	body, err := io.ReadAll(ctx.Request.Body)
	if err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("unreadable request body"))
		return nil, false
	}

	verified, err := r.svc.VerifyRequest(ctx, services.VerifyRequestInput{
		URL:      url,
		Body:     body,
		AllowJWK: allowJWK,
		AllowKID: allowKID,
	})
	if err != nil {
		r.problem(ctx, err)
		return nil, false
	}

	return verified, true
}

func (r *acmeHttpRoutes) Directory(ctx *gin.Context) {
	dir := gin.H{
		"newNonce":   r.url("/new-nonce"),
		"newAccount": r.url("/new-account"),
		"newOrder":   r.url("/new-order"),
		"revokeCert": r.url("/revoke-cert"),
		"keyChange":  r.url("/key-change"),
	}

	// RFC 8555 section 7.1.1 asks servers to vary the directory so
	// clients cannot hardcode its layout.
	token := make([]byte, 16)
	if _, err := rand.Read(token); err == nil {
		dir[base64.RawURLEncoding.EncodeToString(token)] = "https://community.letsencrypt.org/t/adding-random-entries-to-the-directory/33417"
	}

	if r.meta.TermsOfService != "" || r.meta.Website != "" || len(r.meta.CAAIdentities) > 0 {
		dir["meta"] = r.meta
	}

	ctx.JSON(200, dir)
}

func (r *acmeHttpRoutes) NewNonce(ctx *gin.Context) {
	r.replyNonce(ctx)

	if ctx.Request.Method == http.MethodGet {
		ctx.Status(http.StatusNoContent)
		return
	}

	ctx.Status(http.StatusOK)
}

func (r *acmeHttpRoutes) NewAccount(ctx *gin.Context) {
	r.replyNonce(ctx)

	verified, ok := r.verify(ctx, r.url("/new-account"), true, false)
	if !ok {
		return
	}

	var requestBody resources.ACMENewAccountBody
	if len(verified.Payload) > 0 {
		if err := json.Unmarshal(verified.Payload, &requestBody); err != nil {
			r.problem(ctx, errs.ACMEMalformedProblem("malformed new-account payload"))
			return
		}
	}

	account, created, err := r.svc.CreateAccount(ctx, services.CreateAccountInput{
		JWK:                verified.JWK,
		KeyThumbprint:      verified.KeyThumbprint,
		Contacts:           requestBody.Contact,
		TermsAgreed:        requestBody.TermsOfServiceAgreed,
		OnlyReturnExisting: requestBody.OnlyReturnExisting,
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.Header("Location", services.ACMEAccountURL(r.baseURL, account.ID))

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ctx.JSON(status, r.accountResponse(account))
}

func (r *acmeHttpRoutes) Account(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing account id"))
		return
	}

	verified, ok := r.verify(ctx, services.ACMEAccountURL(r.baseURL, params.ID), false, true)
	if !ok {
		return
	}

	if verified.Account == nil || verified.Account.ID != params.ID {
		r.problem(ctx, errs.ACMEUnauthorizedProblem("account key does not own this resource"))
		return
	}

	if verified.PostAsGet {
		ctx.JSON(200, r.accountResponse(verified.Account))
		return
	}

	var requestBody resources.ACMEUpdateAccountBody
	if err := json.Unmarshal(verified.Payload, &requestBody); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("malformed account update payload"))
		return
	}

	account, err := r.svc.UpdateAccount(ctx, services.UpdateAccountInput{
		AccountID: params.ID,
		Contacts:  requestBody.Contact,
		Status:    models.ACMEAccountStatus(requestBody.Status),
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.JSON(200, r.accountResponse(account))
}

// AccountOrders lists the order URLs of an account, the resource the
// account response advertises under "orders".
func (r *acmeHttpRoutes) AccountOrders(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing account id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/acct/%s/orders", params.ID), false, true)
	if !ok {
		return
	}

	if verified.Account == nil || verified.Account.ID != params.ID {
		r.problem(ctx, errs.ACMEUnauthorizedProblem("account key does not own this resource"))
		return
	}

	orders, err := r.svc.ListOrdersByAccount(ctx, services.ListOrdersByAccountInput{AccountID: params.ID})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	urls := make([]string, 0, len(orders))
	for _, order := range orders {
		urls = append(urls, r.url("/order/%s", order.ID))
	}

	ctx.JSON(200, resources.ACMEOrdersListResponse{Orders: urls})
}

func (r *acmeHttpRoutes) NewOrder(ctx *gin.Context) {
	r.replyNonce(ctx)

	verified, ok := r.verify(ctx, r.url("/new-order"), false, true)
	if !ok {
		return
	}

	var requestBody resources.ACMENewOrderBody
	if err := json.Unmarshal(verified.Payload, &requestBody); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("malformed new-order payload"))
		return
	}

	input := services.CreateOrderInput{
		AccountID:   verified.Account.ID,
		Identifiers: requestBody.Identifiers,
	}

	if requestBody.NotBefore != "" {
		nbf, err := time.Parse(time.RFC3339, requestBody.NotBefore)
		if err != nil {
			r.problem(ctx, errs.ACMEMalformedProblem("notBefore is not RFC 3339"))
			return
		}
		input.NotBefore = &nbf
	}
	if requestBody.NotAfter != "" {
		naf, err := time.Parse(time.RFC3339, requestBody.NotAfter)
		if err != nil {
			r.problem(ctx, errs.ACMEMalformedProblem("notAfter is not RFC 3339"))
			return
		}
		input.NotAfter = &naf
	}

	order, err := r.svc.CreateOrder(ctx, input)
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.Header("Location", r.url("/order/%s", order.ID))
	ctx.JSON(http.StatusCreated, r.orderResponse(order))
}

func (r *acmeHttpRoutes) Order(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing order id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/order/%s", params.ID), false, true)
	if !ok {
		return
	}

	order, err := r.svc.GetOrderByID(ctx, services.GetOrderByIDInput{
		AccountID: verified.Account.ID,
		OrderID:   params.ID,
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.Header("Location", r.url("/order/%s", order.ID))
	ctx.JSON(200, r.orderResponse(order))
}

func (r *acmeHttpRoutes) FinalizeOrder(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing order id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/order/%s/finalize", params.ID), false, true)
	if !ok {
		return
	}

	var requestBody resources.ACMEFinalizeBody
	if err := json.Unmarshal(verified.Payload, &requestBody); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("malformed finalize payload"))
		return
	}

	csrDER, err := base64.RawURLEncoding.DecodeString(requestBody.CSR)
	if err != nil {
		r.problem(ctx, errs.ACMEBadCSRProblem("csr is not base64url"))
		return
	}

	csr, err := x509.ParseCertificateRequest(csrDER)
	if err != nil {
		r.problem(ctx, errs.ACMEBadCSRProblem("csr is not valid DER"))
		return
	}

	order, err := r.svc.FinalizeOrder(ctx, services.FinalizeOrderInput{
		AccountID:   verified.Account.ID,
		OrderID:     params.ID,
		CertRequest: (*models.X509CertificateRequest)(csr),
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.Header("Location", r.url("/order/%s", order.ID))
	ctx.JSON(200, r.orderResponse(order))
}

func (r *acmeHttpRoutes) Authorization(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing authorization id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/authz/%s", params.ID), false, true)
	if !ok {
		return
	}

	if !verified.PostAsGet {
		var requestBody resources.ACMEUpdateAuthorizationBody
		if err := json.Unmarshal(verified.Payload, &requestBody); err != nil {
			r.problem(ctx, errs.ACMEMalformedProblem("malformed authorization update payload"))
			return
		}

		if requestBody.Status != string(models.AuthorizationStatusDeactivated) {
			r.problem(ctx, errs.ACMEMalformedProblem("only deactivation is allowed"))
			return
		}

		if _, err := r.svc.DeactivateAuthorization(ctx, services.DeactivateAuthorizationInput{
			AccountID:       verified.Account.ID,
			AuthorizationID: params.ID,
		}); err != nil {
			r.problem(ctx, err)
			return
		}
	}

	authz, challenges, err := r.svc.GetAuthorizationByID(ctx, services.GetAuthorizationByIDInput{
		AccountID:       verified.Account.ID,
		AuthorizationID: params.ID,
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.JSON(200, r.authorizationResponse(authz, challenges))
}

func (r *acmeHttpRoutes) Challenge(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing challenge id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/chall/%s", params.ID), false, true)
	if !ok {
		return
	}

	challenge, err := r.svc.TriggerChallenge(ctx, services.TriggerChallengeInput{
		AccountID:   verified.Account.ID,
		ChallengeID: params.ID,
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	ctx.Header("Link", fmt.Sprintf("<%s>;rel=\"up\"", r.url("/authz/%s", challenge.AuthorizationID)))
	ctx.JSON(200, r.challengeResponse(challenge))
}

func (r *acmeHttpRoutes) Certificate(ctx *gin.Context) {
	r.replyNonce(ctx)

	type uriParams struct {
		ID string `uri:"id" binding:"required"`
	}

	var params uriParams
	if err := ctx.ShouldBindUri(&params); err != nil {
		r.problem(ctx, errs.ACMEMalformedProblem("missing order id"))
		return
	}

	verified, ok := r.verify(ctx, r.url("/cert/%s", params.ID), false, true)
	if !ok {
		return
	}

	chain, err := r.svc.GetOrderCertificate(ctx, services.GetOrderCertificateInput{
		AccountID: verified.Account.ID,
		OrderID:   params.ID,
	})
	if err != nil {
		r.problem(ctx, err)
		return
	}

	pemChain := []byte{}
	for _, cert := range chain {
		pemChain = append(pemChain, pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: cert.Raw,
		})...)
	}

	ctx.Data(200, "application/pem-certificate-chain", pemChain)
}

func (r *acmeHttpRoutes) accountResponse(account *models.ACMEAccount) resources.ACMEAccountResponse {
	return resources.ACMEAccountResponse{
		Status:  account.Status,
		Contact: account.Contacts,
		Orders:  r.url("/acct/%s/orders", account.ID),
	}
}

func (r *acmeHttpRoutes) orderResponse(order *models.ACMEOrder) resources.ACMEOrderResponse {
	authzURLs := make([]string, 0, len(order.AuthorizationIDs))
	for _, authzID := range order.AuthorizationIDs {
		authzURLs = append(authzURLs, r.url("/authz/%s", authzID))
	}

	response := resources.ACMEOrderResponse{
		Status:         order.Status,
		Expires:        order.Expires,
		Identifiers:    order.Identifiers,
		NotBefore:      order.NotBefore,
		NotAfter:       order.NotAfter,
		Authorizations: authzURLs,
		Finalize:       r.url("/order/%s/finalize", order.ID),
	}

	if order.Status == models.OrderStatusValid {
		response.Certificate = r.url("/cert/%s", order.ID)
	}

	return response
}

func (r *acmeHttpRoutes) authorizationResponse(authz *models.ACMEAuthorization, challenges []models.ACMEChallenge) resources.ACMEAuthorizationResponse {
	challResponses := make([]resources.ACMEChallengeResponse, 0, len(challenges))
	for i := range challenges {
		challResponses = append(challResponses, r.challengeResponse(&challenges[i]))
	}

	return resources.ACMEAuthorizationResponse{
		Status:     authz.Status,
		Expires:    authz.Expires,
		Identifier: authz.Identifier,
		Challenges: challResponses,
		Wildcard:   authz.Wildcard,
	}
}

func (r *acmeHttpRoutes) challengeResponse(challenge *models.ACMEChallenge) resources.ACMEChallengeResponse {
	return resources.ACMEChallengeResponse{
		Type:      challenge.Type,
		URL:       r.url("/chall/%s", challenge.ID),
		Status:    challenge.Status,
		Token:     challenge.Token,
		Validated: challenge.ValidatedAt,
		Error:     challenge.Error,
	}
}
