package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
)

// ACMEAccountURL builds the public URL of an account. It doubles as the kid
// accounts sign follow up requests with.
func ACMEAccountURL(baseURL, accountID string) string {
	return fmt.Sprintf("%s/acme/acct/%s", strings.TrimSuffix(baseURL, "/"), accountID)
}

type ACMEService interface {
	// NewNonce mints a fresh replay nonce. Every ACME response carries one.
	NewNonce(ctx context.Context) (string, error)

	// VerifyRequest validates the outer JWS of an ACME request: signature,
	// protected header, anti replay nonce and URL binding. It resolves the
	// signing account when the header uses a kid.
	VerifyRequest(ctx context.Context, input VerifyRequestInput) (*VerifiedRequest, error)

	CreateAccount(ctx context.Context, input CreateAccountInput) (*models.ACMEAccount, bool, error)
	GetAccountByID(ctx context.Context, input GetAccountByIDInput) (*models.ACMEAccount, error)
	UpdateAccount(ctx context.Context, input UpdateAccountInput) (*models.ACMEAccount, error)

	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.ACMEOrder, error)
	GetOrderByID(ctx context.Context, input GetOrderByIDInput) (*models.ACMEOrder, error)
	ListOrdersByAccount(ctx context.Context, input ListOrdersByAccountInput) ([]models.ACMEOrder, error)

	GetAuthorizationByID(ctx context.Context, input GetAuthorizationByIDInput) (*models.ACMEAuthorization, []models.ACMEChallenge, error)
	DeactivateAuthorization(ctx context.Context, input DeactivateAuthorizationInput) (*models.ACMEAuthorization, error)

	// TriggerChallenge starts validation of a pending challenge and blocks
	// until the attempt settles the challenge one way or the other.
	TriggerChallenge(ctx context.Context, input TriggerChallengeInput) (*models.ACMEChallenge, error)

	FinalizeOrder(ctx context.Context, input FinalizeOrderInput) (*models.ACMEOrder, error)
	GetOrderCertificate(ctx context.Context, input GetOrderCertificateInput) ([]*models.X509Certificate, error)
}

type VerifyRequestInput struct {
	// URL is the full external URL the request was posted to.
	URL  string `validate:"required"`
	Body []byte `validate:"required"`
	// AllowJWK admits requests self signed by an embedded JWK. Only
	// new-account uses this mode.
	AllowJWK bool
	// AllowKID admits requests signed by a registered account key.
	AllowKID bool
}

type VerifiedRequest struct {
	// Payload is the decoded JWS payload. Empty for POST-as-GET.
	Payload []byte
	// Account is set when the request authenticated with a kid.
	Account *models.ACMEAccount
	// JWK is the serialized public key for jwk mode requests.
	JWK string
	// KeyThumbprint is the base64url SHA-256 JWK thumbprint of the signing
	// key.
	KeyThumbprint string
	// PostAsGet reports a zero length payload.
	PostAsGet bool
}

type CreateAccountInput struct {
	JWK           string `validate:"required"`
	KeyThumbprint string `validate:"required"`
	Contacts      []string
	TermsAgreed   bool
	// OnlyReturnExisting turns the call into a lookup that fails with
	// accountDoesNotExist when no account matches the key.
	OnlyReturnExisting bool
}

type GetAccountByIDInput struct {
	AccountID string `validate:"required"`
}

type UpdateAccountInput struct {
	AccountID string `validate:"required"`
	Contacts  []string
	Status    models.ACMEAccountStatus
}

type CreateOrderInput struct {
	AccountID   string                  `validate:"required"`
	Identifiers []models.ACMEIdentifier `validate:"required"`
	NotBefore   *time.Time
	NotAfter    *time.Time
}

type GetOrderByIDInput struct {
	AccountID string `validate:"required"`
	OrderID   string `validate:"required"`
}

type ListOrdersByAccountInput struct {
	AccountID string `validate:"required"`
}

type GetAuthorizationByIDInput struct {
	AccountID       string `validate:"required"`
	AuthorizationID string `validate:"required"`
}

type DeactivateAuthorizationInput struct {
	AccountID       string `validate:"required"`
	AuthorizationID string `validate:"required"`
}

type TriggerChallengeInput struct {
	AccountID   string `validate:"required"`
	ChallengeID string `validate:"required"`
}

type FinalizeOrderInput struct {
	AccountID   string                         `validate:"required"`
	OrderID     string                         `validate:"required"`
	CertRequest *models.X509CertificateRequest `validate:"required"`
}

type GetOrderCertificateInput struct {
	AccountID string `validate:"required"`
	OrderID   string `validate:"required"`
}
