package resources

import (
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
)

// ACMEDirectoryMeta is the optional meta object of the RFC 8555
// directory document. The directory itself is rendered as a map so a
// random entry can be mixed in.
type ACMEDirectoryMeta struct {
	TermsOfService string   `json:"termsOfService,omitempty"`
	Website        string   `json:"website,omitempty"`
	CAAIdentities  []string `json:"caaIdentities,omitempty"`
}

type ACMEAccountResponse struct {
	Status  models.ACMEAccountStatus `json:"status"`
	Contact []string                 `json:"contact,omitempty"`
	Orders  string                   `json:"orders"`
}

// ACMEOrdersListResponse is the RFC 8555 section 7.1.2.1 orders list.
type ACMEOrdersListResponse struct {
	Orders []string `json:"orders"`
}

type ACMEOrderResponse struct {
	Status         models.ACMEOrderStatus  `json:"status"`
	Expires        time.Time               `json:"expires"`
	Identifiers    []models.ACMEIdentifier `json:"identifiers"`
	NotBefore      *time.Time              `json:"notBefore,omitempty"`
	NotAfter       *time.Time              `json:"notAfter,omitempty"`
	Authorizations []string                `json:"authorizations"`
	Finalize       string                  `json:"finalize"`
	Certificate    string                  `json:"certificate,omitempty"`
}

type ACMEAuthorizationResponse struct {
	Status     models.ACMEAuthorizationStatus `json:"status"`
	Expires    time.Time                      `json:"expires"`
	Identifier models.ACMEIdentifier          `json:"identifier"`
	Challenges []ACMEChallengeResponse        `json:"challenges"`
	Wildcard   bool                           `json:"wildcard,omitempty"`
}

type ACMEChallengeResponse struct {
	Type      models.ACMEChallengeType   `json:"type"`
	URL       string                     `json:"url"`
	Status    models.ACMEChallengeStatus `json:"status"`
	Token     string                     `json:"token"`
	Validated *time.Time                 `json:"validated,omitempty"`
	Error     *models.ACMEProblemDetails `json:"error,omitempty"`
}

// ACMEJoseBody is the outer JWS envelope every signed ACME request uses.
type ACMEJoseBody struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

type ACMENewAccountBody struct {
	Contact              []string `json:"contact,omitempty"`
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed,omitempty"`
	OnlyReturnExisting   bool     `json:"onlyReturnExisting,omitempty"`
}

type ACMEUpdateAccountBody struct {
	Contact []string `json:"contact,omitempty"`
	Status  string   `json:"status,omitempty"`
}

type ACMENewOrderBody struct {
	Identifiers []models.ACMEIdentifier `json:"identifiers"`
	NotBefore   string                  `json:"notBefore,omitempty"`
	NotAfter    string                  `json:"notAfter,omitempty"`
}

type ACMEFinalizeBody struct {
	CSR string `json:"csr"`
}

type ACMEUpdateAuthorizationBody struct {
	Status string `json:"status,omitempty"`
}
