package errs

import (
	"fmt"
	"net/http"
)

// ACMEProblemType enumerates the urn:ietf:params:acme:error namespace
// defined by RFC 8555 section 6.7.
type ACMEProblemType string

const (
	ACMEAccountDoesNotExist     ACMEProblemType = "accountDoesNotExist"
	ACMEAlreadyRevoked          ACMEProblemType = "alreadyRevoked"
	ACMEBadCSR                  ACMEProblemType = "badCSR"
	ACMEBadNonce                ACMEProblemType = "badNonce"
	ACMEBadPublicKey            ACMEProblemType = "badPublicKey"
	ACMEBadRevocationReason     ACMEProblemType = "badRevocationReason"
	ACMEBadSignatureAlgorithm   ACMEProblemType = "badSignatureAlgorithm"
	ACMEConnection              ACMEProblemType = "connection"
	ACMEDNS                     ACMEProblemType = "dns"
	ACMEIncorrectResponse       ACMEProblemType = "incorrectResponse"
	ACMEInvalidContact          ACMEProblemType = "invalidContact"
	ACMEMalformed               ACMEProblemType = "malformed"
	ACMEOrderNotReady           ACMEProblemType = "orderNotReady"
	ACMERateLimited             ACMEProblemType = "rateLimited"
	ACMERejectedIdentifier      ACMEProblemType = "rejectedIdentifier"
	ACMEServerInternal          ACMEProblemType = "serverInternal"
	ACMEUnauthorized            ACMEProblemType = "unauthorized"
	ACMEUnsupportedContact      ACMEProblemType = "unsupportedContact"
	ACMEUnsupportedIdentifier   ACMEProblemType = "unsupportedIdentifier"
	ACMEExternalAccountRequired ACMEProblemType = "externalAccountRequired"
)

const acmeErrorNamespace = "urn:ietf:params:acme:error:"

// ACMEProblem is an error that maps directly onto an RFC 7807 problem
// document response.
type ACMEProblem struct {
	Type       ACMEProblemType
	Detail     string
	HTTPStatus int
}

func (p *ACMEProblem) Error() string {
	return fmt.Sprintf("%s%s: %s", acmeErrorNamespace, p.Type, p.Detail)
}

// URN returns the fully qualified problem type identifier.
func (p *ACMEProblem) URN() string {
	return acmeErrorNamespace + string(p.Type)
}

func NewACMEProblem(typ ACMEProblemType, status int, format string, args ...any) *ACMEProblem {
	return &ACMEProblem{
		Type:       typ,
		Detail:     fmt.Sprintf(format, args...),
		HTTPStatus: status,
	}
}

func ACMEMalformedProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEMalformed, http.StatusBadRequest, format, args...)
}

func ACMEBadNonceProblem() *ACMEProblem {
	return NewACMEProblem(ACMEBadNonce, http.StatusBadRequest, "invalid or stale nonce")
}

func ACMEUnauthorizedProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEUnauthorized, http.StatusUnauthorized, format, args...)
}

func ACMEAccountDoesNotExistProblem() *ACMEProblem {
	return NewACMEProblem(ACMEAccountDoesNotExist, http.StatusBadRequest, "account does not exist")
}

func ACMEBadCSRProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEBadCSR, http.StatusBadRequest, format, args...)
}

func ACMEOrderNotReadyProblem() *ACMEProblem {
	return NewACMEProblem(ACMEOrderNotReady, http.StatusForbidden, "order is not ready for finalization")
}

func ACMEServerInternalProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEServerInternal, http.StatusInternalServerError, format, args...)
}

func ACMEUnsupportedIdentifierProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEUnsupportedIdentifier, http.StatusBadRequest, format, args...)
}

func ACMERejectedIdentifierProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMERejectedIdentifier, http.StatusBadRequest, format, args...)
}

func ACMEInvalidContactProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEInvalidContact, http.StatusBadRequest, format, args...)
}

func ACMEUnsupportedContactProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEUnsupportedContact, http.StatusBadRequest, format, args...)
}

func ACMEBadSignatureAlgorithmProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEBadSignatureAlgorithm, http.StatusBadRequest, format, args...)
}

func ACMEBadPublicKeyProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEBadPublicKey, http.StatusBadRequest, format, args...)
}

func ACMEIncorrectResponseProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEIncorrectResponse, http.StatusForbidden, format, args...)
}

func ACMEConnectionProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEConnection, http.StatusBadRequest, format, args...)
}

func ACMEDNSProblem(format string, args ...any) *ACMEProblem {
	return NewACMEProblem(ACMEDNS, http.StatusBadRequest, format, args...)
}
