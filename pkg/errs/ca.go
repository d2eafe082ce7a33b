package errs

import "errors"

var (
	ErrCryptoEngineNotFound error = errors.New("crypto engine not found")

	ErrCANotFound             error = errors.New("CA not found")
	ErrCAAlreadyExists        error = errors.New("CA already exists")
	ErrCAStatus               error = errors.New("CA Status inconsistent")
	ErrCAAlreadyRevoked       error = errors.New("CA already revoked")
	ErrCAExpired              error = errors.New("CA is expired")
	ErrCAIncompatibleValidity error = errors.New("incompatible expiration time ref")
	ErrCAIssuanceExpiration   error = errors.New("issuance expiration greater than CA expiration")
	ErrCAValidCertAndPrivKey  error = errors.New("CA and the provided key don't match")

	ErrValidateBadRequest error = errors.New("struct validation error")

	ErrCertificateNotFound                   error = errors.New("certificate not found")
	ErrCertificateAlreadyRevoked             error = errors.New("certificate already revoked")
	ErrCertificateStatusTransitionNotAllowed error = errors.New("new status transition not allowed for certificate")

	ErrIssuanceProfileNotFound  error = errors.New("issuance profile not found")
	ErrIssuanceProfileViolation error = errors.New("request not allowed by issuance profile")
	ErrIssuanceProfileInUse     error = errors.New("issuance profile referenced by issued certificates")

	ErrValidityWindowInvalid error = errors.New("requested validity window is invalid")

	ErrUnsupportedKeyType error = errors.New("unsupported key type")
	ErrKeyStrengthTooWeak error = errors.New("key strength below profile minimum")

	ErrSerialExhausted error = errors.New("serial number space exhausted")

	// KMS
	ErrKeyNotFound error = errors.New("key not found")

	ErrVARoleNotFound error = errors.New("VA role not found")
	ErrCRLNotFound    error = errors.New("CRL not found")
)
