package resources

import (
	"github.com/ocelotpki/ocelot/pkg/models"
)

var CAFiltrableFields = map[string]FilterFieldType{
	"id":            StringFilterFieldType,
	"level":         NumberFilterFieldType,
	"serial_number": StringFilterFieldType,
}

var CertificateFiltrableFields = map[string]FilterFieldType{
	"serial_number":       StringFilterFieldType,
	"status":              EnumFilterFieldType,
	"subject_common_name": StringFilterFieldType,
	"issuer_meta_id":      StringFilterFieldType,
	"engine_id":           StringFilterFieldType,
	"key_id":              StringFilterFieldType,
	"profile_id":          StringFilterFieldType,
	"valid_from":          DateFilterFieldType,
	"valid_to":            DateFilterFieldType,
	"type":                EnumFilterFieldType,
	"revocation_reason":   EnumFilterFieldType,
}

var IssuanceProfileFiltrableFields = map[string]FilterFieldType{
	"id":   StringFilterFieldType,
	"name": StringFilterFieldType,
}

var VARoleFiltrableFields = map[string]FilterFieldType{
	"ca_ski": StringFilterFieldType,
	"caid":   StringFilterFieldType,
}

type CreateCABody struct {
	ID           string                     `json:"id"`
	ParentID     string                     `json:"parent_id"`
	Subject      models.Subject             `json:"subject"`
	KeyMetadata  models.KeyStrengthMetadata `json:"key_metadata"`
	CAExpiration models.Validity            `json:"ca_expiration"`
	EngineID     string                     `json:"engine_id"`
	Metadata     map[string]any             `json:"metadata"`
	OCSPURLs     []string                   `json:"ocsp_urls"`
	CRLURLs      []string                   `json:"crl_urls"`
}

type SignCertificateBody struct {
	CertRequest *models.X509CertificateRequest `json:"csr"`
	ProfileID   string                         `json:"profile_id"`
	Validity    *models.Validity               `json:"validity,omitempty"`
}

type UpdateCertificateStatusBody struct {
	NewStatus        models.CertificateStatus `json:"status"`
	RevocationReason models.RevocationReason  `json:"revocation_reason"`
}

type UpdateCAStatusBody struct {
	Status           models.CertificateStatus `json:"status"`
	RevocationReason models.RevocationReason  `json:"revocation_reason"`
}

type ImportCertificateBody struct {
	Certificate *models.X509Certificate `json:"certificate"`
	Metadata    map[string]any          `json:"metadata"`
}

type UpdateMetadataBody struct {
	Metadata map[string]any `json:"metadata"`
}

type CreateIssuanceProfileBody struct {
	Profile models.IssuanceProfile `json:"profile"`
}
