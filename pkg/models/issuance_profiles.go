package models

// ExtensionPolicy controls how a profile treats one extension class of an
// incoming request.
//
//   - Fixed: the profile value is stamped on every certificate and any
//     requested value is discarded.
//   - Default: the requested value is honored when present, otherwise the
//     profile value applies.
//   - Forbidden: a request carrying the extension is rejected.
type ExtensionPolicy string

const (
	ExtensionPolicyFixed     ExtensionPolicy = "FIXED"
	ExtensionPolicyDefault   ExtensionPolicy = "DEFAULT"
	ExtensionPolicyForbidden ExtensionPolicy = "FORBIDDEN"
)

type KeyUsagePolicy struct {
	Policy   ExtensionPolicy `json:"policy"`
	KeyUsage X509KeyUsage    `json:"key_usage"`
}

type ExtKeyUsagePolicy struct {
	Policy            ExtensionPolicy   `json:"policy"`
	ExtendedKeyUsages []X509ExtKeyUsage `json:"extended_key_usages" gorm:"serializer:json"`
}

type SubjectAltNamePolicy struct {
	Policy         ExtensionPolicy `json:"policy"`
	AllowWildcards bool            `json:"allow_wildcards"`
	// RequireSAN rejects issuance of authentication certificates, those
	// carrying the server or client auth extended key usage, without any
	// subject alternative name.
	RequireSAN        bool     `json:"require_san"`
	PermittedDomains  []string `json:"permitted_domains,omitempty" gorm:"serializer:json"`
	PermittedIPRanges []string `json:"permitted_ip_ranges,omitempty" gorm:"serializer:json"`
}

type CryptoEnforcement struct {
	Enabled          bool `json:"enabled"`
	AllowRSAKeys     bool `json:"allow_rsa_keys"`
	MinimumRSABits   int  `json:"minimum_rsa_bits"`
	AllowECDSAKeys   bool `json:"allow_ecdsa_keys"`
	MinimumECDSABits int  `json:"minimum_ecdsa_bits"`
	AllowEd25519Keys bool `json:"allow_ed25519_keys"`
}

type IssuanceProfile struct {
	ID          string `json:"id" gorm:"primaryKey"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Validity Validity `json:"validity" gorm:"embedded;embeddedPrefix:validity_"`
	SignAsCA bool     `json:"sign_as_ca"`

	KeyUsage          KeyUsagePolicy       `json:"key_usage" gorm:"embedded;embeddedPrefix:key_usage_"`
	ExtendedKeyUsage  ExtKeyUsagePolicy    `json:"extended_key_usage" gorm:"embedded;embeddedPrefix:ext_key_usage_"`
	SubjectAltName    SubjectAltNamePolicy `json:"subject_alt_name" gorm:"embedded;embeddedPrefix:san_"`
	HonorSubject      bool                 `json:"honor_subject"`
	Subject           Subject              `json:"subject" gorm:"embedded;embeddedPrefix:subject_"`
	HonorExtensions   bool                 `json:"honor_extensions"`
	CryptoEnforcement CryptoEnforcement    `json:"crypto_enforcement" gorm:"embedded;embeddedPrefix:crypto_enforcement_"`
}

func (IssuanceProfile) TableName() string {
	return "issuance_profiles"
}
