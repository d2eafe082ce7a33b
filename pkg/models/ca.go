package models

import (
	"time"
)

type CertificateType string

const (
	CertificateTypeManaged  CertificateType = "MANAGED"
	CertificateTypeImported CertificateType = "IMPORTED"
	CertificateTypeExternal CertificateType = "EXTERNAL"
)

type ValidityType string

var (
	Duration ValidityType = "Duration"
	Time     ValidityType = "Time"
)

type Validity struct {
	Type     ValidityType `json:"type"`
	Duration TimeDuration `json:"duration,omitempty" gorm:"serializer:text"`
	Time     time.Time    `json:"time"`
}

type CertificateStatus string

const (
	StatusActive   CertificateStatus = "ACTIVE"
	StatusExpired  CertificateStatus = "EXPIRED"
	StatusRevoked  CertificateStatus = "REVOKED"
	StatusInactive CertificateStatus = "INACTIVE"
)

type KeyType string

const (
	KeyTypeRSA     KeyType = "RSA"
	KeyTypeECDSA   KeyType = "ECDSA"
	KeyTypeEd25519 KeyType = "ED25519"
)

type KeyStrengthMetadata struct {
	Type KeyType `json:"type"`
	Bits int     `json:"bits"`
}

type IssuerCAMetadata struct {
	SN    string `json:"serial_number" gorm:"column:serial_number"`
	ID    string `json:"id"`
	Level int    `json:"level"`
}

type Certificate struct {
	SerialNumber        string                 `json:"serial_number" gorm:"primaryKey"`
	KeyID               string                 `json:"key_id"`
	Metadata            map[string]interface{} `json:"metadata" gorm:"serializer:json"`
	Status              CertificateStatus      `json:"status"`
	Certificate         *X509Certificate       `json:"certificate"`
	KeyMetadata         KeyStrengthMetadata    `json:"key_metadata" gorm:"embedded;embeddedPrefix:key_meta_"`
	Subject             Subject                `json:"subject" gorm:"embedded;embeddedPrefix:subject_"`
	ValidFrom           time.Time              `json:"valid_from"`
	ValidTo             time.Time              `json:"valid_to"`
	IssuerCAMetadata    IssuerCAMetadata       `json:"issuer_metadata" gorm:"embedded;embeddedPrefix:issuer_meta_"`
	RevocationTimestamp time.Time              `json:"revocation_timestamp"`
	RevocationReason    RevocationReason       `json:"revocation_reason" gorm:"serializer:text"`
	Type                CertificateType        `json:"type"`
	EngineID            string                 `json:"engine_id"`
	ProfileID           string                 `json:"profile_id"`
	IsCA                bool                   `json:"is_ca"`
}

func (Certificate) TableName() string {
	return "certificates"
}

type CACertificate struct {
	ID                      string                 `json:"id"`
	Certificate             Certificate            `json:"certificate" gorm:"foreignKey:CertificateSerialNumber;references:SerialNumber"`
	CertificateSerialNumber string                 `json:"serial_number" gorm:"column:serial_number"`
	Metadata                map[string]interface{} `json:"metadata" gorm:"serializer:json"`
	Validity                Validity               `json:"validity" gorm:"embedded;embeddedPrefix:validity_"`
	CreationTS              time.Time              `json:"creation_ts"`
	Level                   int                    `json:"level"`
	// NextSequentialSerial backs serial allocation for CAs configured with
	// the sequential policy. Unused under the random policy.
	NextSequentialSerial int64    `json:"-" gorm:"column:next_sequential_serial"`
	OCSPURLs             []string `json:"ocsp_urls" gorm:"serializer:json"`
	CRLURLs              []string `json:"crl_urls" gorm:"serializer:json"`
}

func (CACertificate) TableName() string {
	return "ca_certificates"
}

type CAStats struct {
	TotalCAs          int                       `json:"total_cas"`
	TotalCertificates int                       `json:"total_certificates"`
	CertificateStatus map[CertificateStatus]int `json:"status_distribution"`
}
