package models

import (
	"time"
)

type ACMEAccountStatus string

const (
	AccountStatusValid       ACMEAccountStatus = "valid"
	AccountStatusDeactivated ACMEAccountStatus = "deactivated"
	AccountStatusRevoked     ACMEAccountStatus = "revoked"
)

type ACMEOrderStatus string

const (
	OrderStatusPending    ACMEOrderStatus = "pending"
	OrderStatusReady      ACMEOrderStatus = "ready"
	OrderStatusProcessing ACMEOrderStatus = "processing"
	OrderStatusValid      ACMEOrderStatus = "valid"
	OrderStatusInvalid    ACMEOrderStatus = "invalid"
)

type ACMEAuthorizationStatus string

const (
	AuthorizationStatusPending     ACMEAuthorizationStatus = "pending"
	AuthorizationStatusValid       ACMEAuthorizationStatus = "valid"
	AuthorizationStatusInvalid     ACMEAuthorizationStatus = "invalid"
	AuthorizationStatusDeactivated ACMEAuthorizationStatus = "deactivated"
	AuthorizationStatusExpired     ACMEAuthorizationStatus = "expired"
	AuthorizationStatusRevoked     ACMEAuthorizationStatus = "revoked"
)

type ACMEChallengeStatus string

const (
	ChallengeStatusPending    ACMEChallengeStatus = "pending"
	ChallengeStatusProcessing ACMEChallengeStatus = "processing"
	ChallengeStatusValid      ACMEChallengeStatus = "valid"
	ChallengeStatusInvalid    ACMEChallengeStatus = "invalid"
)

type ACMEChallengeType string

const (
	ChallengeTypeHTTP01    ACMEChallengeType = "http-01"
	ChallengeTypeDNS01     ACMEChallengeType = "dns-01"
	ChallengeTypeTLSALPN01 ACMEChallengeType = "tls-alpn-01"
)

type ACMEIdentifierType string

const (
	IdentifierTypeDNS ACMEIdentifierType = "dns"
	IdentifierTypeIP  ACMEIdentifierType = "ip"
)

type ACMEIdentifier struct {
	Type  ACMEIdentifierType `json:"type"`
	Value string             `json:"value"`
}

type ACMEAccount struct {
	ID            string                 `json:"id" gorm:"primaryKey"`
	Status        ACMEAccountStatus      `json:"status"`
	Contacts      []string               `json:"contact,omitempty" gorm:"serializer:json"`
	TermsAgreed   bool                   `json:"terms_of_service_agreed"`
	Key           string                 `json:"-" gorm:"column:jwk"`
	KeyThumbprint string                 `json:"-" gorm:"column:jwk_thumbprint;index"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" gorm:"serializer:json"`
	CreationTS    time.Time              `json:"created_at"`
}

func (ACMEAccount) TableName() string {
	return "acme_accounts"
}

type ACMEOrder struct {
	ID                      string           `json:"id" gorm:"primaryKey"`
	AccountID               string           `json:"account_id" gorm:"index"`
	Status                  ACMEOrderStatus  `json:"status"`
	Identifiers             []ACMEIdentifier `json:"identifiers" gorm:"serializer:json"`
	NotBefore               *time.Time       `json:"not_before,omitempty"`
	NotAfter                *time.Time       `json:"not_after,omitempty"`
	Expires                 time.Time        `json:"expires"`
	AuthorizationIDs        []string         `json:"authorization_ids" gorm:"serializer:json"`
	CertificateSerialNumber string           `json:"certificate_serial_number,omitempty"`
	CreationTS              time.Time        `json:"created_at"`
}

func (ACMEOrder) TableName() string {
	return "acme_orders"
}

type ACMEAuthorization struct {
	ID         string                  `json:"id" gorm:"primaryKey"`
	AccountID  string                  `json:"account_id" gorm:"index"`
	OrderID    string                  `json:"order_id" gorm:"index"`
	Identifier ACMEIdentifier          `json:"identifier" gorm:"embedded;embeddedPrefix:identifier_"`
	Status     ACMEAuthorizationStatus `json:"status"`
	Wildcard   bool                    `json:"wildcard"`
	Expires    time.Time               `json:"expires"`
}

func (ACMEAuthorization) TableName() string {
	return "acme_authorizations"
}

// ACMEProblemDetails is an RFC 7807 problem document carried on failed
// challenges and error responses.
type ACMEProblemDetails struct {
	Type        string               `json:"type"`
	Detail      string               `json:"detail,omitempty"`
	Status      int                  `json:"status,omitempty"`
	Subproblems []ACMEProblemDetails `json:"subproblems,omitempty"`
}

type ACMEChallenge struct {
	ID              string              `json:"id" gorm:"primaryKey"`
	AuthorizationID string              `json:"authorization_id" gorm:"index"`
	Type            ACMEChallengeType   `json:"type"`
	Token           string              `json:"token"`
	Status          ACMEChallengeStatus `json:"status"`
	ValidatedAt     *time.Time          `json:"validated,omitempty"`
	Error           *ACMEProblemDetails `json:"error,omitempty" gorm:"serializer:json"`
}

func (ACMEChallenge) TableName() string {
	return "acme_challenges"
}

// ACMENonce is a single use anti replay token. Consumption deletes the row,
// so a value can never verify twice.
type ACMENonce struct {
	Value      string    `json:"value" gorm:"primaryKey"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreationTS time.Time `json:"created_at"`
}

func (ACMENonce) TableName() string {
	return "acme_nonces"
}
