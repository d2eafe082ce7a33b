package models

import (
	"time"
)

type VARole struct {
	CASubjectKeyID string        `gorm:"primaryKey;column:ca_ski"`
	CAID           string        `gorm:"column:caid"`
	CRLOptions     VACRLRole     `gorm:"embedded;embeddedPrefix:crl_"`
	LatestCRL      LatestCRLMeta `gorm:"embedded;embeddedPrefix:latest_crl_"`
}

func (VARole) TableName() string {
	return "va_roles"
}

type VACRLRole struct {
	RefreshInterval    TimeDuration `gorm:"serializer:text"`
	Validity           TimeDuration `gorm:"serializer:text"`
	KeyIDSigner        string
	RegenerateOnRevoke bool
}

type LatestCRLMeta struct {
	Version    BigInt `gorm:"type:NUMERIC;serializer:text"`
	ValidFrom  time.Time
	ValidUntil time.Time
}
