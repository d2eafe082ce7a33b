package models

import (
	"fmt"

	"golang.org/x/crypto/ocsp"
)

// RevocationReason is an RFC 5280 CRLReason code.
type RevocationReason int

var revocationReasonMap = map[int]string{
	ocsp.Unspecified:          "Unspecified",
	ocsp.KeyCompromise:        "KeyCompromise",
	ocsp.CACompromise:         "CACompromise",
	ocsp.AffiliationChanged:   "AffiliationChanged",
	ocsp.Superseded:           "Superseded",
	ocsp.CessationOfOperation: "CessationOfOperation",
	ocsp.CertificateHold:      "CertificateHold",
	ocsp.RemoveFromCRL:        "RemoveFromCRL",
	ocsp.PrivilegeWithdrawn:   "PrivilegeWithdrawn",
	ocsp.AACompromise:         "AACompromise",
}

func (p RevocationReason) String() string {
	if name, ok := revocationReasonMap[int(p)]; ok {
		return name
	}

	return fmt.Sprintf("Unknown(%d)", int(p))
}

func (p RevocationReason) MarshalText() ([]byte, error) {
	if name, ok := revocationReasonMap[int(p)]; ok {
		return []byte(name), nil
	}

	return nil, fmt.Errorf("unsupported revocation reason %d", int(p))
}

func (p *RevocationReason) UnmarshalText(text []byte) error {
	for code, name := range revocationReasonMap {
		if name == string(text) {
			*p = RevocationReason(code)
			return nil
		}
	}

	return fmt.Errorf("unsupported revocation reason %q", string(text))
}
