package models

import (
	"crypto/x509"
	"encoding/json"
	"fmt"
	"strings"
)

type X509KeyUsage x509.KeyUsage

var keyUsageNames = []struct {
	usage x509.KeyUsage
	name  string
}{
	{x509.KeyUsageDigitalSignature, "DigitalSignature"},
	{x509.KeyUsageContentCommitment, "ContentCommitment"},
	{x509.KeyUsageKeyEncipherment, "KeyEncipherment"},
	{x509.KeyUsageDataEncipherment, "DataEncipherment"},
	{x509.KeyUsageKeyAgreement, "KeyAgreement"},
	{x509.KeyUsageCertSign, "CertSign"},
	{x509.KeyUsageCRLSign, "CRLSign"},
	{x509.KeyUsageEncipherOnly, "EncipherOnly"},
	{x509.KeyUsageDecipherOnly, "DecipherOnly"},
}

func (p X509KeyUsage) MarshalJSON() ([]byte, error) {
	usages := []string{}
	for _, ku := range keyUsageNames {
		if x509.KeyUsage(p)&ku.usage != 0 {
			usages = append(usages, ku.name)
		}
	}

	return json.Marshal(usages)
}

func (p *X509KeyUsage) UnmarshalJSON(data []byte) error {
	usagesStr := []string{}

	var singleUsage string
	if err := json.Unmarshal(data, &singleUsage); err != nil {
		var usageArr []string
		if err := json.Unmarshal(data, &usageArr); err != nil {
			return fmt.Errorf("invalid format")
		}

		usagesStr = usageArr
	} else {
		usagesStr = append(usagesStr, singleUsage)
	}

	var usages x509.KeyUsage
	for _, part := range usagesStr {
		trimmed := strings.TrimSpace(part)
		found := false
		for _, ku := range keyUsageNames {
			if ku.name == trimmed {
				usages |= ku.usage
				found = true
				break
			}
		}

		if !found {
			return fmt.Errorf("unknown key usage: %s", trimmed)
		}
	}

	*p = X509KeyUsage(usages)
	return nil
}

type X509ExtKeyUsage x509.ExtKeyUsage

var extKeyUsageNames = map[x509.ExtKeyUsage]string{
	x509.ExtKeyUsageAny:             "Any",
	x509.ExtKeyUsageServerAuth:      "ServerAuth",
	x509.ExtKeyUsageClientAuth:      "ClientAuth",
	x509.ExtKeyUsageCodeSigning:     "CodeSigning",
	x509.ExtKeyUsageEmailProtection: "EmailProtection",
	x509.ExtKeyUsageIPSECEndSystem:  "IPSECEndSystem",
	x509.ExtKeyUsageIPSECTunnel:     "IPSECTunnel",
	x509.ExtKeyUsageIPSECUser:       "IPSECUser",
	x509.ExtKeyUsageTimeStamping:    "TimeStamping",
	x509.ExtKeyUsageOCSPSigning:     "OCSPSigning",
}

func (p X509ExtKeyUsage) MarshalText() ([]byte, error) {
	return []byte(extKeyUsageNames[x509.ExtKeyUsage(p)]), nil
}

func (p *X509ExtKeyUsage) UnmarshalText(text []byte) error {
	for usage, name := range extKeyUsageNames {
		if name == string(text) {
			*p = X509ExtKeyUsage(usage)
			return nil
		}
	}

	return fmt.Errorf("unknown extended key usage: %s", string(text))
}
