package models

import (
	"crypto/x509"
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"
)

// X509Certificate serializes as a base64 encoded PEM block so certificates
// survive JSON round trips and text columns untouched.
type X509Certificate x509.Certificate

func (c *X509Certificate) String() string {
	res, err := c.MarshalJSON()
	if err != nil {
		return ""
	}

	return strings.ReplaceAll(string(res), "\"", "")
}

func (c *X509Certificate) MarshalJSON() ([]byte, error) {
	if c == nil {
		return json.Marshal([]byte{})
	}

	pemCert := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Raw})
	data := make([]byte, base64.StdEncoding.EncodedLen(len(pemCert)))
	base64.StdEncoding.Encode(data, pemCert)
	return json.Marshal(string(data))
}

func (c *X509Certificate) UnmarshalJSON(data []byte) error {
	var decoded []byte
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	block, _ := pem.Decode(decoded)
	if block == nil {
		return fmt.Errorf("missing cert block")
	}

	certificate, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return err
	}

	*c = X509Certificate(*certificate)
	return nil
}

func (X509Certificate) GormDataType() string {
	return "text"
}

func (c *X509Certificate) Scan(value interface{}) error {
	crtString, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan certificate value: %v", value)
	}

	return json.Unmarshal([]byte(fmt.Sprintf("%q", crtString)), c)
}

func (c X509Certificate) Value() (driver.Value, error) {
	return c.String(), nil
}

type X509CertificateRequest x509.CertificateRequest

func (c *X509CertificateRequest) String() string {
	res, err := c.MarshalJSON()
	if err != nil {
		return ""
	}

	return strings.ReplaceAll(string(res), "\"", "")
}

func (c *X509CertificateRequest) MarshalJSON() ([]byte, error) {
	if c == nil {
		return json.Marshal([]byte{})
	}

	pemCsr := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: c.Raw})
	data := make([]byte, base64.StdEncoding.EncodedLen(len(pemCsr)))
	base64.StdEncoding.Encode(data, pemCsr)
	return json.Marshal(string(data))
}

func (c *X509CertificateRequest) UnmarshalJSON(data []byte) error {
	var decoded []byte
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	block, _ := pem.Decode(decoded)
	if block == nil {
		return fmt.Errorf("missing csr block")
	}

	csr, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return err
	}

	*c = X509CertificateRequest(*csr)
	return nil
}

func (X509CertificateRequest) GormDataType() string {
	return "text"
}

func (c *X509CertificateRequest) Scan(value interface{}) error {
	csrString, ok := value.(string)
	if !ok {
		return fmt.Errorf("failed to scan csr value: %v", value)
	}

	return json.Unmarshal([]byte(fmt.Sprintf("%q", csrString)), c)
}

func (c X509CertificateRequest) Value() (driver.Value, error) {
	return c.String(), nil
}

type X509PublicKey struct {
	Key any
}

func (k *X509PublicKey) String() string {
	res, err := k.MarshalJSON()
	if err != nil {
		return ""
	}

	return strings.ReplaceAll(string(res), "\"", "")
}

func (k *X509PublicKey) MarshalJSON() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Key)
	if err != nil {
		return nil, err
	}

	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	data := make([]byte, base64.StdEncoding.EncodedLen(len(pemKey)))
	base64.StdEncoding.Encode(data, pemKey)
	return json.Marshal(string(data))
}

func (k *X509PublicKey) UnmarshalJSON(data []byte) error {
	var decoded []byte
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	block, _ := pem.Decode(decoded)
	if block == nil {
		return fmt.Errorf("missing public key block")
	}

	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return err
	}

	*k = X509PublicKey{Key: key}
	return nil
}
