package helpers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/ocelotpki/ocelot/pkg/models"
)

var (
	OIDExtensionKeyUsage         = asn1.ObjectIdentifier{2, 5, 29, 15}
	OIDExtensionSubjectAltName   = asn1.ObjectIdentifier{2, 5, 29, 17}
	OIDExtensionBasicConstraints = asn1.ObjectIdentifier{2, 5, 29, 19}
	OIDExtensionExtendedKeyUsage = asn1.ObjectIdentifier{2, 5, 29, 37}
)

// Map x509.ExtKeyUsage to their corresponding OIDs (this is a copy of the
// internal mapping in crypto/x509, replicated here since it's not exposed).
var extKeyUsageOIDs = map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
	x509.ExtKeyUsageAny:             {2, 5, 29, 37, 0},
	x509.ExtKeyUsageServerAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 1},
	x509.ExtKeyUsageClientAuth:      {1, 3, 6, 1, 5, 5, 7, 3, 2},
	x509.ExtKeyUsageCodeSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 3},
	x509.ExtKeyUsageEmailProtection: {1, 3, 6, 1, 5, 5, 7, 3, 4},
	x509.ExtKeyUsageIPSECEndSystem:  {1, 3, 6, 1, 5, 5, 7, 3, 5},
	x509.ExtKeyUsageIPSECTunnel:     {1, 3, 6, 1, 5, 5, 7, 3, 6},
	x509.ExtKeyUsageIPSECUser:       {1, 3, 6, 1, 5, 5, 7, 3, 7},
	x509.ExtKeyUsageTimeStamping:    {1, 3, 6, 1, 5, 5, 7, 3, 8},
	x509.ExtKeyUsageOCSPSigning:     {1, 3, 6, 1, 5, 5, 7, 3, 9},
}

var ekuOIDToExt = func() map[string]x509.ExtKeyUsage {
	m := make(map[string]x509.ExtKeyUsage, len(extKeyUsageOIDs))
	for ext, oid := range extKeyUsageOIDs {
		m[oid.String()] = ext
	}
	return m
}()

// CSRHasExtension reports whether the request carries the given extension in
// its requested extensions attribute.
func CSRHasExtension(csr *x509.CertificateRequest, oid asn1.ObjectIdentifier) bool {
	for _, ext := range csr.Extensions {
		if ext.Id.Equal(oid) {
			return true
		}
	}

	return false
}

// ParseCSRKeyUsage extracts the key usage extension requested by a CSR. The
// second return value reports whether the extension was present at all.
func ParseCSRKeyUsage(csr *x509.CertificateRequest) (x509.KeyUsage, bool, error) {
	for _, ext := range csr.Extensions {
		if !ext.Id.Equal(OIDExtensionKeyUsage) {
			continue
		}

		var bits asn1.BitString
		if _, err := asn1.Unmarshal(ext.Value, &bits); err != nil {
			return 0, true, fmt.Errorf("malformed key usage extension: %w", err)
		}

		var usage x509.KeyUsage
		for i := 0; i < 9; i++ {
			if bits.At(i) != 0 {
				usage |= 1 << uint(i)
			}
		}

		return usage, true, nil
	}

	return 0, false, nil
}

// ParseCSRExtendedKeyUsages extracts the extended key usage OIDs requested by
// a CSR. Unknown OIDs are rejected.
func ParseCSRExtendedKeyUsages(csr *x509.CertificateRequest) ([]x509.ExtKeyUsage, bool, error) {
	for _, ext := range csr.Extensions {
		if !ext.Id.Equal(OIDExtensionExtendedKeyUsage) {
			continue
		}

		var oids []asn1.ObjectIdentifier
		if _, err := asn1.Unmarshal(ext.Value, &oids); err != nil {
			return nil, true, fmt.Errorf("malformed extended key usage extension: %w", err)
		}

		usages := make([]x509.ExtKeyUsage, 0, len(oids))
		for _, oid := range oids {
			eku, ok := ekuOIDToExt[oid.String()]
			if !ok {
				return nil, true, fmt.Errorf("unknown extended key usage OID %s", oid.String())
			}

			usages = append(usages, eku)
		}

		return usages, true, nil
	}

	return nil, false, nil
}

// PublicKeyMetadata derives the key type and strength descriptor stored
// alongside every certificate.
func PublicKeyMetadata(pub any) models.KeyStrengthMetadata {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		return models.KeyStrengthMetadata{Type: models.KeyTypeRSA, Bits: key.N.BitLen()}
	case *ecdsa.PublicKey:
		return models.KeyStrengthMetadata{Type: models.KeyTypeECDSA, Bits: key.Curve.Params().BitSize}
	case ed25519.PublicKey:
		return models.KeyStrengthMetadata{Type: models.KeyTypeEd25519, Bits: 256}
	default:
		return models.KeyStrengthMetadata{}
	}
}

func generateKey(keyType x509.PublicKeyAlgorithm) (crypto.Signer, crypto.PublicKey, error) {
	switch keyType {
	case x509.RSA:
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, nil, err
		}
		return key, key.Public(), nil
	case x509.ECDSA:
		key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, key.Public(), nil
	case x509.Ed25519:
		pub, key, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, nil, err
		}
		return key, pub, nil
	default:
		return nil, nil, fmt.Errorf("unsupported key algorithm %s", keyType)
	}
}

// GenerateSelfSignedCA builds a throwaway CA keypair, mostly for tests.
func GenerateSelfSignedCA(keyType x509.PublicKeyAlgorithm, expirationTime time.Duration, commonName string) (*x509.Certificate, crypto.Signer, error) {
	key, pubKey, err := generateKey(keyType)
	if err != nil {
		return nil, nil, err
	}

	sn, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 160))
	template := x509.Certificate{
		SerialNumber: sn,
		Subject: pkix.Name{
			CommonName: commonName,
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(expirationTime),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		SubjectKeyId:          []byte(uuid.NewString()),
		IsCA:                  true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, pubKey, key)
	if err != nil {
		return nil, nil, err
	}

	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, nil, err
	}

	return cert, key, nil
}
