package x509engines

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine() X509Engine {
	logger := helpers.SetupLogger(config.None, "CA", "X509 Engine")
	return NewX509Engine(logger, []string{"va.example.com"})
}

func newRootCA(t *testing.T, engine X509Engine, validity time.Duration) (*x509.Certificate, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	keyID, err := filesystem.EncodePKIXPublicKeyDigest(key.Public())
	require.NoError(t, err)

	cert, err := engine.CreateRootCA(context.Background(), key, keyID,
		models.Subject{CommonName: "Test Root CA"},
		models.Validity{Type: models.Duration, Duration: models.TimeDuration(validity)},
		big.NewInt(1),
	)
	require.NoError(t, err)

	return cert, key
}

func newCSR(t *testing.T, cn string, dnsNames []string, ips []net.IP) (*x509.CertificateRequest, *ecdsa.PrivateKey) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: cn},
		DNSNames:    dnsNames,
		IPAddresses: ips,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	require.NoError(t, err)

	csr, err := x509.ParseCertificateRequest(csrDER)
	require.NoError(t, err)

	return csr, key
}

func leafProfile() models.IssuanceProfile {
	return models.IssuanceProfile{
		Validity:     models.Validity{Type: models.Duration, Duration: models.TimeDuration(time.Hour)},
		HonorSubject: true,
		KeyUsage: models.KeyUsagePolicy{
			Policy:   models.ExtensionPolicyFixed,
			KeyUsage: models.X509KeyUsage(x509.KeyUsageDigitalSignature),
		},
		ExtendedKeyUsage: models.ExtKeyUsagePolicy{
			Policy: models.ExtensionPolicyFixed,
		},
		SubjectAltName: models.SubjectAltNamePolicy{
			Policy: models.ExtensionPolicyDefault,
		},
	}
}

func TestCreateRootCA(t *testing.T) {
	engine := testEngine()
	cert, key := newRootCA(t, engine, 24*time.Hour)

	assert.True(t, cert.IsCA)
	assert.True(t, cert.BasicConstraintsValid)
	assert.Equal(t, "Test Root CA", cert.Subject.CommonName)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCertSign)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCRLSign)
	assert.Equal(t, cert.SubjectKeyId, cert.AuthorityKeyId)
	assert.Contains(t, cert.OCSPServer, "http://va.example.com/ocsp")

	keyID, err := filesystem.EncodePKIXPublicKeyDigest(key.Public())
	require.NoError(t, err)
	assert.Contains(t, cert.CRLDistributionPoints, "http://va.example.com/crl/"+keyID)
}

func TestSignCertificateRequest(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)
	csr, _ := newCSR(t, "leaf.example.com", []string{"leaf.example.com"}, nil)

	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      leafProfile(),
		SerialNumber: big.NewInt(2),
	})
	require.NoError(t, err)

	assert.Equal(t, "leaf.example.com", cert.Subject.CommonName)
	assert.Equal(t, []string{"leaf.example.com"}, cert.DNSNames)
	assert.False(t, cert.IsCA)
	assert.Equal(t, x509.KeyUsageDigitalSignature, cert.KeyUsage)
	assert.Equal(t, caCert.SubjectKeyId, cert.AuthorityKeyId)
	assert.NoError(t, cert.CheckSignatureFrom(caCert))
}

func TestSignCertificateRequestClampsValidityToIssuer(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, time.Hour)
	csr, _ := newCSR(t, "leaf.example.com", nil, nil)

	profile := leafProfile()
	profile.Validity = models.Validity{Type: models.Duration, Duration: models.TimeDuration(48 * time.Hour)}

	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      profile,
		SerialNumber: big.NewInt(3),
	})
	require.NoError(t, err)

	assert.WithinDuration(t, caCert.NotAfter, cert.NotAfter, time.Second)
}

func TestSignCertificateRequestRejectsPastValidity(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)
	csr, _ := newCSR(t, "leaf.example.com", nil, nil)

	profile := leafProfile()
	profile.Validity = models.Validity{Type: models.Time, Time: time.Now().Add(-time.Hour)}

	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      profile,
		SerialNumber: big.NewInt(4),
	})
	assert.ErrorIs(t, err, errs.ErrValidityWindowInvalid)
}

func TestSignCertificateRequestLeafCannotCertSign(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)
	csr, _ := newCSR(t, "leaf.example.com", nil, nil)

	profile := leafProfile()
	profile.KeyUsage.KeyUsage = models.X509KeyUsage(x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign)

	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      profile,
		SerialNumber: big.NewInt(5),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)
}

func TestSignCertificateRequestWildcardPolicy(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)
	csr, _ := newCSR(t, "wild.example.com", []string{"*.example.com"}, nil)

	profile := leafProfile()

	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      profile,
		SerialNumber: big.NewInt(6),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)

	profile.SubjectAltName.AllowWildcards = true
	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caKey,
		Profile:      profile,
		SerialNumber: big.NewInt(7),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"*.example.com"}, cert.DNSNames)
}

func TestSignCertificateRequestPermittedDomains(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	profile := leafProfile()
	profile.SubjectAltName.PermittedDomains = []string{"example.com"}

	csr, _ := newCSR(t, "ok", []string{"svc.example.com"}, nil)
	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(8),
	})
	assert.NoError(t, err)

	csr, _ = newCSR(t, "bad", []string{"svc.other.org"}, nil)
	_, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(9),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)
}

func TestSignCertificateRequestPermittedIPRanges(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	profile := leafProfile()
	profile.SubjectAltName.PermittedIPRanges = []string{"10.0.0.0/8"}

	csr, _ := newCSR(t, "ok", nil, []net.IP{net.ParseIP("10.1.2.3")})
	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(10),
	})
	assert.NoError(t, err)

	csr, _ = newCSR(t, "bad", nil, []net.IP{net.ParseIP("192.168.1.1")})
	_, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(11),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)
}

func newCSRWithExtensions(t *testing.T, cn string, dnsNames []string, exts []pkix.Extension) *x509.CertificateRequest {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.CertificateRequest{
		Subject:         pkix.Name{CommonName: cn},
		DNSNames:        dnsNames,
		ExtraExtensions: exts,
	}

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &template, key)
	require.NoError(t, err)

	csr, err := x509.ParseCertificateRequest(csrDER)
	require.NoError(t, err)

	return csr
}

func reverseBits(b byte) byte {
	var out byte
	for i := 0; i < 8; i++ {
		out <<= 1
		out |= (b >> i) & 1
	}
	return out
}

func keyUsageExtension(t *testing.T, usage x509.KeyUsage) pkix.Extension {
	t.Helper()

	raw := []byte{reverseBits(byte(usage)), reverseBits(byte(usage >> 8))}
	value, err := asn1.Marshal(asn1.BitString{Bytes: raw, BitLength: 16})
	require.NoError(t, err)

	return pkix.Extension{Id: helpers.OIDExtensionKeyUsage, Critical: true, Value: value}
}

func extKeyUsageExtension(t *testing.T, usages ...x509.ExtKeyUsage) pkix.Extension {
	t.Helper()

	oidByUsage := map[x509.ExtKeyUsage]asn1.ObjectIdentifier{
		x509.ExtKeyUsageServerAuth: {1, 3, 6, 1, 5, 5, 7, 3, 1},
		x509.ExtKeyUsageClientAuth: {1, 3, 6, 1, 5, 5, 7, 3, 2},
	}

	oids := []asn1.ObjectIdentifier{}
	for _, usage := range usages {
		oid, ok := oidByUsage[usage]
		require.True(t, ok)
		oids = append(oids, oid)
	}

	value, err := asn1.Marshal(oids)
	require.NoError(t, err)

	return pkix.Extension{Id: helpers.OIDExtensionExtendedKeyUsage, Value: value}
}

func TestSignCertificateRequestDeduplicatesSANs(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject:     pkix.Name{CommonName: "dup.example.com"},
		DNSNames:    []string{"dup.example.com", "dup.example.com", "other.example.com"},
		IPAddresses: []net.IP{net.ParseIP("10.1.2.3"), net.ParseIP("10.1.2.3")},
	}, key)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(csrDER)
	require.NoError(t, err)

	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: leafProfile(), SerialNumber: big.NewInt(20),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"dup.example.com", "other.example.com"}, cert.DNSNames)
	require.Len(t, cert.IPAddresses, 1)
	assert.Equal(t, "10.1.2.3", cert.IPAddresses[0].String())
}

func TestSignCertificateRequestRequireSAN(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	profile := leafProfile()
	profile.SubjectAltName.RequireSAN = true
	profile.ExtendedKeyUsage = models.ExtKeyUsagePolicy{
		Policy:            models.ExtensionPolicyFixed,
		ExtendedKeyUsages: []models.X509ExtKeyUsage{models.X509ExtKeyUsage(x509.ExtKeyUsageServerAuth)},
	}

	csr, _ := newCSR(t, "bare.example.com", nil, nil)
	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(21),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)

	csr, _ = newCSR(t, "named.example.com", []string{"named.example.com"}, nil)
	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(22),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"named.example.com"}, cert.DNSNames)
}

func TestSignCertificateRequestDefaultKeyUsagePolicy(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	profile := leafProfile()
	profile.KeyUsage = models.KeyUsagePolicy{
		Policy:   models.ExtensionPolicyDefault,
		KeyUsage: models.X509KeyUsage(x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment),
	}

	csr := newCSRWithExtensions(t, "inside", nil, []pkix.Extension{
		keyUsageExtension(t, x509.KeyUsageDigitalSignature),
	})
	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(23),
	})
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature, cert.KeyUsage)

	// Usages outside the profile's allowed set fall back to the profile
	// value instead of being stamped verbatim.
	csr = newCSRWithExtensions(t, "outside", nil, []pkix.Extension{
		keyUsageExtension(t, x509.KeyUsageDataEncipherment),
	})
	cert, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(24),
	})
	require.NoError(t, err)
	assert.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
}

func TestSignCertificateRequestDefaultExtKeyUsagePolicy(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	profile := leafProfile()
	profile.ExtendedKeyUsage = models.ExtKeyUsagePolicy{
		Policy:            models.ExtensionPolicyDefault,
		ExtendedKeyUsages: []models.X509ExtKeyUsage{models.X509ExtKeyUsage(x509.ExtKeyUsageClientAuth)},
	}

	csr := newCSRWithExtensions(t, "inside", nil, []pkix.Extension{
		extKeyUsageExtension(t, x509.ExtKeyUsageClientAuth),
	})
	cert, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(25),
	})
	require.NoError(t, err)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)

	csr = newCSRWithExtensions(t, "outside", nil, []pkix.Extension{
		extKeyUsageExtension(t, x509.ExtKeyUsageServerAuth),
	})
	cert, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(26),
	})
	require.NoError(t, err)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)
}

func TestSignCertificateRequestForbiddenSAN(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)
	csr, _ := newCSR(t, "leaf", []string{"leaf.example.com"}, nil)

	profile := leafProfile()
	profile.SubjectAltName.Policy = models.ExtensionPolicyForbidden

	_, err := engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(12),
	})
	assert.ErrorIs(t, err, errs.ErrIssuanceProfileViolation)
}

func TestSignCertificateRequestCryptoEnforcement(t *testing.T) {
	engine := testEngine()
	caCert, caKey := newRootCA(t, engine, 24*time.Hour)

	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: "rsa-leaf"},
	}, rsaKey)
	require.NoError(t, err)
	csr, err := x509.ParseCertificateRequest(csrDER)
	require.NoError(t, err)

	profile := leafProfile()
	profile.CryptoEnforcement = models.CryptoEnforcement{
		Enabled:        true,
		AllowECDSAKeys: true,
	}

	_, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(13),
	})
	assert.ErrorIs(t, err, errs.ErrUnsupportedKeyType)

	profile.CryptoEnforcement.AllowRSAKeys = true
	profile.CryptoEnforcement.MinimumRSABits = 3072
	_, err = engine.SignCertificateRequest(context.Background(), SignRequest{
		CSR: csr, CACert: caCert, CASigner: caKey, Profile: profile, SerialNumber: big.NewInt(14),
	})
	assert.ErrorIs(t, err, errs.ErrKeyStrengthTooWeak)
}

func TestGetDefaultCAIssuanceProfile(t *testing.T) {
	engine := testEngine()
	profile := engine.GetDefaultCAIssuanceProfile(context.Background(),
		models.Validity{Type: models.Duration, Duration: models.TimeDuration(time.Hour)})

	assert.True(t, profile.SignAsCA)
	assert.True(t, profile.HonorSubject)
	assert.Equal(t, models.ExtensionPolicyFixed, profile.KeyUsage.Policy)
	assert.NotZero(t, x509.KeyUsage(profile.KeyUsage.KeyUsage)&x509.KeyUsageCertSign)
}
