package x509engines

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/sirupsen/logrus"
)

type X509Engine struct {
	logger    *logrus.Entry
	vaDomains []string
}

func NewX509Engine(logger *logrus.Entry, vaDomains []string) X509Engine {
	return X509Engine{
		logger:    logger,
		vaDomains: vaDomains,
	}
}

// SignRequest carries everything needed to issue one certificate. The serial
// number is allocated by the caller so allocation policy stays out of the
// signing path.
type SignRequest struct {
	CSR          *x509.CertificateRequest
	CACert       *x509.Certificate
	CASigner     crypto.Signer
	Profile      models.IssuanceProfile
	SerialNumber *big.Int
	// Validity overrides the profile validity when set.
	Validity *models.Validity
}

func (engine X509Engine) CreateRootCA(ctx context.Context, signer crypto.Signer, keyID string, subject models.Subject, validity models.Validity, sn *big.Int) (*x509.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, engine.logger)

	caExpiration, err := expirationFromValidity(time.Now(), validity)
	if err != nil {
		lFunc.Errorf("invalid root CA validity: %s", err)
		return nil, err
	}

	lFunc.Debugf("generated serial number for root CA: %s", helpers.SerialNumberToString(sn))
	lFunc.Debugf("validity of root CA: %s", caExpiration)
	lFunc.Debugf("key ID of root CA: %s", keyID)

	rawHex, _ := hex.DecodeString(keyID)

	template := x509.Certificate{
		SerialNumber:          sn,
		Subject:               helpers.SubjectToPkixName(subject),
		AuthorityKeyId:        rawHex,
		SubjectKeyId:          rawHex,
		OCSPServer:            []string{},
		CRLDistributionPoints: []string{},
		NotBefore:             time.Now(),
		NotAfter:              caExpiration,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	engine.stampVAURLs(&template, keyID)

	certificateBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, signer.Public(), signer)
	if err != nil {
		lFunc.Errorf("could not sign certificate: %s", err)
		return nil, err
	}

	certificate, err := x509.ParseCertificate(certificateBytes)
	if err != nil {
		lFunc.Errorf("could not parse signed certificate %s", err)
		return nil, err
	}

	return certificate, nil
}

func (engine X509Engine) SignCertificateRequest(ctx context.Context, req SignRequest) (*x509.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, engine.logger)

	csr := req.CSR
	profile := req.Profile

	if err := enforceKeyPolicy(csr.PublicKey, profile.CryptoEnforcement); err != nil {
		lFunc.Errorf("CSR key rejected: %s", err)
		return nil, err
	}

	now := time.Now()

	validity := profile.Validity
	if req.Validity != nil {
		validity = *req.Validity
	}

	certExpiration, err := expirationFromValidity(now, validity)
	if err != nil {
		lFunc.Errorf("invalid validity: %s", err)
		return nil, err
	}

	// A leaf can never outlive its issuer.
	if certExpiration.After(req.CACert.NotAfter) {
		lFunc.Warnf("requested expiration %s exceeds issuer expiration %s. Clamping", certExpiration, req.CACert.NotAfter)
		certExpiration = req.CACert.NotAfter
	}

	if !certExpiration.After(now) {
		lFunc.Errorf("computed expiration %s is not in the future", certExpiration)
		return nil, errs.ErrValidityWindowInvalid
	}

	skid, err := filesystem.EncodePKIXPublicKeyDigest(csr.PublicKey)
	if err != nil {
		lFunc.Errorf("could not encode public key digest: %s", err)
		return nil, err
	}

	rawHex, _ := hex.DecodeString(skid)

	certificateTemplate := x509.Certificate{
		PublicKeyAlgorithm:    csr.PublicKeyAlgorithm,
		PublicKey:             csr.PublicKey,
		SubjectKeyId:          rawHex,
		AuthorityKeyId:        req.CACert.SubjectKeyId,
		SerialNumber:          req.SerialNumber,
		Issuer:                req.CACert.Subject,
		NotBefore:             now,
		NotAfter:              certExpiration,
		OCSPServer:            []string{},
		CRLDistributionPoints: []string{},
	}

	engine.stampVAURLs(&certificateTemplate, hex.EncodeToString(req.CACert.SubjectKeyId))

	if err := applyKeyUsagePolicy(&certificateTemplate, csr, profile); err != nil {
		lFunc.Errorf("key usage policy rejected CSR: %s", err)
		return nil, err
	}

	if err := applyExtKeyUsagePolicy(&certificateTemplate, csr, profile); err != nil {
		lFunc.Errorf("extended key usage policy rejected CSR: %s", err)
		return nil, err
	}

	if err := applySubjectAltNamePolicy(&certificateTemplate, csr, profile); err != nil {
		lFunc.Errorf("subject alternative name policy rejected CSR: %s", err)
		return nil, err
	}

	if profile.HonorSubject {
		certificateTemplate.Subject = csr.Subject
	} else {
		subject := profile.Subject
		subject.CommonName = csr.Subject.CommonName
		certificateTemplate.Subject = helpers.SubjectToPkixName(subject)
	}

	if profile.SignAsCA {
		certificateTemplate.IsCA = true
		certificateTemplate.BasicConstraintsValid = true
	} else if certificateTemplate.KeyUsage&x509.KeyUsageCertSign != 0 {
		// keyCertSign on a leaf profile is always a policy violation.
		lFunc.Errorf("profile does not sign CAs but key usage contains CertSign")
		return nil, errs.ErrIssuanceProfileViolation
	}

	certificateBytes, err := x509.CreateCertificate(rand.Reader, &certificateTemplate, req.CACert, csr.PublicKey, req.CASigner)
	if err != nil {
		lFunc.Errorf("could not sign certificate: %s", err)
		return nil, err
	}

	certificate, err := x509.ParseCertificate(certificateBytes)
	if err != nil {
		lFunc.Errorf("could not parse signed certificate %s", err)
		return nil, err
	}

	return certificate, nil
}

func (engine X509Engine) GenerateCertificateRequest(ctx context.Context, csrSigner crypto.Signer, subject models.Subject) (*x509.CertificateRequest, error) {
	lFunc := helpers.ConfigureLogger(ctx, engine.logger)
	lFunc.Debugf("generating certificate request for subject: %s", subject.CommonName)

	template := x509.CertificateRequest{
		Subject: helpers.SubjectToPkixName(subject),
	}

	csrBytes, err := x509.CreateCertificateRequest(rand.Reader, &template, csrSigner)
	if err != nil {
		return nil, err
	}

	csr, err := x509.ParseCertificateRequest(csrBytes)
	if err != nil {
		return nil, err
	}

	return csr, nil
}

// GetDefaultCAIssuanceProfile is the profile applied when signing
// subordinate CA certificates.
func (engine X509Engine) GetDefaultCAIssuanceProfile(ctx context.Context, validity models.Validity) models.IssuanceProfile {
	return models.IssuanceProfile{
		Validity:        validity,
		SignAsCA:        true,
		HonorSubject:    true,
		HonorExtensions: true,
		KeyUsage: models.KeyUsagePolicy{
			Policy:   models.ExtensionPolicyFixed,
			KeyUsage: models.X509KeyUsage(x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign),
		},
		ExtendedKeyUsage: models.ExtKeyUsagePolicy{
			Policy: models.ExtensionPolicyFixed,
		},
		SubjectAltName: models.SubjectAltNamePolicy{
			Policy: models.ExtensionPolicyFixed,
		},
	}
}

func (engine X509Engine) stampVAURLs(template *x509.Certificate, caSubjectKeyID string) {
	for _, domain := range engine.vaDomains {
		template.OCSPServer = append(template.OCSPServer, fmt.Sprintf("http://%s/ocsp", domain))
		template.CRLDistributionPoints = append(template.CRLDistributionPoints, fmt.Sprintf("http://%s/crl/%s", domain, caSubjectKeyID))
	}
}

func expirationFromValidity(now time.Time, validity models.Validity) (time.Time, error) {
	var expiration time.Time
	if validity.Type == models.Duration {
		if validity.Duration <= 0 {
			return time.Time{}, errs.ErrValidityWindowInvalid
		}
		expiration = now.Add(time.Duration(validity.Duration))
	} else {
		expiration = validity.Time
	}

	if !expiration.After(now) {
		return time.Time{}, errs.ErrValidityWindowInvalid
	}

	return expiration, nil
}

func enforceKeyPolicy(pub any, enforce models.CryptoEnforcement) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		if !enforce.Enabled {
			return nil
		}
		if !enforce.AllowRSAKeys {
			return fmt.Errorf("%w: RSA keys not allowed by profile", errs.ErrUnsupportedKeyType)
		}
		if enforce.MinimumRSABits > 0 && key.N.BitLen() < enforce.MinimumRSABits {
			return fmt.Errorf("%w: RSA %d below minimum %d", errs.ErrKeyStrengthTooWeak, key.N.BitLen(), enforce.MinimumRSABits)
		}
	case *ecdsa.PublicKey:
		if !enforce.Enabled {
			return nil
		}
		if !enforce.AllowECDSAKeys {
			return fmt.Errorf("%w: ECDSA keys not allowed by profile", errs.ErrUnsupportedKeyType)
		}
		if enforce.MinimumECDSABits > 0 && key.Curve.Params().BitSize < enforce.MinimumECDSABits {
			return fmt.Errorf("%w: ECDSA %d below minimum %d", errs.ErrKeyStrengthTooWeak, key.Curve.Params().BitSize, enforce.MinimumECDSABits)
		}
	case ed25519.PublicKey:
		if !enforce.Enabled {
			return nil
		}
		if !enforce.AllowEd25519Keys {
			return fmt.Errorf("%w: Ed25519 keys not allowed by profile", errs.ErrUnsupportedKeyType)
		}
	default:
		return fmt.Errorf("%w: unknown public key algorithm", errs.ErrUnsupportedKeyType)
	}

	return nil
}

func applyKeyUsagePolicy(template *x509.Certificate, csr *x509.CertificateRequest, profile models.IssuanceProfile) error {
	requested, present, err := helpers.ParseCSRKeyUsage(csr)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrIssuanceProfileViolation, err)
	}

	switch profile.KeyUsage.Policy {
	case models.ExtensionPolicyForbidden:
		if present {
			return fmt.Errorf("%w: key usage extension not allowed", errs.ErrIssuanceProfileViolation)
		}
	case models.ExtensionPolicyDefault:
		allowed := x509.KeyUsage(profile.KeyUsage.KeyUsage)
		// Requested usages are honored only inside the profile's allowed
		// set. Anything beyond it falls back to the profile value.
		if present && (allowed == 0 || requested&^allowed == 0) {
			template.KeyUsage = requested
			return nil
		}
		template.KeyUsage = allowed
	default:
		template.KeyUsage = x509.KeyUsage(profile.KeyUsage.KeyUsage)
	}

	return nil
}

func applyExtKeyUsagePolicy(template *x509.Certificate, csr *x509.CertificateRequest, profile models.IssuanceProfile) error {
	requested, present, err := helpers.ParseCSRExtendedKeyUsages(csr)
	if err != nil {
		return fmt.Errorf("%w: %s", errs.ErrIssuanceProfileViolation, err)
	}

	profileUsages := make([]x509.ExtKeyUsage, 0, len(profile.ExtendedKeyUsage.ExtendedKeyUsages))
	for _, usage := range profile.ExtendedKeyUsage.ExtendedKeyUsages {
		profileUsages = append(profileUsages, x509.ExtKeyUsage(usage))
	}

	switch profile.ExtendedKeyUsage.Policy {
	case models.ExtensionPolicyForbidden:
		if present {
			return fmt.Errorf("%w: extended key usage extension not allowed", errs.ErrIssuanceProfileViolation)
		}
	case models.ExtensionPolicyDefault:
		if present && extKeyUsagesPermitted(requested, profileUsages) {
			template.ExtKeyUsage = requested
			return nil
		}
		template.ExtKeyUsage = profileUsages
	default:
		template.ExtKeyUsage = profileUsages
	}

	return nil
}

// extKeyUsagesPermitted reports whether every requested usage appears in
// the profile's allowed set. An empty set leaves requests unconstrained.
func extKeyUsagesPermitted(requested, allowed []x509.ExtKeyUsage) bool {
	if len(allowed) == 0 {
		return true
	}

	for _, usage := range requested {
		permitted := false
		for _, candidate := range allowed {
			if usage == candidate {
				permitted = true
				break
			}
		}
		if !permitted {
			return false
		}
	}

	return true
}

func applySubjectAltNamePolicy(template *x509.Certificate, csr *x509.CertificateRequest, profile models.IssuanceProfile) error {
	requested := len(csr.DNSNames) > 0 || len(csr.IPAddresses) > 0 || len(csr.EmailAddresses) > 0 || len(csr.URIs) > 0

	switch profile.SubjectAltName.Policy {
	case models.ExtensionPolicyForbidden:
		if requested {
			return fmt.Errorf("%w: subject alternative names not allowed", errs.ErrIssuanceProfileViolation)
		}
	case models.ExtensionPolicyFixed:
		// Requested SANs are discarded, the certificate carries none.
	default:
		for _, name := range csr.DNSNames {
			if strings.HasPrefix(name, "*.") && !profile.SubjectAltName.AllowWildcards {
				return fmt.Errorf("%w: wildcard name %s not allowed", errs.ErrIssuanceProfileViolation, name)
			}

			if len(profile.SubjectAltName.PermittedDomains) > 0 && !domainPermitted(name, profile.SubjectAltName.PermittedDomains) {
				return fmt.Errorf("%w: name %s outside permitted domains", errs.ErrIssuanceProfileViolation, name)
			}
		}

		if len(profile.SubjectAltName.PermittedIPRanges) > 0 {
			for _, ip := range csr.IPAddresses {
				if !ipPermitted(ip, profile.SubjectAltName.PermittedIPRanges) {
					return fmt.Errorf("%w: IP %s outside permitted ranges", errs.ErrIssuanceProfileViolation, ip)
				}
			}
		}

		template.DNSNames = dedupNames(csr.DNSNames)
		template.IPAddresses = dedupIPs(csr.IPAddresses)
		template.EmailAddresses = dedupNames(csr.EmailAddresses)
		template.URIs = dedupURIs(csr.URIs)
	}

	sanCount := len(template.DNSNames) + len(template.IPAddresses) + len(template.EmailAddresses) + len(template.URIs)
	if profile.SubjectAltName.RequireSAN && sanCount == 0 && authenticationUsage(template.ExtKeyUsage) {
		return fmt.Errorf("%w: authentication certificates must carry a subject alternative name", errs.ErrIssuanceProfileViolation)
	}

	return nil
}

func authenticationUsage(usages []x509.ExtKeyUsage) bool {
	for _, usage := range usages {
		if usage == x509.ExtKeyUsageServerAuth || usage == x509.ExtKeyUsageClientAuth {
			return true
		}
	}

	return false
}

func dedupNames(values []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(values))
	for _, value := range values {
		key := strings.ToLower(value)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}

	return out
}

func dedupIPs(values []net.IP) []net.IP {
	seen := map[string]bool{}
	out := make([]net.IP, 0, len(values))
	for _, value := range values {
		key := value.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}

	return out
}

func dedupURIs(values []*url.URL) []*url.URL {
	seen := map[string]bool{}
	out := make([]*url.URL, 0, len(values))
	for _, value := range values {
		key := value.String()
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, value)
	}

	return out
}

func domainPermitted(name string, permitted []string) bool {
	candidate := strings.TrimPrefix(name, "*.")
	for _, domain := range permitted {
		if candidate == domain || strings.HasSuffix(candidate, "."+domain) {
			return true
		}
	}

	return false
}

func ipPermitted(ip net.IP, ranges []string) bool {
	for _, cidr := range ranges {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}

		if network.Contains(ip) {
			return true
		}
	}

	return false
}
