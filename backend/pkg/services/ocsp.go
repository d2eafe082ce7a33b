package services

import (
	"context"
	"crypto/x509"
	"sync"
	"time"

	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

type ocspResponder struct {
	caSDK            services.CAService
	engines          map[string]*cryptoengines.CryptoEngine
	responseValidity time.Duration
	delegatedKeyID   string
	logger           *logrus.Entry

	mu sync.Mutex
	// responderCerts caches per CA delegated responder certificates so one
	// is not issued for every answered request.
	responderCerts map[string]*x509.Certificate
}

type OCSPServiceBuilder struct {
	Logger           *logrus.Entry
	CAClient         services.CAService
	CryptoEngines    map[string]*cryptoengines.CryptoEngine
	ResponseValidity time.Duration
	DelegatedKeyID   string
}

func NewOCSPService(builder OCSPServiceBuilder) services.OCSPService {
	validity := builder.ResponseValidity
	if validity <= 0 {
		validity = 24 * time.Hour
	}

	return &ocspResponder{
		caSDK:            builder.CAClient,
		engines:          builder.CryptoEngines,
		responseValidity: validity,
		delegatedKeyID:   builder.DelegatedKeyID,
		logger:           builder.Logger,
		responderCerts:   map[string]*x509.Certificate{},
	}
}

// responderCertificate returns the delegated OCSP signing certificate of a
// CA, issuing it on first use. RFC 6960 requires delegates to carry the
// id-kp-OCSPSigning extended key usage.
func (svc *ocspResponder) responderCertificate(ca *models.CACertificate) (*x509.Certificate, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	if cert, ok := svc.responderCerts[ca.ID]; ok && time.Now().Before(cert.NotAfter) {
		return cert, nil
	}

	caCert := (*x509.Certificate)(ca.Certificate.Certificate)
	cert, err := delegatedSignerCertificate(svc.engines, ca, svc.delegatedKeyID,
		caCert.Subject.CommonName+" OCSP Responder",
		x509.KeyUsageDigitalSignature,
		[]x509.ExtKeyUsage{x509.ExtKeyUsageOCSPSigning})
	if err != nil {
		return nil, err
	}

	svc.responderCerts[ca.ID] = cert
	return cert, nil
}

// Verify resolves the status of the certificate named by the request and
// returns a signed DER encoded OCSP response. Certificates this platform
// never issued get an Unknown status.
func (svc *ocspResponder) Verify(ctx context.Context, req *ocsp.Request) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	ocspCrtSN := helpers.SerialNumberToString(req.SerialNumber)
	crt, err := svc.caSDK.GetCertificateBySerialNumber(ctx, services.GetCertificatesBySerialNumberInput{
		SerialNumber: ocspCrtSN,
	})
	if err != nil {
		lFunc.Errorf("could not read certificate %s: %s", ocspCrtSN, err)
		return nil, err
	}

	ca, err := svc.caSDK.GetCAByID(ctx, services.GetCAByIDInput{
		CAID: crt.IssuerCAMetadata.ID,
	})
	if err != nil {
		lFunc.Errorf("could not read issuer CA %s: %s", crt.IssuerCAMetadata.ID, err)
		return nil, err
	}

	status := ocsp.Unknown
	var revokedAt time.Time
	if crt.Status == models.StatusRevoked {
		status = ocsp.Revoked
		revokedAt = crt.RevocationTimestamp
	} else if crt.Status == models.StatusActive || crt.Status == models.StatusExpired {
		status = ocsp.Good
	}

	now := time.Now().UTC()
	rtemplate := ocsp.Response{
		Status:           status,
		SerialNumber:     req.SerialNumber,
		Certificate:      (*x509.Certificate)(ca.Certificate.Certificate),
		RevocationReason: int(crt.RevocationReason),
		IssuerHash:       req.HashAlgorithm,
		RevokedAt:        revokedAt,
		ThisUpdate:       now,
		// The ocsp package defaults NextUpdate to the epoch, which clients
		// reject as an expired response.
		NextUpdate: now.Add(svc.responseValidity),
	}

	signer, err := resolveSigner(svc.engines, ca, svc.delegatedKeyID)
	if err != nil {
		lFunc.Errorf("could not get OCSP signing key of CA %s: %s", ca.ID, err)
		return nil, err
	}

	caCert := (*x509.Certificate)(ca.Certificate.Certificate)
	responderCert := caCert
	if svc.delegatedKeyID != "" {
		// A delegated key signs under its own responder certificate. Naming
		// the CA certificate while signing with another key would produce
		// responses no client can verify.
		responderCert, err = svc.responderCertificate(ca)
		if err != nil {
			lFunc.Errorf("could not get delegated responder certificate of CA %s: %s", ca.ID, err)
			return nil, err
		}
		rtemplate.Certificate = responderCert
	}

	rawResp, err := ocsp.CreateResponse(caCert, responderCert, rtemplate, signer)
	if err != nil {
		lFunc.Errorf("could not create OCSP response: %s", err)
		return nil, err
	}

	return rawResp, nil
}
