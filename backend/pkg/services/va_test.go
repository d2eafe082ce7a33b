package services

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	"github.com/ocelotpki/ocelot/backend/pkg/storage/gormstore"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"golang.org/x/crypto/ocsp"
)

type vaTestStack struct {
	caSvc      services.CAService
	crlSvc     services.CRLService
	ocspSvc    services.OCSPService
	vaSvc      services.VAService
	engine     cryptoengines.CryptoEngine
	rawEngines map[string]*cryptoengines.CryptoEngine
	logger     *logrus.Entry
}

func setupVAStack(t *testing.T) *vaTestStack {
	t.Helper()

	logger := helpers.SetupLogger(config.None, "VA", "Service")

	db, err := gormstore.CreateSQLiteDBConnection(logger, config.SQLitePSEConfig{
		DatabasePath: filepath.Join(t.TempDir(), "va.db"),
	})
	require.NoError(t, err)

	caRepo, err := gormstore.NewCARepository(db)
	require.NoError(t, err)
	certRepo, err := gormstore.NewCertificateRepository(db)
	require.NoError(t, err)
	profileRepo, err := gormstore.NewIssuanceProfileRepository(db)
	require.NoError(t, err)
	vaRepo, err := gormstore.NewVARepository(db)
	require.NoError(t, err)

	engine, err := filesystem.NewFilesystemPEMEngine(logger, config.FilesystemEngineConfig{
		ID:               "fs-test",
		Name:             "Test Filesystem Engine",
		StorageDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	caSvc, err := NewCAService(CAServiceBuilder{
		Logger: logger,
		CryptoEngines: map[string]*Engine{
			"fs-test": {Default: true, Service: engine},
		},
		CAStorage:          caRepo,
		CertificateStorage: certRepo,
		ProfileStorage:     profileRepo,
		SerialNumberSettings: config.SerialNumberSettings{
			Policy:     config.SerialNumberPolicyRandom,
			RandomBits: 64,
			MaxRetries: 5,
		},
		VAServerDomains: []string{"va.example.com"},
	})
	require.NoError(t, err)

	rawEngines := map[string]*cryptoengines.CryptoEngine{"fs-test": &engine}

	ocspSvc := NewOCSPService(OCSPServiceBuilder{
		Logger:           logger,
		CAClient:         caSvc,
		CryptoEngines:    rawEngines,
		ResponseValidity: time.Hour,
	})

	crlSvc, err := NewCRLService(CRLServiceBuilder{
		VARepo:             vaRepo,
		Logger:             logger,
		CAClient:           caSvc,
		CAStorage:          caRepo,
		CryptoEngines:      rawEngines,
		Bucket:             memblob.OpenBucket(nil),
		VADomains:          []string{"va.example.com"},
		CRLValidity:        models.TimeDuration(24 * time.Hour),
		CRLRefreshInterval: models.TimeDuration(12 * time.Hour),
	})
	require.NoError(t, err)

	vaSvc, err := NewVAService(VAServiceBuilder{
		Logger:      logger,
		OCSPService: ocspSvc,
		CRLService:  crlSvc,
		VARepo:      vaRepo,
	})
	require.NoError(t, err)

	return &vaTestStack{
		caSvc:      caSvc,
		crlSvc:     crlSvc,
		ocspSvc:    ocspSvc,
		vaSvc:      vaSvc,
		engine:     engine,
		rawEngines: rawEngines,
		logger:     logger,
	}
}

func (s *vaTestStack) issueLeaf(t *testing.T, caID, cn string) *models.Certificate {
	t.Helper()

	profile := signingProfile()
	cert, err := s.caSvc.SignCertificate(context.Background(), services.SignCertificateInput{
		CAID:            caID,
		CertRequest:     testCSR(t, cn),
		IssuanceProfile: &profile,
	})
	require.NoError(t, err)

	return cert
}

func TestInitCRLRolePublishesFirstCRL(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	ski := ca.Certificate.KeyID

	role, err := stack.crlSvc.InitCRLRole(ctx, ski)
	require.NoError(t, err)
	assert.Equal(t, "root-1", role.CAID)
	assert.Equal(t, models.TimeDuration(24*time.Hour), role.CRLOptions.Validity)

	crlDER, err := stack.crlSvc.GetCRL(ctx, services.GetCRLInput{CASubjectKeyID: ski})
	require.NoError(t, err)

	crl, err := x509.ParseRevocationList(crlDER)
	require.NoError(t, err)
	assert.Equal(t, int64(1), crl.Number.Int64())
	assert.Empty(t, crl.RevokedCertificateEntries)

	caCert := (*x509.Certificate)(ca.Certificate.Certificate)
	assert.NoError(t, crl.CheckSignatureFrom(caCert))

	_, err = stack.crlSvc.InitCRLRole(ctx, "unknown-ski")
	assert.ErrorIs(t, err, errs.ErrCANotFound)
}

func TestCalculateCRLIncludesRevokedCertificates(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	ski := ca.Certificate.KeyID

	_, err := stack.crlSvc.InitCRLRole(ctx, ski)
	require.NoError(t, err)

	leaf := stack.issueLeaf(t, "root-1", "revoke-me.example.com")
	_, err = stack.caSvc.UpdateCertificateStatus(ctx, services.UpdateCertificateStatusInput{
		SerialNumber:     leaf.SerialNumber,
		NewStatus:        models.StatusRevoked,
		RevocationReason: ocsp.KeyCompromise,
	})
	require.NoError(t, err)

	crl, err := stack.crlSvc.CalculateCRL(ctx, services.CalculateCRLInput{CASubjectKeyID: ski})
	require.NoError(t, err)

	assert.Equal(t, int64(2), crl.Number.Int64())
	require.Len(t, crl.RevokedCertificateEntries, 1)

	entry := crl.RevokedCertificateEntries[0]
	assert.Equal(t, leaf.SerialNumber, helpers.SerialNumberToString(entry.SerialNumber))
	assert.Equal(t, int(ocsp.KeyCompromise), entry.ReasonCode)

	// Older versions stay resolvable after a regeneration.
	oldDER, err := stack.crlSvc.GetCRL(ctx, services.GetCRLInput{CASubjectKeyID: ski, CRLVersion: "1"})
	require.NoError(t, err)
	oldCRL, err := x509.ParseRevocationList(oldDER)
	require.NoError(t, err)
	assert.Equal(t, int64(1), oldCRL.Number.Int64())

	_, err = stack.crlSvc.GetCRL(ctx, services.GetCRLInput{CASubjectKeyID: ski, CRLVersion: "99"})
	assert.ErrorIs(t, err, errs.ErrCRLNotFound)

	_, err = stack.crlSvc.GetCRL(ctx, services.GetCRLInput{CASubjectKeyID: "unknown-ski"})
	assert.ErrorIs(t, err, errs.ErrVARoleNotFound)
}

func TestOCSPResponderStatuses(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	caCert := (*x509.Certificate)(ca.Certificate.Certificate)

	leaf := stack.issueLeaf(t, "root-1", "status.example.com")
	leafCert := (*x509.Certificate)(leaf.Certificate)

	reqDER, err := ocsp.CreateRequest(leafCert, caCert, nil)
	require.NoError(t, err)
	req, err := ocsp.ParseRequest(reqDER)
	require.NoError(t, err)

	rawResp, err := stack.vaSvc.GetOCSPResponse(ctx, services.GetOCSPResponseInput{Request: req})
	require.NoError(t, err)

	resp, err := ocsp.ParseResponse(rawResp, caCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)
	assert.True(t, resp.NextUpdate.After(resp.ThisUpdate))

	_, err = stack.caSvc.UpdateCertificateStatus(ctx, services.UpdateCertificateStatusInput{
		SerialNumber:     leaf.SerialNumber,
		NewStatus:        models.StatusRevoked,
		RevocationReason: ocsp.Superseded,
	})
	require.NoError(t, err)

	rawResp, err = stack.vaSvc.GetOCSPResponse(ctx, services.GetOCSPResponseInput{Request: req})
	require.NoError(t, err)

	resp, err = ocsp.ParseResponse(rawResp, caCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Revoked, resp.Status)
	assert.Equal(t, ocsp.Superseded, resp.RevocationReason)
	assert.False(t, resp.RevokedAt.IsZero())

	// A serial this platform never issued cannot be resolved.
	unknownReq := *req
	unknownReq.SerialNumber = bigSerial(t)
	_, err = stack.vaSvc.GetOCSPResponse(ctx, services.GetOCSPResponseInput{Request: &unknownReq})
	assert.ErrorIs(t, err, errs.ErrCertificateNotFound)
}

func TestDelegatedOCSPResponderSigning(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	caCert := (*x509.Certificate)(ca.Certificate.Certificate)

	keyID, delegated, err := stack.engine.CreateECDSAPrivateKey(elliptic.P256())
	require.NoError(t, err)

	ocspSvc := NewOCSPService(OCSPServiceBuilder{
		Logger:           stack.logger,
		CAClient:         stack.caSvc,
		CryptoEngines:    stack.rawEngines,
		ResponseValidity: time.Hour,
		DelegatedKeyID:   keyID,
	})

	leaf := stack.issueLeaf(t, "root-1", "delegated.example.com")
	leafCert := (*x509.Certificate)(leaf.Certificate)

	reqDER, err := ocsp.CreateRequest(leafCert, caCert, nil)
	require.NoError(t, err)
	req, err := ocsp.ParseRequest(reqDER)
	require.NoError(t, err)

	rawResp, err := ocspSvc.Verify(ctx, req)
	require.NoError(t, err)

	// ParseResponse checks the chain: the embedded responder certificate
	// must be issued by the CA and the response signed by its key.
	resp, err := ocsp.ParseResponse(rawResp, caCert)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)

	require.NotNil(t, resp.Certificate)
	assert.Contains(t, resp.Certificate.ExtKeyUsage, x509.ExtKeyUsageOCSPSigning)
	assert.Contains(t, resp.Certificate.Subject.CommonName, "OCSP Responder")

	delegatedPub, ok := delegated.Public().(*ecdsa.PublicKey)
	require.True(t, ok)
	certPub, ok := resp.Certificate.PublicKey.(*ecdsa.PublicKey)
	require.True(t, ok)
	assert.True(t, delegatedPub.Equal(certPub))
}

func TestDelegatedCRLSigning(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	caCert := (*x509.Certificate)(ca.Certificate.Certificate)
	ski := ca.Certificate.KeyID

	_, err := stack.crlSvc.InitCRLRole(ctx, ski)
	require.NoError(t, err)

	keyID, delegated, err := stack.engine.CreateECDSAPrivateKey(elliptic.P256())
	require.NoError(t, err)

	_, err = stack.vaSvc.UpdateVARole(ctx, services.UpdateVARoleInput{
		CASubjectKeyID: ski,
		CRLRole: models.VACRLRole{
			Validity:        models.TimeDuration(24 * time.Hour),
			RefreshInterval: models.TimeDuration(12 * time.Hour),
			KeyIDSigner:     keyID,
		},
	})
	require.NoError(t, err)

	crl, err := stack.crlSvc.CalculateCRL(ctx, services.CalculateCRLInput{CASubjectKeyID: ski})
	require.NoError(t, err)

	assert.Contains(t, crl.Issuer.CommonName, "CRL Signer")

	// The signature must verify against the delegated key, not the CA key.
	signerHolder := &x509.Certificate{
		PublicKey:          delegated.Public(),
		PublicKeyAlgorithm: x509.ECDSA,
		KeyUsage:           x509.KeyUsageCRLSign,
	}
	assert.NoError(t, crl.CheckSignatureFrom(signerHolder))
	assert.Error(t, crl.CheckSignatureFrom(caCert))
}

func TestVARoleManagement(t *testing.T) {
	stack := setupVAStack(t)
	ctx := context.Background()

	ca := createRootCAFixture(t, stack.caSvc, "root-1")
	ski := ca.Certificate.KeyID

	_, err := stack.vaSvc.GetVARoleByID(ctx, services.GetVARoleInput{CASubjectKeyID: ski})
	assert.ErrorIs(t, err, errs.ErrVARoleNotFound)

	_, err = stack.crlSvc.InitCRLRole(ctx, ski)
	require.NoError(t, err)

	role, err := stack.vaSvc.GetVARoleByID(ctx, services.GetVARoleInput{CASubjectKeyID: ski})
	require.NoError(t, err)
	assert.Equal(t, "root-1", role.CAID)
	assert.Equal(t, int64(1), role.LatestCRL.Version.Int64())

	updated, err := stack.vaSvc.UpdateVARole(ctx, services.UpdateVARoleInput{
		CASubjectKeyID: ski,
		CRLRole: models.VACRLRole{
			Validity:           models.TimeDuration(48 * time.Hour),
			RefreshInterval:    models.TimeDuration(24 * time.Hour),
			RegenerateOnRevoke: true,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TimeDuration(48*time.Hour), updated.CRLOptions.Validity)
	assert.True(t, updated.CRLOptions.RegenerateOnRevoke)

	found := []models.VARole{}
	_, err = stack.vaSvc.GetVARoles(ctx, services.GetVARolesInput{
		ExhaustiveRun: true,
		ApplyFunc: func(r models.VARole) {
			found = append(found, r)
		},
	})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, ski, found[0].CASubjectKeyID)
}
