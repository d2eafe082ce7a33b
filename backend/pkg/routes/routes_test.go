package routes

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	lservices "github.com/ocelotpki/ocelot/backend/pkg/services"
	"github.com/ocelotpki/ocelot/backend/pkg/storage/gormstore"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"
	"golang.org/x/crypto/ocsp"
)

type httpTestServer struct {
	router *gin.Engine
	caSvc  services.CAService
	crlSvc services.CRLService
}

func setupHTTPServer(t *testing.T) *httpTestServer {
	t.Helper()

	gin.SetMode(gin.TestMode)
	logger := helpers.SetupLogger(config.None, "PKI", "HTTP Server")

	db, err := gormstore.CreateSQLiteDBConnection(logger, config.SQLitePSEConfig{
		DatabasePath: filepath.Join(t.TempDir(), "routes.db"),
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
	accountRepo, err := gormstore.NewACMEAccountRepository(db)
	require.NoError(t, err)
	orderRepo, err := gormstore.NewACMEOrderRepository(db)
	require.NoError(t, err)
	authzRepo, err := gormstore.NewACMEAuthorizationRepository(db)
	require.NoError(t, err)
	challengeRepo, err := gormstore.NewACMEChallengeRepository(db)
	require.NoError(t, err)
	nonceRepo, err := gormstore.NewACMENonceRepository(db)
	require.NoError(t, err)

	engine, err := filesystem.NewFilesystemPEMEngine(logger, config.FilesystemEngineConfig{
		ID:               "fs-test",
		Name:             "Test Filesystem Engine",
		StorageDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	caSvc, err := lservices.NewCAService(lservices.CAServiceBuilder{
		Logger: logger,
		CryptoEngines: map[string]*lservices.Engine{
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

	ocspSvc := lservices.NewOCSPService(lservices.OCSPServiceBuilder{
		Logger:           logger,
		CAClient:         caSvc,
		CryptoEngines:    rawEngines,
		ResponseValidity: time.Hour,
	})

	crlSvc, err := lservices.NewCRLService(lservices.CRLServiceBuilder{
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

	vaSvc, err := lservices.NewVAService(lservices.VAServiceBuilder{
		Logger:      logger,
		OCSPService: ocspSvc,
		CRLService:  crlSvc,
		VARepo:      vaRepo,
	})
	require.NoError(t, err)

	acmeSvc, err := lservices.NewACMEService(lservices.ACMEServiceBuilder{
		Logger:           logger,
		CAClient:         caSvc,
		AccountRepo:      accountRepo,
		OrderRepo:        orderRepo,
		AuthzRepo:        authzRepo,
		ChallengeRepo:    challengeRepo,
		NonceRepo:        nonceRepo,
		CAID:             "acme-root",
		ProfileID:        "acme-server",
		DirectoryBaseURL: "https://ca.example.com",
	})
	require.NoError(t, err)

	router := gin.New()
	grp := router.Group("/")
	NewCAHTTPLayer(grp, caSvc)
	NewValidationRoutes(grp, vaSvc)
	NewACMERoutes(grp, acmeSvc, "https://ca.example.com", resources.ACMEDirectoryMeta{
		TermsOfService: "https://ca.example.com/terms",
		Website:        "https://ca.example.com",
		CAAIdentities:  []string{"ca.example.com"},
	})

	return &httpTestServer{
		router: router,
		caSvc:  caSvc,
		crlSvc: crlSvc,
	}
}

func (s *httpTestServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

func (s *httpTestServer) requestRaw(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func (s *httpTestServer) createCA(t *testing.T, id string) models.CACertificate {
	t.Helper()

	w := s.request(t, http.MethodPost, "/v1/cas", resources.CreateCABody{
		ID:           id,
		Subject:      models.Subject{CommonName: "Root CA " + id},
		KeyMetadata:  models.KeyStrengthMetadata{Type: models.KeyTypeECDSA, Bits: 256},
		CAExpiration: models.Validity{Type: models.Duration, Duration: models.TimeDuration(24 * time.Hour)},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var ca models.CACertificate
	decodeJSON(t, w, &ca)

	return ca
}

func (s *httpTestServer) createProfile(t *testing.T) models.IssuanceProfile {
	t.Helper()

	w := s.request(t, http.MethodPost, "/v1/profiles", resources.CreateIssuanceProfileBody{
		Profile: models.IssuanceProfile{
			Name:         "server-tls",
			Validity:     models.Validity{Type: models.Duration, Duration: models.TimeDuration(time.Hour)},
			HonorSubject: true,
			KeyUsage: models.KeyUsagePolicy{
				Policy:   models.ExtensionPolicyFixed,
				KeyUsage: models.X509KeyUsage(x509.KeyUsageDigitalSignature),
			},
			ExtendedKeyUsage: models.ExtKeyUsagePolicy{Policy: models.ExtensionPolicyFixed},
			SubjectAltName:   models.SubjectAltNamePolicy{Policy: models.ExtensionPolicyDefault},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var profile models.IssuanceProfile
	decodeJSON(t, w, &profile)
	require.NotEmpty(t, profile.ID)

	return profile
}

func newCSRFixture(t *testing.T, cn string) *models.X509CertificateRequest {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	csrDER, err := x509.CreateCertificateRequest(rand.Reader, &x509.CertificateRequest{
		Subject: pkix.Name{CommonName: cn},
	}, key)
	require.NoError(t, err)

	csr, err := x509.ParseCertificateRequest(csrDER)
	require.NoError(t, err)

	return (*models.X509CertificateRequest)(csr)
}

func (s *httpTestServer) signLeaf(t *testing.T, caID, profileID, cn string) models.Certificate {
	t.Helper()

	w := s.request(t, http.MethodPost, "/v1/cas/"+caID+"/certificates/sign", resources.SignCertificateBody{
		CertRequest: newCSRFixture(t, cn),
		ProfileID:   profileID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var cert models.Certificate
	decodeJSON(t, w, &cert)

	return cert
}

func TestCARoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "root-http")
	assert.Equal(t, "root-http", ca.ID)
	assert.Equal(t, models.StatusActive, ca.Certificate.Status)
	assert.True(t, ca.Certificate.IsCA)

	w := s.request(t, http.MethodGet, "/v1/cas/root-http", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var fetched models.CACertificate
	decodeJSON(t, w, &fetched)
	assert.Equal(t, ca.Certificate.SerialNumber, fetched.Certificate.SerialNumber)

	w = s.request(t, http.MethodGet, "/v1/cas/sn/"+ca.Certificate.SerialNumber, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, http.MethodGet, "/v1/cas/unknown", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	var problem map[string]string
	decodeJSON(t, w, &problem)
	assert.Contains(t, problem, "err")

	w = s.request(t, http.MethodPost, "/v1/cas", resources.CreateCABody{
		ID:           "root-http",
		Subject:      models.Subject{CommonName: "Duplicate"},
		KeyMetadata:  models.KeyStrengthMetadata{Type: models.KeyTypeECDSA, Bits: 256},
		CAExpiration: models.Validity{Type: models.Duration, Duration: models.TimeDuration(24 * time.Hour)},
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.request(t, http.MethodGet, "/v1/cas", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list resources.IterableList[models.CACertificate]
	decodeJSON(t, w, &list)
	assert.Len(t, list.List, 1)
}

func TestSignCertificateRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "signing-ca")
	profile := s.createProfile(t)

	cert := s.signLeaf(t, ca.ID, profile.ID, "leaf.example.com")
	assert.Equal(t, "leaf.example.com", cert.Subject.CommonName)
	assert.Equal(t, models.StatusActive, cert.Status)
	assert.Equal(t, ca.ID, cert.IssuerCAMetadata.ID)

	w := s.request(t, http.MethodGet, "/v1/certificates/"+cert.SerialNumber, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = s.request(t, http.MethodPost, "/v1/cas/"+ca.ID+"/certificates/sign", resources.SignCertificateBody{
		CertRequest: newCSRFixture(t, "leaf.example.com"),
		ProfileID:   "does-not-exist",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(t, http.MethodPost, "/v1/cas/unknown/certificates/sign", resources.SignCertificateBody{
		CertRequest: newCSRFixture(t, "leaf.example.com"),
		ProfileID:   profile.ID,
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(t, http.MethodPost, "/v1/cas/"+ca.ID+"/certificates/sign", resources.SignCertificateBody{
		CertRequest: newCSRFixture(t, "leaf.example.com"),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = s.request(t, http.MethodGet, "/v1/cas/"+ca.ID+"/certificates", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list resources.IterableList[models.Certificate]
	decodeJSON(t, w, &list)
	assert.Len(t, list.List, 1)
}

func TestCertificateStatusRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "revocation-ca")
	profile := s.createProfile(t)
	cert := s.signLeaf(t, ca.ID, profile.ID, "revoke-me.example.com")

	w := s.request(t, http.MethodPut, "/v1/certificates/"+cert.SerialNumber+"/status", resources.UpdateCertificateStatusBody{
		NewStatus:        models.StatusRevoked,
		RevocationReason: models.RevocationReason(ocsp.Superseded),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var revoked models.Certificate
	decodeJSON(t, w, &revoked)
	assert.Equal(t, models.StatusRevoked, revoked.Status)
	assert.Equal(t, models.RevocationReason(ocsp.Superseded), revoked.RevocationReason)

	w = s.request(t, http.MethodPut, "/v1/certificates/"+cert.SerialNumber+"/status", resources.UpdateCertificateStatusBody{
		NewStatus:        models.StatusRevoked,
		RevocationReason: models.RevocationReason(ocsp.CessationOfOperation),
	})
	require.Equal(t, http.StatusConflict, w.Code)

	w = s.request(t, http.MethodPut, "/v1/certificates/0A-0B/status", resources.UpdateCertificateStatusBody{
		NewStatus:        models.StatusRevoked,
		RevocationReason: models.RevocationReason(ocsp.Superseded),
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestOCSPRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "ocsp-ca")
	profile := s.createProfile(t)
	cert := s.signLeaf(t, ca.ID, profile.ID, "ocsp-leaf.example.com")

	caX509 := (*x509.Certificate)(ca.Certificate.Certificate)
	leafX509 := (*x509.Certificate)(cert.Certificate)

	reqDER, err := ocsp.CreateRequest(leafX509, caX509, nil)
	require.NoError(t, err)

	w := s.request(t, http.MethodGet, "/ocsp/"+base64.URLEncoding.EncodeToString(reqDER), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/ocsp-response", w.Header().Get("Content-Type"))

	resp, err := ocsp.ParseResponse(w.Body.Bytes(), caX509)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)
	assert.Equal(t, 0, resp.SerialNumber.Cmp(leafX509.SerialNumber))

	w = s.requestRaw(t, http.MethodPost, "/ocsp", "application/ocsp-request", reqDER)
	require.Equal(t, http.StatusOK, w.Code)

	resp, err = ocsp.ParseResponse(w.Body.Bytes(), caX509)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Good, resp.Status)

	revokeW := s.request(t, http.MethodPut, "/v1/certificates/"+cert.SerialNumber+"/status", resources.UpdateCertificateStatusBody{
		NewStatus:        models.StatusRevoked,
		RevocationReason: models.RevocationReason(ocsp.Superseded),
	})
	require.Equal(t, http.StatusOK, revokeW.Code)

	w = s.requestRaw(t, http.MethodPost, "/ocsp", "application/ocsp-request", reqDER)
	require.Equal(t, http.StatusOK, w.Code)

	resp, err = ocsp.ParseResponse(w.Body.Bytes(), caX509)
	require.NoError(t, err)
	assert.Equal(t, ocsp.Revoked, resp.Status)
	assert.Equal(t, ocsp.Superseded, resp.RevocationReason)

	// A request for a serial the CA never issued.
	ghostKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	ghostTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(987654321),
		Subject:      pkix.Name{CommonName: "ghost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	ghostDER, err := x509.CreateCertificate(rand.Reader, ghostTmpl, ghostTmpl, &ghostKey.PublicKey, ghostKey)
	require.NoError(t, err)
	ghost, err := x509.ParseCertificate(ghostDER)
	require.NoError(t, err)

	ghostReq, err := ocsp.CreateRequest(ghost, caX509, nil)
	require.NoError(t, err)

	w = s.requestRaw(t, http.MethodPost, "/ocsp", "application/ocsp-request", ghostReq)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(t, http.MethodGet, "/ocsp/!!!not-base64!!!", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/ocsp-response", w.Header().Get("Content-Type"))
	require.Equal(t, ocsp.MalformedRequestErrorResponse, w.Body.Bytes())

	w = s.requestRaw(t, http.MethodPost, "/ocsp", "application/ocsp-request", []byte{0x30, 0x00, 0xFF})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/ocsp-response", w.Header().Get("Content-Type"))
	require.Equal(t, ocsp.MalformedRequestErrorResponse, w.Body.Bytes())
}

func TestCRLRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "crl-ca")
	ski := ca.Certificate.KeyID

	_, err := s.crlSvc.InitCRLRole(context.Background(), ski)
	require.NoError(t, err)

	w := s.request(t, http.MethodGet, "/crl/"+ski, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pkix-crl", w.Header().Get("Content-Type"))

	crl, err := x509.ParseRevocationList(w.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 0, crl.Number.Cmp(big.NewInt(1)))
	assert.Empty(t, crl.RevokedCertificateEntries)
	require.NoError(t, crl.CheckSignatureFrom((*x509.Certificate)(ca.Certificate.Certificate)))

	w = s.request(t, http.MethodGet, "/crl/"+ski+"?version=99", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(t, http.MethodGet, "/crl/ffff0000", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestVARoleRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	ca := s.createCA(t, "role-ca")
	ski := ca.Certificate.KeyID

	type roleDoc struct {
		CASubjectKeyID string
		CAID           string
		CRLOptions     models.VACRLRole
		LatestCRL      struct {
			Version    int64
			ValidFrom  time.Time
			ValidUntil time.Time
		}
	}

	w := s.request(t, http.MethodGet, "/v1/roles/"+ski, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	_, err := s.crlSvc.InitCRLRole(context.Background(), ski)
	require.NoError(t, err)

	w = s.request(t, http.MethodGet, "/v1/roles/"+ski, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var role roleDoc
	decodeJSON(t, w, &role)
	assert.Equal(t, ca.ID, role.CAID)
	assert.Equal(t, ski, role.CASubjectKeyID)
	assert.Equal(t, int64(1), role.LatestCRL.Version)

	w = s.request(t, http.MethodPut, "/v1/roles/"+ski, models.VACRLRole{
		Validity:           models.TimeDuration(48 * time.Hour),
		RefreshInterval:    models.TimeDuration(24 * time.Hour),
		RegenerateOnRevoke: true,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var updated roleDoc
	decodeJSON(t, w, &updated)
	assert.Equal(t, models.TimeDuration(48*time.Hour), updated.CRLOptions.Validity)
	assert.Equal(t, models.TimeDuration(24*time.Hour), updated.CRLOptions.RefreshInterval)
	assert.True(t, updated.CRLOptions.RegenerateOnRevoke)

	w = s.request(t, http.MethodPut, "/v1/roles/ffff0000", models.VACRLRole{
		Validity: models.TimeDuration(48 * time.Hour),
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = s.request(t, http.MethodGet, "/v1/roles", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var list struct {
		Next string    `json:"next"`
		List []roleDoc `json:"list"`
	}
	decodeJSON(t, w, &list)
	assert.Len(t, list.List, 1)
}

func TestACMEDirectoryAndNonceRoutes(t *testing.T) {
	s := setupHTTPServer(t)

	w := s.request(t, http.MethodGet, "/acme/directory", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var dir map[string]json.RawMessage
	decodeJSON(t, w, &dir)
	assert.JSONEq(t, `"https://ca.example.com/acme/new-nonce"`, string(dir["newNonce"]))
	assert.JSONEq(t, `"https://ca.example.com/acme/new-account"`, string(dir["newAccount"]))
	assert.JSONEq(t, `"https://ca.example.com/acme/new-order"`, string(dir["newOrder"]))

	var meta resources.ACMEDirectoryMeta
	require.Contains(t, dir, "meta")
	require.NoError(t, json.Unmarshal(dir["meta"], &meta))
	assert.Equal(t, "https://ca.example.com/terms", meta.TermsOfService)
	assert.Equal(t, "https://ca.example.com", meta.Website)
	assert.Equal(t, []string{"ca.example.com"}, meta.CAAIdentities)

	// One random entry varies per response so clients cannot assume a
	// fixed document layout.
	known := map[string]bool{
		"newNonce": true, "newAccount": true, "newOrder": true,
		"revokeCert": true, "keyChange": true, "meta": true,
	}
	extra := []string{}
	for key := range dir {
		if !known[key] {
			extra = append(extra, key)
		}
	}
	require.Len(t, extra, 1)

	w = s.request(t, http.MethodGet, "/acme/directory", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second map[string]json.RawMessage
	decodeJSON(t, w, &second)
	assert.NotContains(t, second, extra[0])

	w = s.request(t, http.MethodHead, "/acme/new-nonce", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("Replay-Nonce"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	w = s.request(t, http.MethodGet, "/acme/new-nonce", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	nonce := w.Header().Get("Replay-Nonce")
	assert.NotEmpty(t, nonce)

	w = s.request(t, http.MethodGet, "/acme/new-nonce", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEqual(t, nonce, w.Header().Get("Replay-Nonce"))

	// The orders list the account response advertises is served. A body
	// that is not a valid JWS is rejected as malformed, not as an
	// unknown route.
	w = s.requestRaw(t, http.MethodPost, "/acme/acct/some-account/orders", "application/jose+json", []byte("{}"))
	require.NotEqual(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "urn:ietf:params:acme:error:")
}
