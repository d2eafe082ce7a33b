package services

import (
	"context"
	"crypto"
	"crypto/elliptic"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jakehl/goid"
	"github.com/ocelotpki/ocelot/backend/pkg/x509engines"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ocsp"
)

type CAMiddleware func(services.CAService) services.CAService

var validate *validator.Validate

type Engine struct {
	Default bool
	Service cryptoengines.CryptoEngine
}

type CAServiceBackend struct {
	service         services.CAService
	cryptoEngines   map[string]*cryptoengines.CryptoEngine
	defaultEngineID string
	caStorage       storage.CACertificatesRepo
	certStorage     storage.CertificatesRepo
	profileStorage  storage.IssuanceProfileRepo
	serialAllocator *serialAllocator
	vaServerDomains []string
	logger          *logrus.Entry
	x509Engine      x509engines.X509Engine

	// revocationHandler runs after a certificate transitions to REVOKED.
	// Wiring uses it to regenerate CRLs on revocation.
	revocationHandler func(ctx context.Context, cert *models.Certificate)
}

type CAServiceBuilder struct {
	Logger               *logrus.Entry
	CryptoEngines        map[string]*Engine
	CAStorage            storage.CACertificatesRepo
	CertificateStorage   storage.CertificatesRepo
	ProfileStorage       storage.IssuanceProfileRepo
	SerialNumberSettings config.SerialNumberSettings
	VAServerDomains      []string
}

func NewCAService(builder CAServiceBuilder) (services.CAService, error) {
	validate = validator.New()

	engines := map[string]*cryptoengines.CryptoEngine{}
	var defaultEngineID string
	for engineID, engine := range builder.CryptoEngines {
		engines[engineID] = &engine.Service
		if engine.Default {
			defaultEngineID = engineID
		}
	}

	if defaultEngineID == "" {
		return nil, fmt.Errorf("no default crypto engine configured")
	}

	svc := CAServiceBackend{
		cryptoEngines:   engines,
		defaultEngineID: defaultEngineID,
		caStorage:       builder.CAStorage,
		certStorage:     builder.CertificateStorage,
		profileStorage:  builder.ProfileStorage,
		serialAllocator: newSerialAllocator(builder.Logger, builder.SerialNumberSettings, builder.CertificateStorage, builder.CAStorage),
		vaServerDomains: builder.VAServerDomains,
		logger:          builder.Logger,
		x509Engine:      x509engines.NewX509Engine(builder.Logger, builder.VAServerDomains),
	}

	svc.service = &svc

	return &svc, nil
}

func (svc *CAServiceBackend) SetService(service services.CAService) {
	svc.service = service
}

func (svc *CAServiceBackend) SetRevocationHandler(handler func(ctx context.Context, cert *models.Certificate)) {
	svc.revocationHandler = handler
}

func (svc *CAServiceBackend) GetStats(ctx context.Context) (*models.CAStats, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	certsStatus := map[models.CertificateStatus]int{}
	for _, status := range []models.CertificateStatus{models.StatusActive, models.StatusExpired, models.StatusRevoked} {
		lFunc.Debugf("counting certificates in %s status", status)
		ctr, err := svc.certStorage.CountByCAIDAndStatus(ctx, "", status)
		if err != nil {
			ctr = 0
		}

		certsStatus[status] = ctr
	}

	lFunc.Debugf("counting total number of CAs")
	totalCAs, err := svc.caStorage.Count(ctx)
	if err != nil {
		lFunc.Errorf("could not count total number of CAs: %s", err)
		return nil, err
	}

	lFunc.Debugf("counting total number of certificates")
	totalCerts, err := svc.certStorage.Count(ctx)
	if err != nil {
		lFunc.Errorf("could not count total number of certificates: %s", err)
		return nil, err
	}

	return &models.CAStats{
		TotalCAs:          totalCAs,
		TotalCertificates: totalCerts,
		CertificateStatus: certsStatus,
	}, nil
}

func (svc *CAServiceBackend) GetCryptoEngineProvider(ctx context.Context) ([]*models.CryptoEngineProvider, error) {
	info := []*models.CryptoEngineProvider{}
	for engineID, engine := range svc.cryptoEngines {
		engineInstance := *engine
		engineInfo := engineInstance.GetEngineConfig()
		info = append(info, &models.CryptoEngineProvider{
			CryptoEngineInfo: engineInfo,
			ID:               engineID,
			Default:          engineID == svc.defaultEngineID,
		})
	}

	return info, nil
}

func (svc *CAServiceBackend) CreateCA(ctx context.Context, input services.CreateCAInput) (*models.CACertificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)
	if input.Metadata == nil {
		input.Metadata = map[string]any{}
	}

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("CreateCAInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	caID := input.ID
	if caID == "" {
		caID = goid.NewV4UUID().String()
	}

	exists, _, err := svc.caStorage.SelectExistsByID(ctx, caID)
	if err != nil {
		lFunc.Errorf("could not check if CA %s exists: %s", caID, err)
		return nil, err
	}

	if exists {
		lFunc.Errorf("cannot create duplicate CA. CA with ID '%s' already exists", caID)
		return nil, errs.ErrCAAlreadyExists
	}

	lFunc.Debugf("creating CA with common name: %s", input.Subject.CommonName)
	engineID, engine, err := svc.getCryptoEngine(input.EngineID)
	if err != nil {
		lFunc.Errorf("could not get engine %s: %s", input.EngineID, err)
		return nil, err
	}

	keyID, signer, err := generateKeyPair(engine, input.KeyMetadata)
	if err != nil {
		lFunc.Errorf("could not generate CA %s private key: %s", input.Subject.CommonName, err)
		return nil, err
	}

	var ca *x509.Certificate
	var caLevel int
	var issuerCAMeta models.IssuerCAMetadata

	if input.ParentID == "" {
		// Root CA, self signed.
		sn, err := svc.serialAllocator.AllocateRandom(ctx, caID)
		if err != nil {
			return nil, err
		}

		ca, err = svc.x509Engine.CreateRootCA(ctx, signer, keyID, input.Subject, input.CAExpiration, sn)
		if err != nil {
			lFunc.Errorf("could not create CA %s certificate: %s", input.Subject.CommonName, err)
			return nil, err
		}

		caLevel = 0
		issuerCAMeta = models.IssuerCAMetadata{
			SN:    helpers.SerialNumberToString(ca.SerialNumber),
			ID:    caID,
			Level: 0,
		}
	} else {
		// Subordinate CA, signed by the parent.
		exists, parentCA, err := svc.caStorage.SelectExistsByID(ctx, input.ParentID)
		if err != nil {
			lFunc.Errorf("could not check if parent CA %s exists: %s", input.ParentID, err)
			return nil, err
		}

		if !exists {
			lFunc.Errorf("parent CA %s does not exist", input.ParentID)
			return nil, errs.ErrCANotFound
		}

		if parentCA.Certificate.Status != models.StatusActive {
			lFunc.Errorf("parent CA %s is not active", input.ParentID)
			return nil, errs.ErrCAStatus
		}

		var caExpiration time.Time
		if input.CAExpiration.Type == models.Duration {
			caExpiration = time.Now().Add(time.Duration(input.CAExpiration.Duration))
		} else {
			caExpiration = input.CAExpiration.Time
		}

		if parentCA.Certificate.ValidTo.Before(caExpiration) {
			lFunc.Errorf("requested CA would expire after parent CA")
			return nil, errs.ErrCAIncompatibleValidity
		}

		caCSR, err := svc.x509Engine.GenerateCertificateRequest(ctx, signer, input.Subject)
		if err != nil {
			lFunc.Errorf("could not create CA %s CSR: %s", input.Subject.CommonName, err)
			return nil, err
		}

		caProfile := svc.x509Engine.GetDefaultCAIssuanceProfile(ctx, input.CAExpiration)
		signedCA, err := svc.service.SignCertificate(ctx, services.SignCertificateInput{
			CAID:            input.ParentID,
			CertRequest:     (*models.X509CertificateRequest)(caCSR),
			IssuanceProfile: &caProfile,
		})
		if err != nil {
			lFunc.Errorf("could not sign CA %s certificate: %s", input.Subject.CommonName, err)
			return nil, err
		}

		ca = (*x509.Certificate)(signedCA.Certificate)
		caLevel = parentCA.Level + 1
		issuerCAMeta = models.IssuerCAMetadata{
			SN:    parentCA.Certificate.SerialNumber,
			ID:    parentCA.ID,
			Level: parentCA.Level,
		}
	}

	sequentialBase, err := seedSequentialBase()
	if err != nil {
		return nil, err
	}

	caCert := models.CACertificate{
		ID:                   caID,
		Metadata:             input.Metadata,
		Validity:             input.CAExpiration,
		CreationTS:           time.Now(),
		Level:                caLevel,
		NextSequentialSerial: sequentialBase,
		OCSPURLs:             input.OCSPURLs,
		CRLURLs:              input.CRLURLs,
		Certificate: models.Certificate{
			KeyID:        keyID,
			Certificate:  (*models.X509Certificate)(ca),
			Status:       models.StatusActive,
			SerialNumber: helpers.SerialNumberToString(ca.SerialNumber),
			KeyMetadata: models.KeyStrengthMetadata{
				Type: input.KeyMetadata.Type,
				Bits: input.KeyMetadata.Bits,
			},
			Subject:             input.Subject,
			ValidFrom:           ca.NotBefore,
			ValidTo:             ca.NotAfter,
			RevocationTimestamp: time.Time{},
			IssuerCAMetadata:    issuerCAMeta,
			Metadata:            map[string]interface{}{},
			Type:                models.CertificateTypeManaged,
			EngineID:            engineID,
			IsCA:                true,
		},
	}

	lFunc.Debugf("insert CA %s in storage engine", caID)
	return svc.caStorage.Insert(ctx, &caCert)
}

func (svc *CAServiceBackend) GetCAByID(ctx context.Context, input services.GetCAByIDInput) (*models.CACertificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCAByIDInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	lFunc.Debugf("checking if CA '%s' exists", input.CAID)
	exists, ca, err := svc.caStorage.SelectExistsByID(ctx, input.CAID)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.CAID, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("CA %s can not be found in storage engine", input.CAID)
		return nil, errs.ErrCANotFound
	}

	return ca, nil
}

func (svc *CAServiceBackend) GetCAs(ctx context.Context, input services.GetCAsInput) (string, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	nextBookmark, err := svc.caStorage.SelectAll(ctx, storage.StorageListRequest[models.CACertificate]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
	if err != nil {
		lFunc.Errorf("something went wrong while reading all CAs from storage engine: %s", err)
		return "", err
	}

	return nextBookmark, nil
}

func (svc *CAServiceBackend) GetCABySerialNumber(ctx context.Context, input services.GetCABySerialNumberInput) (*models.CACertificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCABySerialNumberInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, ca, err := svc.caStorage.SelectExistsBySerialNumber(ctx, input.SerialNumber)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.SerialNumber, err)
		return nil, err
	}

	if !exists {
		return nil, errs.ErrCANotFound
	}

	return ca, nil
}

// UpdateCAStatus transitions a CA to REVOKED or INACTIVE. Revocation of a CA
// cascades to every certificate it issued. CAs are never deleted so issued
// certificates always keep a resolvable issuer.
func (svc *CAServiceBackend) UpdateCAStatus(ctx context.Context, input services.UpdateCAStatusInput) (*models.CACertificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateCAStatusInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, ca, err := svc.caStorage.SelectExistsByID(ctx, input.CAID)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.CAID, err)
		return nil, err
	}

	if !exists {
		return nil, errs.ErrCANotFound
	}

	if ca.Certificate.Status == models.StatusRevoked {
		lFunc.Errorf("CA %s is already revoked", input.CAID)
		return nil, errs.ErrCAAlreadyRevoked
	}

	if input.Status != models.StatusRevoked && input.Status != models.StatusInactive {
		lFunc.Errorf("CA status can only transition to REVOKED or INACTIVE, got %s", input.Status)
		return nil, errs.ErrCAStatus
	}

	ca.Certificate.Status = input.Status

	if input.Status == models.StatusRevoked {
		ca.Certificate.RevocationReason = input.RevocationReason
		ca.Certificate.RevocationTimestamp = time.Now()

		lFunc.Infof("CA %s revoked with reason %s. Revoking issued certificates", input.CAID, input.RevocationReason)
		_, err = svc.certStorage.SelectByCA(ctx, ca.ID, storage.StorageListRequest[models.Certificate]{
			ExhaustiveRun: true,
			ApplyFunc: func(cert models.Certificate) {
				if cert.Status == models.StatusActive {
					_, innerErr := svc.service.UpdateCertificateStatus(ctx, services.UpdateCertificateStatusInput{
						SerialNumber:     cert.SerialNumber,
						NewStatus:        models.StatusRevoked,
						RevocationReason: ocsp.CACompromise,
					})
					if innerErr != nil {
						lFunc.Errorf("could not revoke certificate %s: %s", cert.SerialNumber, innerErr)
					}
				}
			},
		})
		if err != nil {
			lFunc.Errorf("could not iterate certificates of CA %s: %s", ca.ID, err)
			return nil, err
		}
	}

	return svc.caStorage.Update(ctx, ca)
}

func (svc *CAServiceBackend) UpdateCAMetadata(ctx context.Context, input services.UpdateCAMetadataInput) (*models.CACertificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateCAMetadataInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, ca, err := svc.caStorage.SelectExistsByID(ctx, input.CAID)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.CAID, err)
		return nil, err
	}

	if !exists {
		return nil, errs.ErrCANotFound
	}

	ca.Metadata = input.Metadata
	return svc.caStorage.Update(ctx, ca)
}

// SignCertificate issues a leaf (or subordinate CA) certificate from a CSR
// under the policy of an issuance profile.
func (svc *CAServiceBackend) SignCertificate(ctx context.Context, input services.SignCertificateInput) (*models.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("SignCertificateInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, ca, err := svc.caStorage.SelectExistsByID(ctx, input.CAID)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.CAID, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("CA %s can not be found in storage engine", input.CAID)
		return nil, errs.ErrCANotFound
	}

	if ca.Certificate.Status != models.StatusActive {
		lFunc.Errorf("CA %s is not active. Current status: %s", input.CAID, ca.Certificate.Status)
		return nil, errs.ErrCAStatus
	}

	caCert := (*x509.Certificate)(ca.Certificate.Certificate)
	if time.Now().After(caCert.NotAfter) {
		lFunc.Errorf("CA %s is expired", input.CAID)
		return nil, errs.ErrCAExpired
	}

	var profile models.IssuanceProfile
	if input.IssuanceProfile != nil {
		profile = *input.IssuanceProfile
	} else {
		if input.ProfileID == "" {
			lFunc.Errorf("no issuance profile provided")
			return nil, errs.ErrValidateBadRequest
		}

		profileExists, storedProfile, err := svc.profileStorage.SelectByID(ctx, input.ProfileID)
		if err != nil {
			lFunc.Errorf("could not read issuance profile %s: %s", input.ProfileID, err)
			return nil, err
		}

		if !profileExists {
			lFunc.Errorf("issuance profile %s can not be found in storage engine", input.ProfileID)
			return nil, errs.ErrIssuanceProfileNotFound
		}

		profile = *storedProfile
	}

	engine, err := svc.getCryptoEngineByID(ca.Certificate.EngineID)
	if err != nil {
		lFunc.Errorf("could not get crypto engine %s: %s", ca.Certificate.EngineID, err)
		return nil, err
	}

	caSigner, err := engine.GetPrivateKeyByID(ca.Certificate.KeyID)
	if err != nil {
		lFunc.Errorf("could not get CA %s signing key: %s", input.CAID, err)
		return nil, errs.ErrKeyNotFound
	}

	sn, err := svc.serialAllocator.Allocate(ctx, input.CAID)
	if err != nil {
		return nil, err
	}

	csr := (*x509.CertificateRequest)(input.CertRequest)
	signedCert, err := svc.x509Engine.SignCertificateRequest(ctx, x509engines.SignRequest{
		CSR:          csr,
		CACert:       caCert,
		CASigner:     caSigner,
		Profile:      profile,
		SerialNumber: sn,
		Validity:     input.Validity,
	})
	if err != nil {
		lFunc.Errorf("could not sign certificate request: %s", err)
		return nil, err
	}

	cert := models.Certificate{
		Certificate:  (*models.X509Certificate)(signedCert),
		SerialNumber: helpers.SerialNumberToString(signedCert.SerialNumber),
		KeyID:        "",
		Metadata:     map[string]interface{}{},
		Status:       models.StatusActive,
		KeyMetadata:  helpers.PublicKeyMetadata(signedCert.PublicKey),
		Subject:      helpers.PkixNameToSubject(signedCert.Subject),
		ValidFrom:    signedCert.NotBefore,
		ValidTo:      signedCert.NotAfter,
		IssuerCAMetadata: models.IssuerCAMetadata{
			SN:    ca.Certificate.SerialNumber,
			ID:    ca.ID,
			Level: ca.Level,
		},
		Type:      models.CertificateTypeManaged,
		EngineID:  ca.Certificate.EngineID,
		ProfileID: input.ProfileID,
		IsCA:      signedCert.IsCA,
	}

	lFunc.Debugf("insert certificate %s in storage engine", cert.SerialNumber)
	return svc.certStorage.Insert(ctx, &cert)
}

func (svc *CAServiceBackend) ImportCertificate(ctx context.Context, input services.ImportCertificateInput) (*models.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("ImportCertificateInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	if input.Metadata == nil {
		input.Metadata = map[string]any{}
	}

	x509Cert := (*x509.Certificate)(input.Certificate)
	status := models.StatusActive
	if time.Now().After(x509Cert.NotAfter) {
		status = models.StatusExpired
	}

	cert := models.Certificate{
		Certificate:  input.Certificate,
		SerialNumber: helpers.SerialNumberToString(x509Cert.SerialNumber),
		Metadata:     input.Metadata,
		Status:       status,
		KeyMetadata:  helpers.PublicKeyMetadata(x509Cert.PublicKey),
		Subject:      helpers.PkixNameToSubject(x509Cert.Subject),
		ValidFrom:    x509Cert.NotBefore,
		ValidTo:      x509Cert.NotAfter,
		Type:         models.CertificateTypeExternal,
		IsCA:         x509Cert.IsCA,
	}

	// Link the issuer if this platform manages it.
	akid := fmt.Sprintf("%x", x509Cert.AuthorityKeyId)
	if akid != "" {
		issuerExists, issuerCA, err := svc.caStorage.SelectExistsBySubjectKeyID(ctx, akid)
		if err == nil && issuerExists {
			cert.IssuerCAMetadata = models.IssuerCAMetadata{
				SN:    issuerCA.Certificate.SerialNumber,
				ID:    issuerCA.ID,
				Level: issuerCA.Level,
			}
			cert.Type = models.CertificateTypeImported
		}
	}

	lFunc.Debugf("importing certificate %s", cert.SerialNumber)
	return svc.certStorage.Insert(ctx, &cert)
}

// Returned Error Codes:
//   - ErrCertificateNotFound
//     The specified Certificate can not be found in the Database
//   - ErrValidateBadRequest
//     The required variables of the data structure are not valid.
func (svc *CAServiceBackend) GetCertificateBySerialNumber(ctx context.Context, input services.GetCertificatesBySerialNumberInput) (*models.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCertificatesBySerialNumberInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	lFunc.Debugf("checking if Certificate '%s' exists", input.SerialNumber)
	exists, cert, err := svc.certStorage.SelectExistsBySerialNumber(ctx, input.SerialNumber)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if Certificate '%s' exists in storage engine: %s", input.SerialNumber, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("certificate %s can not be found in storage engine", input.SerialNumber)
		return nil, errs.ErrCertificateNotFound
	}

	return cert, nil
}

func (svc *CAServiceBackend) GetCertificates(ctx context.Context, input services.GetCertificatesInput) (string, error) {
	return svc.certStorage.SelectAll(ctx, storage.StorageListRequest[models.Certificate]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
}

// Returned Error Codes:
//   - ErrCANotFound
//     The specified CA can not be found in the Database
//   - ErrValidateBadRequest
//     The required variables of the data structure are not valid.
func (svc *CAServiceBackend) GetCertificatesByCA(ctx context.Context, input services.GetCertificatesByCAInput) (string, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCertificatesByCAInput struct validation error: %s", err)
		return "", errs.ErrValidateBadRequest
	}

	lFunc.Debugf("checking if CA '%s' exists", input.CAID)
	exists, _, err := svc.caStorage.SelectExistsByID(ctx, input.CAID)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if CA '%s' exists in storage engine: %s", input.CAID, err)
		return "", err
	}

	if !exists {
		lFunc.Errorf("CA %s can not be found in storage engine", input.CAID)
		return "", errs.ErrCANotFound
	}

	lFunc.Debugf("reading certificates by %s CA", input.CAID)
	return svc.certStorage.SelectByCA(ctx, input.CAID, storage.StorageListRequest[models.Certificate]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
}

func (svc *CAServiceBackend) GetCertificatesByStatus(ctx context.Context, input services.GetCertificatesByStatusInput) (string, error) {
	return svc.certStorage.SelectByStatus(ctx, input.Status, storage.StorageListRequest[models.Certificate]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
}

func (svc *CAServiceBackend) GetCertificatesByExpirationDate(ctx context.Context, input services.GetCertificatesByExpirationDateInput) (string, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	expiresAfter := time.Unix(input.ExpiresAfter, 0)
	expiresBefore := time.Unix(input.ExpiresBefore, 0)

	lFunc.Debugf("reading certificates by expiration date. expiresafter: %s. expiresbefore: %s", expiresAfter, expiresBefore)
	return svc.certStorage.SelectByExpirationDate(ctx, expiresBefore, expiresAfter, storage.StorageListRequest[models.Certificate]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
}

// UpdateCertificateStatus drives the revocation state machine. Revocation is
// one way: a revoked certificate never becomes active again. Re-revoking
// with the same reason is a no-op. The only reason change accepted is an
// escalation to KeyCompromise.
//
// Returned Error Codes:
//   - ErrCertificateNotFound
//     The specified Certificate can not be found in the Database
//   - ErrCertificateStatusTransitionNotAllowed
//     The specified status is not valid for this certificate due to its initial status
//   - ErrCertificateAlreadyRevoked
//     The certificate is revoked and the requested change is not an allowed escalation
//   - ErrValidateBadRequest
//     The required variables of the data structure are not valid.
func (svc *CAServiceBackend) UpdateCertificateStatus(ctx context.Context, input services.UpdateCertificateStatusInput) (*models.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateCertificateStatus struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	lFunc.Debugf("checking if certificate '%s' exists", input.SerialNumber)
	exists, cert, err := svc.certStorage.SelectExistsBySerialNumber(ctx, input.SerialNumber)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if certificate '%s' exists in storage engine: %s", input.SerialNumber, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("certificate %s can not be found in storage engine", input.SerialNumber)
		return nil, errs.ErrCertificateNotFound
	}

	if cert.Status == models.StatusExpired {
		lFunc.Errorf("cannot update an expired certificate")
		return nil, errs.ErrCertificateStatusTransitionNotAllowed
	}

	if cert.Status == models.StatusRevoked {
		if input.NewStatus != models.StatusRevoked {
			lFunc.Errorf("cannot transition certificate %s out of REVOKED", input.SerialNumber)
			return nil, errs.ErrCertificateStatusTransitionNotAllowed
		}

		if input.RevocationReason == cert.RevocationReason {
			// Idempotent re-revocation with the same reason.
			return cert, nil
		}

		if input.RevocationReason != ocsp.KeyCompromise {
			lFunc.Errorf("certificate %s already revoked with reason %s. Only escalation to KeyCompromise is allowed", input.SerialNumber, cert.RevocationReason)
			return nil, errs.ErrCertificateAlreadyRevoked
		}

		lFunc.Infof("escalating revocation reason of certificate %s from %s to KeyCompromise", input.SerialNumber, cert.RevocationReason)
		cert.RevocationReason = ocsp.KeyCompromise
		return svc.certStorage.Update(ctx, cert)
	}

	if input.NewStatus != models.StatusRevoked {
		lFunc.Errorf("unsupported status transition %s -> %s", cert.Status, input.NewStatus)
		return nil, errs.ErrCertificateStatusTransitionNotAllowed
	}

	rrb, _ := input.RevocationReason.MarshalText()
	lFunc.Infof("certificate with SN %s issued by CA with ID %s is being revoked with revocation reason %d - %s", input.SerialNumber, cert.IssuerCAMetadata.ID, input.RevocationReason, string(rrb))
	cert.Status = models.StatusRevoked
	cert.RevocationReason = input.RevocationReason
	cert.RevocationTimestamp = time.Now()

	updated, err := svc.certStorage.Update(ctx, cert)
	if err != nil {
		return nil, err
	}

	if svc.revocationHandler != nil {
		svc.revocationHandler(ctx, updated)
	}

	return updated, nil
}

// Returned Error Codes:
//   - ErrCertificateNotFound
//     The specified Certificate can not be found in the Database
//   - ErrValidateBadRequest
//     The required variables of the data structure are not valid.
func (svc *CAServiceBackend) UpdateCertificateMetadata(ctx context.Context, input services.UpdateCertificateMetadataInput) (*models.Certificate, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateCertificateMetadataInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	lFunc.Debugf("checking if certificate '%s' exists", input.SerialNumber)
	exists, cert, err := svc.certStorage.SelectExistsBySerialNumber(ctx, input.SerialNumber)
	if err != nil {
		lFunc.Errorf("something went wrong while checking if certificate '%s' exists in storage engine: %s", input.SerialNumber, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("certificate %s can not be found in storage engine", input.SerialNumber)
		return nil, errs.ErrCertificateNotFound
	}

	cert.Metadata = input.Metadata
	lFunc.Debugf("updating %s certificate metadata", input.SerialNumber)
	return svc.certStorage.Update(ctx, cert)
}

func (svc *CAServiceBackend) CreateIssuanceProfile(ctx context.Context, input services.CreateIssuanceProfileInput) (*models.IssuanceProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("CreateIssuanceProfileInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	profile := input.Profile
	if profile.ID == "" {
		profile.ID = goid.NewV4UUID().String()
	}

	lFunc.Debugf("creating issuance profile %s", profile.ID)
	return svc.profileStorage.Insert(ctx, &profile)
}

func (svc *CAServiceBackend) GetIssuanceProfileByID(ctx context.Context, input services.GetIssuanceProfileByIDInput) (*models.IssuanceProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetIssuanceProfileByIDInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, profile, err := svc.profileStorage.SelectByID(ctx, input.ProfileID)
	if err != nil {
		lFunc.Errorf("could not read issuance profile %s: %s", input.ProfileID, err)
		return nil, err
	}

	if !exists {
		return nil, errs.ErrIssuanceProfileNotFound
	}

	return profile, nil
}

func (svc *CAServiceBackend) GetIssuanceProfiles(ctx context.Context, input services.GetIssuanceProfilesInput) (string, error) {
	return svc.profileStorage.SelectAll(ctx, storage.StorageListRequest[models.IssuanceProfile]{
		ExhaustiveRun: input.ExhaustiveRun,
		ApplyFunc:     input.ApplyFunc,
		QueryParams:   input.QueryParameters,
		ExtraOpts:     nil,
	})
}

func (svc *CAServiceBackend) UpdateIssuanceProfile(ctx context.Context, input services.UpdateIssuanceProfileInput) (*models.IssuanceProfile, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("UpdateIssuanceProfileInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, _, err := svc.profileStorage.SelectByID(ctx, input.Profile.ID)
	if err != nil {
		lFunc.Errorf("could not read issuance profile %s: %s", input.Profile.ID, err)
		return nil, err
	}

	if !exists {
		return nil, errs.ErrIssuanceProfileNotFound
	}

	// Profiles become immutable once a certificate was issued under them,
	// otherwise the issuance policy of live certificates could be rewritten
	// after the fact.
	issued, err := svc.certStorage.CountByProfile(ctx, input.Profile.ID)
	if err != nil {
		lFunc.Errorf("could not count certificates issued under profile %s: %s", input.Profile.ID, err)
		return nil, err
	}

	if issued > 0 {
		lFunc.Errorf("issuance profile %s is referenced by %d certificates", input.Profile.ID, issued)
		return nil, errs.ErrIssuanceProfileInUse
	}

	profile := input.Profile
	return svc.profileStorage.Update(ctx, &profile)
}

func (svc *CAServiceBackend) DeleteIssuanceProfile(ctx context.Context, input services.DeleteIssuanceProfileInput) error {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := validate.Struct(input)
	if err != nil {
		lFunc.Errorf("DeleteIssuanceProfileInput struct validation error: %s", err)
		return errs.ErrValidateBadRequest
	}

	exists, _, err := svc.profileStorage.SelectByID(ctx, input.ProfileID)
	if err != nil {
		lFunc.Errorf("could not read issuance profile %s: %s", input.ProfileID, err)
		return err
	}

	if !exists {
		return errs.ErrIssuanceProfileNotFound
	}

	issued, err := svc.certStorage.CountByProfile(ctx, input.ProfileID)
	if err != nil {
		lFunc.Errorf("could not count certificates issued under profile %s: %s", input.ProfileID, err)
		return err
	}

	if issued > 0 {
		lFunc.Errorf("issuance profile %s is referenced by %d certificates", input.ProfileID, issued)
		return errs.ErrIssuanceProfileInUse
	}

	return svc.profileStorage.Delete(ctx, input.ProfileID)
}

func (svc *CAServiceBackend) getCryptoEngine(engineID string) (string, cryptoengines.CryptoEngine, error) {
	if engineID == "" {
		engineID = svc.defaultEngineID
	}

	engine, err := svc.getCryptoEngineByID(engineID)
	if err != nil {
		return "", nil, err
	}

	return engineID, engine, nil
}

func (svc *CAServiceBackend) getCryptoEngineByID(engineID string) (cryptoengines.CryptoEngine, error) {
	enginePtr, ok := svc.cryptoEngines[engineID]
	if !ok {
		return nil, errs.ErrCryptoEngineNotFound
	}

	return *enginePtr, nil
}

func generateKeyPair(engine cryptoengines.CryptoEngine, keyMeta models.KeyStrengthMetadata) (string, crypto.Signer, error) {
	switch keyMeta.Type {
	case models.KeyTypeRSA:
		return engine.CreateRSAPrivateKey(keyMeta.Bits)
	case models.KeyTypeECDSA:
		curve, err := curveFromBits(keyMeta.Bits)
		if err != nil {
			return "", nil, err
		}
		return engine.CreateECDSAPrivateKey(curve)
	case models.KeyTypeEd25519:
		return engine.CreateEd25519PrivateKey()
	default:
		return "", nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedKeyType, keyMeta.Type)
	}
}

func curveFromBits(bits int) (elliptic.Curve, error) {
	switch bits {
	case 224:
		return elliptic.P224(), nil
	case 256:
		return elliptic.P256(), nil
	case 384:
		return elliptic.P384(), nil
	case 521:
		return elliptic.P521(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported ECDSA size %d", errs.ErrUnsupportedKeyType, bits)
	}
}
