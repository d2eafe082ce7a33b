package services

import (
	"context"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
)

var crlValidate *validator.Validate

type CRLServiceBackend struct {
	caSDK     services.CAService
	caStorage storage.CACertificatesRepo
	engines   map[string]*cryptoengines.CryptoEngine
	logger    *logrus.Entry
	vaRepo    storage.VARepo
	service   services.CRLService
	bucket    *blob.Bucket
	vaDomains []string

	defaultValidity        models.TimeDuration
	defaultRefreshInterval models.TimeDuration
	regenerateOnRevoke     bool
}

type CRLServiceBuilder struct {
	VARepo        storage.VARepo
	Logger        *logrus.Entry
	CAClient      services.CAService
	CAStorage     storage.CACertificatesRepo
	CryptoEngines map[string]*cryptoengines.CryptoEngine
	Bucket        *blob.Bucket
	VADomains     []string

	CRLValidity        models.TimeDuration
	CRLRefreshInterval models.TimeDuration
	RegenerateOnRevoke bool
}

type CRLMiddleware func(services.CRLService) services.CRLService

func NewCRLService(builder CRLServiceBuilder) (services.CRLService, error) {
	crlValidate = validator.New()

	validity := builder.CRLValidity
	if validity <= 0 {
		validity = models.TimeDuration(7 * 24 * time.Hour)
	}

	refreshInterval := builder.CRLRefreshInterval
	if refreshInterval <= 0 {
		refreshInterval = models.TimeDuration(6*24*time.Hour + 23*time.Hour)
	}

	svc := &CRLServiceBackend{
		caSDK:                  builder.CAClient,
		caStorage:              builder.CAStorage,
		engines:                builder.CryptoEngines,
		logger:                 builder.Logger,
		vaRepo:                 builder.VARepo,
		bucket:                 builder.Bucket,
		vaDomains:              builder.VADomains,
		defaultValidity:        validity,
		defaultRefreshInterval: refreshInterval,
		regenerateOnRevoke:     builder.RegenerateOnRevoke,
	}

	svc.service = svc

	return svc, nil
}

func (svc *CRLServiceBackend) SetService(service services.CRLService) {
	svc.service = service
}

func (svc *CRLServiceBackend) GetCRL(ctx context.Context, input services.GetCRLInput) ([]byte, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := crlValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("GetCRLInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	versionStr := input.CRLVersion
	if versionStr == "" || versionStr == "latest" {
		exists, role, err := svc.vaRepo.Get(ctx, input.CASubjectKeyID)
		if err != nil {
			lFunc.Errorf("something went wrong while reading VA role: %s", err)
			return nil, err
		}

		if !exists {
			lFunc.Errorf("VA role for CA %s does not exist", input.CASubjectKeyID)
			return nil, errs.ErrVARoleNotFound
		}

		versionStr = role.LatestCRL.Version.String()
	}

	crlPem, err := svc.bucket.ReadAll(ctx, crlBucketKey(input.CASubjectKeyID, versionStr))
	if err != nil {
		lFunc.Errorf("something went wrong while reading CRL: %s", err)
		return nil, errs.ErrCRLNotFound
	}

	crlDer, _ := pem.Decode(crlPem)
	if crlDer == nil {
		lFunc.Errorf("stored CRL for CA %s version %s is not PEM encoded", input.CASubjectKeyID, versionStr)
		return nil, errs.ErrCRLNotFound
	}

	return crlDer.Bytes, nil
}

// InitCRLRole creates the CRL publication role of a CA and publishes its
// first, possibly empty, CRL.
func (svc *CRLServiceBackend) InitCRLRole(ctx context.Context, caSubjectKeyID string) (*models.VARole, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	exists, ca, err := svc.caStorage.SelectExistsBySubjectKeyID(ctx, caSubjectKeyID)
	if err != nil {
		lFunc.Errorf("something went wrong while reading CA %s: %s", caSubjectKeyID, err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("CA with subject key ID %s not found", caSubjectKeyID)
		return nil, errs.ErrCANotFound
	}

	role, err := svc.vaRepo.Insert(ctx, &models.VARole{
		CASubjectKeyID: caSubjectKeyID,
		CAID:           ca.ID,
		CRLOptions: models.VACRLRole{
			Validity:           svc.defaultValidity,
			RefreshInterval:    svc.defaultRefreshInterval,
			RegenerateOnRevoke: svc.regenerateOnRevoke,
		},
		LatestCRL: models.LatestCRLMeta{
			Version:   models.BigInt{Int: big.NewInt(0)},
			ValidFrom: time.Now(),
		},
	})
	if err != nil {
		return nil, err
	}

	_, err = svc.service.CalculateCRL(ctx, services.CalculateCRLInput{
		CASubjectKeyID: caSubjectKeyID,
	})
	if err != nil {
		lFunc.Errorf("something went wrong while calculating first CRL: %s", err)
		return nil, err
	}

	return role, nil
}

// CalculateCRL builds, signs and publishes a fresh CRL for a CA. CRL numbers
// are strictly increasing so clients can detect replays of older lists.
func (svc *CRLServiceBackend) CalculateCRL(ctx context.Context, input services.CalculateCRLInput) (*x509.RevocationList, error) {
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	err := crlValidate.Struct(input)
	if err != nil {
		lFunc.Errorf("CalculateCRLInput struct validation error: %s", err)
		return nil, errs.ErrValidateBadRequest
	}

	exists, vaRole, err := svc.vaRepo.Get(ctx, input.CASubjectKeyID)
	if err != nil {
		lFunc.Errorf("something went wrong while reading VA role: %s", err)
		return nil, err
	}

	if !exists {
		lFunc.Errorf("VA role for CA %s does not exist", input.CASubjectKeyID)
		return nil, errs.ErrVARoleNotFound
	}

	caExists, crlCA, err := svc.caStorage.SelectExistsBySubjectKeyID(ctx, input.CASubjectKeyID)
	if err != nil {
		lFunc.Errorf("something went wrong while reading CA %s: %s", input.CASubjectKeyID, err)
		return nil, err
	}

	if !caExists {
		lFunc.Errorf("CA with subject key ID %s not found", input.CASubjectKeyID)
		return nil, errs.ErrCANotFound
	}

	certList := []x509.RevocationListEntry{}
	lFunc.Debugf("reading revoked certificates of CA %s", crlCA.ID)
	_, err = svc.caSDK.GetCertificatesByCA(ctx, services.GetCertificatesByCAInput{
		CAID:          crlCA.ID,
		ExhaustiveRun: true,
		ApplyFunc: func(cert models.Certificate) {
			if cert.Status != models.StatusRevoked {
				return
			}

			sn, err := helpers.SerialNumberFromString(cert.SerialNumber)
			if err != nil {
				lFunc.Warnf("skipping certificate with malformed serial number %s", cert.SerialNumber)
				return
			}

			certList = append(certList, x509.RevocationListEntry{
				SerialNumber:   sn,
				RevocationTime: cert.RevocationTimestamp,
				Extensions:     []pkix.Extension{},
				ReasonCode:     int(cert.RevocationReason),
			})
		},
	})
	if err != nil {
		lFunc.Errorf("something went wrong while reading CA %s certificates: %s", crlCA.ID, err)
		return nil, err
	}

	crlSigner, err := resolveSigner(svc.engines, crlCA, vaRole.CRLOptions.KeyIDSigner)
	if err != nil {
		lFunc.Errorf("could not get CRL signing key of CA %s: %s", crlCA.ID, err)
		return nil, err
	}

	caCert := (*x509.Certificate)(crlCA.Certificate.Certificate)
	crlIssuer := caCert
	if vaRole.CRLOptions.KeyIDSigner != "" {
		// A delegated key signs under a CRL signer certificate issued by the
		// CA, so the list's issuer matches the key that signed it.
		crlIssuer, err = delegatedSignerCertificate(svc.engines, crlCA, vaRole.CRLOptions.KeyIDSigner,
			caCert.Subject.CommonName+" CRL Signer",
			x509.KeyUsageCRLSign, nil)
		if err != nil {
			lFunc.Errorf("could not get delegated CRL signer certificate of CA %s: %s", crlCA.ID, err)
			return nil, err
		}
	}

	extensions := []pkix.Extension{}
	idp, err := svc.getDistributionPointExtension(input.CASubjectKeyID)
	if err != nil {
		lFunc.Errorf("something went wrong while creating Issuing Distribution Point extension: %s", err)
		return nil, err
	}

	extensions = append(extensions, *idp)

	lFunc.Debugf("creating revocation list. CA %s", crlCA.ID)
	now := time.Now()
	nextUpdate := now.Add(time.Duration(vaRole.CRLOptions.Validity))

	// Reserve the CRL number before signing. The counter only moves
	// forward, so overlapping generations publish distinct numbers.
	crlVersion, err := svc.vaRepo.AdvanceCRLVersion(ctx, input.CASubjectKeyID, now, nextUpdate)
	if err != nil {
		lFunc.Errorf("could not reserve CRL number for CA %s: %s", crlCA.ID, err)
		return nil, err
	}

	crlDer, err := x509.CreateRevocationList(rand.Reader, &x509.RevocationList{
		RevokedCertificateEntries: certList,
		Number:                    crlVersion,
		ThisUpdate:                now,
		NextUpdate:                nextUpdate,
		ExtraExtensions:           extensions,
	}, crlIssuer, crlSigner)
	if err != nil {
		lFunc.Errorf("something went wrong while creating revocation list: %s", err)
		return nil, err
	}

	crl, err := x509.ParseRevocationList(crlDer)
	if err != nil {
		lFunc.Errorf("something went wrong while parsing revocation list: %s", err)
		return nil, err
	}

	crlPem := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crlDer})
	err = svc.bucket.WriteAll(ctx, crlBucketKey(input.CASubjectKeyID, crl.Number.String()), crlPem, nil)
	if err != nil {
		lFunc.Errorf("something went wrong while saving CRL: %s", err)
		return nil, err
	}

	return crl, nil
}

func (svc *CRLServiceBackend) getDistributionPointExtension(ski string) (*pkix.Extension, error) {
	type DistributionPointName struct { // CHOICE
		FullName     []asn1.RawValue  `asn1:"optional,tag:0"`
		RelativeName pkix.RDNSequence `asn1:"optional,tag:1"`
	}

	// RFC 5280. Section 5.2.5
	type IssuingDistributionPoint struct {
		DistributionPoint          DistributionPointName `asn1:"tag:0,optional"`
		OnlyContainsUserCerts      bool                  `asn1:"tag:1"`
		OnlyContainsCACerts        bool                  `asn1:"tag:2"`
		OnlySomeReasons            asn1.BitString        `asn1:"tag:3,optional"`
		IndirectCRL                bool                  `asn1:"tag:4"`
		OnlyContainsAttributeCerts bool                  `asn1:"tag:5"`
	}

	idpNames := []asn1.RawValue{}
	for _, name := range svc.vaDomains {
		idpNames = append(idpNames, asn1.RawValue{Tag: 6, Class: 2, Bytes: []byte(fmt.Sprintf("http://%s/crl/%s", name, ski))})
	}

	idp, err := asn1.Marshal(IssuingDistributionPoint{
		DistributionPoint: DistributionPointName{
			FullName: idpNames,
		},
	})
	if err != nil {
		return nil, err
	}

	return &pkix.Extension{
		Id:       []int{2, 5, 29, 28},
		Critical: true,
		Value:    idp,
	}, nil
}

func crlBucketKey(ski, version string) string {
	return fmt.Sprintf("pki/va/crl/%s/%s.crl", ski, version)
}
