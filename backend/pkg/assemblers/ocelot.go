package assemblers

import (
	"context"
	"fmt"
	"time"

	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	"github.com/ocelotpki/ocelot/backend/pkg/jobs"
	"github.com/ocelotpki/ocelot/backend/pkg/routes"
	lservices "github.com/ocelotpki/ocelot/backend/pkg/services"
	"github.com/ocelotpki/ocelot/backend/pkg/storage/gormstore"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	log "github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/blob/memblob"
	"gorm.io/gorm"
)

// PKIBackend bundles every assembled service of the platform.
type PKIBackend struct {
	CAService   services.CAService
	VAService   services.VAService
	CRLService  services.CRLService
	ACMEService services.ACMEService

	CRLScheduler   *jobs.JobScheduler
	NonceScheduler *jobs.JobScheduler
}

type repositories struct {
	ca       storage.CACertificatesRepo
	cert     storage.CertificatesRepo
	profiles storage.IssuanceProfileRepo
	va       storage.VARepo

	acmeAccounts   storage.ACMEAccountRepo
	acmeOrders     storage.ACMEOrderRepo
	acmeAuthz      storage.ACMEAuthorizationRepo
	acmeChallenges storage.ACMEChallengeRepo
	acmeNonces     storage.ACMENonceRepo
}

// AssembleServiceWithHTTPServer assembles the whole backend and exposes it
// over a single HTTP server. It returns the port the server listens on.
func AssembleServiceWithHTTPServer(conf config.CAConfig) (*PKIBackend, int, error) {
	backend, err := AssembleService(conf)
	if err != nil {
		return nil, -1, err
	}

	lHttp := helpers.SetupLogger(conf.Server.LogLevel, "PKI", "HTTP Server")

	httpEngine := routes.NewGinEngine(lHttp)
	httpGrp := httpEngine.Group("/")
	routes.NewCAHTTPLayer(httpGrp, backend.CAService)
	routes.NewValidationRoutes(httpGrp, backend.VAService)
	if conf.ACME.Enabled {
		routes.NewACMERoutes(httpGrp, backend.ACMEService, conf.ACME.DirectoryBaseURL, resources.ACMEDirectoryMeta{
			TermsOfService: conf.ACME.TermsOfServiceURL,
			Website:        conf.ACME.WebsiteURL,
			CAAIdentities:  conf.ACME.CAAIdentities,
		})
	}

	port, err := routes.RunHttpRouter(lHttp, httpEngine, conf.Server)
	if err != nil {
		return nil, -1, fmt.Errorf("could not run http server: %s", err)
	}

	return backend, port, nil
}

// AssembleService wires storage, crypto engines and every service together
// without the HTTP layer. Tests use it directly.
func AssembleService(conf config.CAConfig) (*PKIBackend, error) {
	lCA := helpers.SetupLogger(conf.Logs.Level, "CA", "Service")
	lVA := helpers.SetupLogger(conf.VA.LogLevel, "VA", "Service")
	lACME := helpers.SetupLogger(conf.ACME.LogLevel, "ACME", "Service")
	lStorage := helpers.SetupLogger(conf.Storage.LogLevel, "PKI", "Storage")
	lCrypto := helpers.SetupLogger(conf.CryptoEngines.LogLevel, "CA", "Crypto Engines")
	lJobs := helpers.SetupLogger(conf.Logs.Level, "VA", "CRL Monitor")

	repos, err := createRepositories(lStorage, conf.Storage)
	if err != nil {
		return nil, fmt.Errorf("could not create storage instance: %s", err)
	}

	engines, err := createCryptoEngines(lCrypto, conf.CryptoEngines)
	if err != nil {
		return nil, fmt.Errorf("could not create crypto engines: %s", err)
	}

	caSvc, err := lservices.NewCAService(lservices.CAServiceBuilder{
		Logger:               lCA,
		CryptoEngines:        engines,
		CAStorage:            repos.ca,
		CertificateStorage:   repos.cert,
		ProfileStorage:       repos.profiles,
		SerialNumberSettings: conf.SerialNumber,
		VAServerDomains:      conf.VAServerDomains,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create CA service: %v", err)
	}

	rawEngines := map[string]*cryptoengines.CryptoEngine{}
	for engineID, engine := range engines {
		rawEngines[engineID] = &engine.Service
	}

	bucket, err := createCRLBucket(conf.VA.FilesystemStorage)
	if err != nil {
		return nil, fmt.Errorf("could not open CRL blob bucket: %s", err)
	}

	ocspSvc := lservices.NewOCSPService(lservices.OCSPServiceBuilder{
		Logger:           lVA,
		CAClient:         caSvc,
		CryptoEngines:    rawEngines,
		ResponseValidity: parseDuration(lVA, conf.VA.OCSP.ResponseValidity),
		DelegatedKeyID:   conf.VA.OCSP.DelegatedSignerKeyID,
	})

	crlSvc, err := lservices.NewCRLService(lservices.CRLServiceBuilder{
		Logger:             lVA,
		CAClient:           caSvc,
		CAStorage:          repos.ca,
		CryptoEngines:      rawEngines,
		VARepo:             repos.va,
		Bucket:             bucket,
		VADomains:          conf.VAServerDomains,
		CRLValidity:        models.TimeDuration(parseDuration(lVA, conf.VA.CRL.Validity)),
		CRLRefreshInterval: models.TimeDuration(parseDuration(lVA, conf.VA.CRL.RefreshInterval)),
		RegenerateOnRevoke: conf.VA.CRL.RegenerateOnRevoke,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create CRL service: %v", err)
	}

	vaSvc, err := lservices.NewVAService(lservices.VAServiceBuilder{
		Logger:      lVA,
		OCSPService: ocspSvc,
		CRLService:  crlSvc,
		VARepo:      repos.va,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create VA service: %v", err)
	}

	// Revoking a certificate republishes the issuer CRL when the VA role
	// asks for it. Roles are created lazily on the first revocation.
	caBackend := caSvc.(*lservices.CAServiceBackend)
	caBackend.SetRevocationHandler(func(ctx context.Context, cert *models.Certificate) {
		issuerCA, err := caSvc.GetCAByID(ctx, services.GetCAByIDInput{CAID: cert.IssuerCAMetadata.ID})
		if err != nil {
			lJobs.Warnf("could not resolve issuer CA %s after revocation: %s", cert.IssuerCAMetadata.ID, err)
			return
		}

		ski := issuerCA.Certificate.KeyID
		role, err := vaSvc.GetVARoleByID(ctx, services.GetVARoleInput{CASubjectKeyID: ski})
		if err == errs.ErrVARoleNotFound {
			if _, err := crlSvc.InitCRLRole(ctx, ski); err != nil {
				lJobs.Warnf("could not init CRL role for CA %s: %s", ski, err)
			}
			return
		} else if err != nil {
			lJobs.Warnf("could not read VA role for CA %s: %s", ski, err)
			return
		}

		if role.CRLOptions.RegenerateOnRevoke {
			if _, err := crlSvc.CalculateCRL(ctx, services.CalculateCRLInput{CASubjectKeyID: ski}); err != nil {
				lJobs.Warnf("could not regenerate CRL for CA %s: %s", ski, err)
			}
		}
	})

	backend := &PKIBackend{
		CAService:  caSvc,
		VAService:  vaSvc,
		CRLService: crlSvc,
	}

	if conf.ACME.Enabled {
		acmeSvc, err := lservices.NewACMEService(lservices.ACMEServiceBuilder{
			Logger:        lACME,
			CAClient:      caSvc,
			AccountRepo:   repos.acmeAccounts,
			OrderRepo:     repos.acmeOrders,
			AuthzRepo:     repos.acmeAuthz,
			ChallengeRepo: repos.acmeChallenges,
			NonceRepo:     repos.acmeNonces,

			CAID:              conf.ACME.CAID,
			ProfileID:         conf.ACME.ProfileID,
			DirectoryBaseURL:  conf.ACME.DirectoryBaseURL,
			TermsOfServiceURL: conf.ACME.TermsOfServiceURL,
			RequireContact:    conf.ACME.RequireContact,
			AllowWildcards:    conf.ACME.AllowWildcards,

			NonceValidity:         parseDuration(lACME, conf.ACME.NonceValidity),
			OrderValidity:         parseDuration(lACME, conf.ACME.OrderValidity),
			AuthorizationValidity: parseDuration(lACME, conf.ACME.AuthorizationValidity),
			ChallengeTimeout:      parseDuration(lACME, conf.ACME.ChallengeTimeout),
			HTTP01Port:            conf.ACME.HTTP01Port,
			DNSResolver:           conf.ACME.DNSResolver,
		})
		if err != nil {
			return nil, fmt.Errorf("could not create ACME service: %v", err)
		}

		backend.ACMEService = acmeSvc

		nonceJob := jobs.NewACMENonceCleanerJob(repos.acmeNonces, lACME)
		backend.NonceScheduler = jobs.NewJobScheduler(lACME, "@hourly", nonceJob)
		backend.NonceScheduler.Start()
	}

	crlJob := jobs.NewVACrlMonitorJob(vaSvc, crlSvc, "@every 5m", lJobs)
	backend.CRLScheduler = jobs.NewJobScheduler(lJobs, "@every 5m", crlJob)
	backend.CRLScheduler.Start()

	return backend, nil
}

func createRepositories(logger *log.Entry, conf config.PluggableStorageEngine) (*repositories, error) {
	var db *gorm.DB
	var err error

	switch conf.Provider {
	case config.Postgres:
		db, err = gormstore.CreatePostgresDBConnection(logger, conf.Postgres, "ocelot")
	case config.SQLite:
		db, err = gormstore.CreateSQLiteDBConnection(logger, conf.SQLite)
	default:
		return nil, fmt.Errorf("unknown storage provider '%s'", conf.Provider)
	}
	if err != nil {
		return nil, err
	}

	repos := &repositories{}

	if repos.ca, err = gormstore.NewCARepository(db); err != nil {
		return nil, err
	}
	if repos.cert, err = gormstore.NewCertificateRepository(db); err != nil {
		return nil, err
	}
	if repos.profiles, err = gormstore.NewIssuanceProfileRepository(db); err != nil {
		return nil, err
	}
	if repos.va, err = gormstore.NewVARepository(db); err != nil {
		return nil, err
	}
	if repos.acmeAccounts, err = gormstore.NewACMEAccountRepository(db); err != nil {
		return nil, err
	}
	if repos.acmeOrders, err = gormstore.NewACMEOrderRepository(db); err != nil {
		return nil, err
	}
	if repos.acmeAuthz, err = gormstore.NewACMEAuthorizationRepository(db); err != nil {
		return nil, err
	}
	if repos.acmeChallenges, err = gormstore.NewACMEChallengeRepository(db); err != nil {
		return nil, err
	}
	if repos.acmeNonces, err = gormstore.NewACMENonceRepository(db); err != nil {
		return nil, err
	}

	return repos, nil
}

func createCryptoEngines(logger *log.Entry, conf config.CryptoEngines) (map[string]*lservices.Engine, error) {
	filesystem.Register()

	engines := map[string]*lservices.Engine{}

	for _, engineConf := range conf.Filesystem {
		builder := cryptoengines.GetEngineBuilder(config.FilesystemProvider)
		if builder == nil {
			return nil, fmt.Errorf("no crypto engine builder registered for provider '%s'", config.FilesystemProvider)
		}

		engine, err := builder(logger, engineConf)
		if err != nil {
			return nil, fmt.Errorf("could not create crypto engine '%s': %s", engineConf.ID, err)
		}

		engines[engineConf.ID] = &lservices.Engine{
			Default: engineConf.ID == conf.DefaultEngineID,
			Service: engine,
		}
	}

	if len(engines) == 0 {
		return nil, fmt.Errorf("no crypto engines configured")
	}

	return engines, nil
}

func createCRLBucket(conf config.FSStorageConfig) (*blob.Bucket, error) {
	if conf.DirectoryPath == "" {
		return memblob.OpenBucket(nil), nil
	}

	return fileblob.OpenBucket(conf.DirectoryPath, &fileblob.Options{
		CreateDir: true,
	})
}

func parseDuration(logger *log.Entry, raw string) time.Duration {
	if raw == "" {
		return 0
	}

	d, err := models.ParseDuration(raw)
	if err != nil {
		logger.Warnf("could not parse duration '%s', using default: %s", raw, err)
		return 0
	}

	return d
}
