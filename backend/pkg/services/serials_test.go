package services

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/ocelotpki/ocelot/backend/pkg/cryptoengines/filesystem"
	"github.com/ocelotpki/ocelot/backend/pkg/storage/gormstore"
	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupSerialRepos(t *testing.T) (storage.CertificatesRepo, storage.CACertificatesRepo) {
	t.Helper()

	logger := helpers.SetupLogger(config.None, "CA", "Storage")

	db, err := gormstore.CreateSQLiteDBConnection(logger, config.SQLitePSEConfig{
		DatabasePath: filepath.Join(t.TempDir(), "serials.db"),
	})
	require.NoError(t, err)

	certRepo, err := gormstore.NewCertificateRepository(db)
	require.NoError(t, err)
	caRepo, err := gormstore.NewCARepository(db)
	require.NoError(t, err)

	return certRepo, caRepo
}

// collidingCertRepo reports every serial number as already taken.
type collidingCertRepo struct {
	storage.CertificatesRepo
}

func (r *collidingCertRepo) SelectExistsBySerialNumber(ctx context.Context, serialNumber string) (bool, *models.Certificate, error) {
	return true, nil, nil
}

func TestRandomSerialAllocation(t *testing.T) {
	certRepo, caRepo := setupSerialRepos(t)
	logger := helpers.SetupLogger(config.None, "CA", "Service")

	allocator := newSerialAllocator(logger, config.SerialNumberSettings{
		Policy:     config.SerialNumberPolicyRandom,
		RandomBits: 64,
		MaxRetries: 5,
	}, certRepo, caRepo)

	limit := new(big.Int).Lsh(big.NewInt(1), 64)
	seen := map[string]bool{}

	for i := 0; i < 25; i++ {
		sn, err := allocator.Allocate(context.Background(), "serial-ca")
		require.NoError(t, err)

		assert.Equal(t, 1, sn.Sign())
		assert.True(t, sn.Cmp(limit) < 0)

		key := helpers.SerialNumberToString(sn)
		assert.False(t, seen[key], "serial %s allocated twice", key)
		seen[key] = true
	}
}

func TestRandomSerialAllocationExhaustsRetries(t *testing.T) {
	certRepo, caRepo := setupSerialRepos(t)
	logger := helpers.SetupLogger(config.None, "CA", "Service")

	allocator := newSerialAllocator(logger, config.SerialNumberSettings{
		Policy:     config.SerialNumberPolicyRandom,
		RandomBits: 64,
		MaxRetries: 3,
	}, &collidingCertRepo{certRepo}, caRepo)

	_, err := allocator.Allocate(context.Background(), "serial-ca")
	assert.ErrorIs(t, err, errs.ErrSerialExhausted)
}

func TestSerialAllocatorSettingsClamping(t *testing.T) {
	certRepo, caRepo := setupSerialRepos(t)
	logger := helpers.SetupLogger(config.None, "CA", "Service")

	allocator := newSerialAllocator(logger, config.SerialNumberSettings{}, certRepo, caRepo)

	defaults := config.DefaultSerialNumberSettings()
	assert.Equal(t, defaults.Policy, allocator.settings.Policy)

	allocator = newSerialAllocator(logger, config.SerialNumberSettings{
		Policy:     config.SerialNumberPolicyRandom,
		RandomBits: 8,
		MaxRetries: -1,
	}, certRepo, caRepo)
	assert.Equal(t, 128, allocator.settings.RandomBits)
	assert.Equal(t, 32, allocator.settings.MaxRetries)
}

func TestSequentialSerialPolicy(t *testing.T) {
	logger := helpers.SetupLogger(config.None, "CA", "Service")

	db, err := gormstore.CreateSQLiteDBConnection(logger, config.SQLitePSEConfig{
		DatabasePath: filepath.Join(t.TempDir(), "sequential.db"),
	})
	require.NoError(t, err)

	caRepo, err := gormstore.NewCARepository(db)
	require.NoError(t, err)
	certRepo, err := gormstore.NewCertificateRepository(db)
	require.NoError(t, err)
	profileRepo, err := gormstore.NewIssuanceProfileRepository(db)
	require.NoError(t, err)

	engine, err := filesystem.NewFilesystemPEMEngine(logger, config.FilesystemEngineConfig{
		ID:               "fs-test",
		Name:             "Test Filesystem Engine",
		StorageDirectory: t.TempDir(),
	})
	require.NoError(t, err)

	svc, err := NewCAService(CAServiceBuilder{
		Logger: logger,
		CryptoEngines: map[string]*Engine{
			"fs-test": {Default: true, Service: engine},
		},
		CAStorage:          caRepo,
		CertificateStorage: certRepo,
		ProfileStorage:     profileRepo,
		SerialNumberSettings: config.SerialNumberSettings{
			Policy: config.SerialNumberPolicySequential,
		},
		VAServerDomains: []string{"va.example.com"},
	})
	require.NoError(t, err)

	ca := createRootCAFixture(t, svc, "sequential-root")

	profile := signingProfile()
	var previous *big.Int

	for i := 0; i < 3; i++ {
		cert, err := svc.SignCertificate(context.Background(), services.SignCertificateInput{
			CAID:            ca.ID,
			CertRequest:     testCSR(t, "leaf.example.com"),
			IssuanceProfile: &profile,
		})
		require.NoError(t, err)

		sn, err := helpers.SerialNumberFromString(cert.SerialNumber)
		require.NoError(t, err)

		if previous != nil {
			diff := new(big.Int).Sub(sn, previous)
			assert.Equal(t, int64(1), diff.Int64())
		}
		previous = sn
	}
}
