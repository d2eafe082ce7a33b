package gormstore

import (
	"context"
	"fmt"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	logger := helpers.SetupLogger(config.None, "Storage", "Test")
	db, err := CreateSQLiteDBConnection(logger, config.SQLitePSEConfig{
		DatabasePath: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)

	return db
}

func TestNonceConsumeIsSingleUse(t *testing.T) {
	repo, err := NewACMENonceRepository(testDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	_, err = repo.Insert(ctx, &models.ACMENonce{
		Value:      "fresh-nonce",
		ExpiresAt:  now.Add(time.Hour),
		CreationTS: now,
	})
	require.NoError(t, err)

	consumed, err := repo.Consume(ctx, "fresh-nonce", now)
	require.NoError(t, err)
	assert.True(t, consumed)

	consumed, err = repo.Consume(ctx, "fresh-nonce", now)
	require.NoError(t, err)
	assert.False(t, consumed)

	consumed, err = repo.Consume(ctx, "never-issued", now)
	require.NoError(t, err)
	assert.False(t, consumed)
}

func TestNonceExpiry(t *testing.T) {
	repo, err := NewACMENonceRepository(testDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	_, err = repo.Insert(ctx, &models.ACMENonce{
		Value:      "stale-nonce",
		ExpiresAt:  now.Add(-time.Minute),
		CreationTS: now.Add(-2 * time.Hour),
	})
	require.NoError(t, err)

	_, err = repo.Insert(ctx, &models.ACMENonce{
		Value:      "live-nonce",
		ExpiresAt:  now.Add(time.Hour),
		CreationTS: now,
	})
	require.NoError(t, err)

	consumed, err := repo.Consume(ctx, "stale-nonce", now)
	require.NoError(t, err)
	assert.False(t, consumed)

	pruned, err := repo.DeleteExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	consumed, err = repo.Consume(ctx, "live-nonce", now)
	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestCARepositoryRoundTrip(t *testing.T) {
	db := testDB(t)

	caRepo, err := NewCARepository(db)
	require.NoError(t, err)
	certRepo, err := NewCertificateRepository(db)
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	_, err = certRepo.Insert(ctx, &models.Certificate{
		SerialNumber: "01-02-03",
		KeyID:        "root-ski",
		Status:       models.StatusActive,
		Subject:      models.Subject{CommonName: "Round Trip Root"},
		ValidFrom:    now,
		ValidTo:      now.Add(24 * time.Hour),
		Type:         models.CertificateTypeManaged,
		IsCA:         true,
	})
	require.NoError(t, err)

	_, err = caRepo.Insert(ctx, &models.CACertificate{
		ID:                      "round-trip-root",
		CertificateSerialNumber: "01-02-03",
		CreationTS:              now,
	})
	require.NoError(t, err)

	exists, ca, err := caRepo.SelectExistsByID(ctx, "round-trip-root")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "Round Trip Root", ca.Certificate.Subject.CommonName)
	assert.Equal(t, "root-ski", ca.Certificate.KeyID)

	exists, bySKI, err := caRepo.SelectExistsBySubjectKeyID(ctx, "root-ski")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "round-trip-root", bySKI.ID)
}

func TestAdvanceCRLVersionIsMonotonic(t *testing.T) {
	repo, err := NewVARepository(testDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	_, err = repo.Insert(ctx, &models.VARole{
		CASubjectKeyID: "crl-counter-ski",
		CAID:           "crl-counter-ca",
		LatestCRL: models.LatestCRLMeta{
			Version:   models.BigInt{Int: big.NewInt(0)},
			ValidFrom: now,
		},
	})
	require.NoError(t, err)

	first, err := repo.AdvanceCRLVersion(ctx, "crl-counter-ski", now, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Int64())

	second, err := repo.AdvanceCRLVersion(ctx, "crl-counter-ski", now, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Int64())

	exists, role, err := repo.Get(ctx, "crl-counter-ski")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, int64(2), role.LatestCRL.Version.Int64())

	_, err = repo.AdvanceCRLVersion(ctx, "unknown-ski", now, now.Add(time.Hour))
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestOrderTransitionStatusSingleWinner(t *testing.T) {
	repo, err := NewACMEOrderRepository(testDB(t))
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Now()

	_, err = repo.Insert(ctx, &models.ACMEOrder{
		ID:         "order-cas",
		AccountID:  "acct-cas",
		Status:     models.OrderStatusReady,
		Expires:    now.Add(time.Hour),
		CreationTS: now,
	})
	require.NoError(t, err)

	claimed, err := repo.TransitionStatus(ctx, "order-cas", models.OrderStatusReady, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = repo.TransitionStatus(ctx, "order-cas", models.OrderStatusReady, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.False(t, claimed)

	exists, order, err := repo.SelectExistsByID(ctx, "order-cas")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, models.OrderStatusProcessing, order.Status)

	claimed, err = repo.TransitionStatus(ctx, "order-missing", models.OrderStatusReady, models.OrderStatusProcessing)
	require.NoError(t, err)
	assert.False(t, claimed)
}

func insertProfiles(t *testing.T, repo storage.IssuanceProfileRepo, count int) {
	t.Helper()

	for i := 0; i < count; i++ {
		_, err := repo.Insert(context.Background(), &models.IssuanceProfile{
			ID:   fmt.Sprintf("profile-%02d", i),
			Name: fmt.Sprintf("profile %02d", i),
		})
		require.NoError(t, err)
	}
}

func TestSelectAllPagination(t *testing.T) {
	repo, err := NewIssuanceProfileRepository(testDB(t))
	require.NoError(t, err)

	insertProfiles(t, repo, 25)

	ctx := context.Background()
	collect := func(bookmark string) ([]string, string) {
		ids := []string{}
		next, err := repo.SelectAll(ctx, storage.StorageListRequest[models.IssuanceProfile]{
			QueryParams: &resources.QueryParameters{
				PageSize:     10,
				NextBookmark: bookmark,
				Sort: resources.SortOptions{
					SortMode:  resources.SortModeAsc,
					SortField: "id",
				},
			},
			ApplyFunc: func(p models.IssuanceProfile) {
				ids = append(ids, p.ID)
			},
		})
		require.NoError(t, err)
		return ids, next
	}

	first, bookmark := collect("")
	require.Len(t, first, 10)
	assert.Equal(t, "profile-00", first[0])
	require.NotEmpty(t, bookmark)

	second, bookmark := collect(bookmark)
	require.Len(t, second, 10)
	assert.Equal(t, "profile-10", second[0])
	require.NotEmpty(t, bookmark)

	third, bookmark := collect(bookmark)
	require.Len(t, third, 5)
	assert.Equal(t, "profile-20", third[0])
	assert.Empty(t, bookmark)
}

func TestSelectAllExhaustive(t *testing.T) {
	repo, err := NewIssuanceProfileRepository(testDB(t))
	require.NoError(t, err)

	insertProfiles(t, repo, 7)

	seen := 0
	next, err := repo.SelectAll(context.Background(), storage.StorageListRequest[models.IssuanceProfile]{
		ExhaustiveRun: true,
		QueryParams:   &resources.QueryParameters{PageSize: 3},
		ApplyFunc: func(p models.IssuanceProfile) {
			seen++
		},
	})
	require.NoError(t, err)
	assert.Empty(t, next)
	assert.Equal(t, 7, seen)
}

func TestSelectAllFilter(t *testing.T) {
	repo, err := NewIssuanceProfileRepository(testDB(t))
	require.NoError(t, err)

	insertProfiles(t, repo, 5)

	matched := []string{}
	_, err = repo.SelectAll(context.Background(), storage.StorageListRequest[models.IssuanceProfile]{
		ExhaustiveRun: true,
		QueryParams: &resources.QueryParameters{
			Filters: []resources.FilterOption{{
				Field:           "name",
				FilterOperation: resources.StringContains,
				Value:           "03",
			}},
		},
		ApplyFunc: func(p models.IssuanceProfile) {
			matched = append(matched, p.ID)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"profile-03"}, matched)
}

func TestSelectExists(t *testing.T) {
	repo, err := NewIssuanceProfileRepository(testDB(t))
	require.NoError(t, err)

	ctx := context.Background()

	exists, _, err := repo.SelectByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.Insert(ctx, &models.IssuanceProfile{ID: "p-1", Name: "one"})
	require.NoError(t, err)

	exists, profile, err := repo.SelectByID(ctx, "p-1")
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, "one", profile.Name)

	profile.Name = "renamed"
	_, err = repo.Update(ctx, profile)
	require.NoError(t, err)

	_, reread, err := repo.SelectByID(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", reread.Name)

	require.NoError(t, repo.Delete(ctx, "p-1"))
	exists, _, err = repo.SelectByID(ctx, "p-1")
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, repo.Delete(ctx, "p-1"), gorm.ErrRecordNotFound)
}
