package services

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
)

// serialAllocator hands out certificate serial numbers according to the
// configured policy.
//
// Under the random policy the allocator draws a fresh random integer and
// retries on collision against the certificate store, failing with
// ErrSerialExhausted once the retry budget runs out. Under the sequential
// policy each CA carries its own monotonic counter, seeded at CA creation
// with a random 62 bit base so counters of different CAs never collide.
type serialAllocator struct {
	logger    *logrus.Entry
	settings  config.SerialNumberSettings
	certsRepo storage.CertificatesRepo
	caRepo    storage.CACertificatesRepo
}

func newSerialAllocator(logger *logrus.Entry, settings config.SerialNumberSettings, certsRepo storage.CertificatesRepo, caRepo storage.CACertificatesRepo) *serialAllocator {
	if settings.Policy == "" {
		settings = config.DefaultSerialNumberSettings()
	}
	if settings.RandomBits < 64 || settings.RandomBits > 160 {
		settings.RandomBits = 128
	}
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 32
	}

	return &serialAllocator{
		logger:    logger,
		settings:  settings,
		certsRepo: certsRepo,
		caRepo:    caRepo,
	}
}

func (a *serialAllocator) Allocate(ctx context.Context, caID string) (*big.Int, error) {
	lFunc := helpers.ConfigureLogger(ctx, a.logger)

	if a.settings.Policy == config.SerialNumberPolicySequential {
		next, err := a.caRepo.IncrementSequentialSerial(ctx, caID)
		if err != nil {
			lFunc.Errorf("could not advance sequential serial counter of CA %s: %s", caID, err)
			return nil, err
		}

		if next <= 0 {
			lFunc.Errorf("sequential serial counter of CA %s wrapped", caID)
			return nil, errs.ErrSerialExhausted
		}

		return big.NewInt(next), nil
	}

	return a.allocateRandom(ctx, caID)
}

// AllocateRandom always uses the random policy, regardless of configuration.
// CA certificates get random serials even on sequential deployments.
func (a *serialAllocator) AllocateRandom(ctx context.Context, caID string) (*big.Int, error) {
	return a.allocateRandom(ctx, caID)
}

func (a *serialAllocator) allocateRandom(ctx context.Context, caID string) (*big.Int, error) {
	lFunc := helpers.ConfigureLogger(ctx, a.logger)

	limit := new(big.Int).Lsh(big.NewInt(1), uint(a.settings.RandomBits))
	for attempt := 0; attempt < a.settings.MaxRetries; attempt++ {
		sn, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return nil, err
		}

		if sn.Sign() == 0 {
			continue
		}

		exists, _, err := a.certsRepo.SelectExistsBySerialNumber(ctx, helpers.SerialNumberToString(sn))
		if err != nil {
			lFunc.Errorf("could not check serial number uniqueness: %s", err)
			return nil, err
		}

		if !exists {
			return sn, nil
		}

		lFunc.Warnf("serial number collision on attempt %d for CA %s", attempt+1, caID)
	}

	lFunc.Errorf("could not allocate a unique serial number after %d attempts", a.settings.MaxRetries)
	return nil, errs.ErrSerialExhausted
}

// seedSequentialBase returns the random starting point of a new CA's
// sequential counter.
func seedSequentialBase() (int64, error) {
	base, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return 0, err
	}

	return base.Int64(), nil
}
