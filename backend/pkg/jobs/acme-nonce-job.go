package jobs

import (
	"time"

	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"github.com/sirupsen/logrus"
)

// ACMENonceCleaner prunes expired anti replay nonces. Consumed nonces are
// deleted on use, this job only reclaims the ones that were never spent.
type ACMENonceCleaner struct {
	logger     *logrus.Entry
	nonceStore storage.ACMENonceRepo
}

func NewACMENonceCleanerJob(nonceStore storage.ACMENonceRepo, logger *logrus.Entry) *ACMENonceCleaner {
	return &ACMENonceCleaner{
		logger:     logger,
		nonceStore: nonceStore,
	}
}

func (svc *ACMENonceCleaner) Run() {
	ctx := helpers.InitContext()
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	deleted, err := svc.nonceStore.DeleteExpired(ctx, time.Now())
	if err != nil {
		lFunc.Warnf("could not prune expired nonces: %s", err)
		return
	}

	if deleted > 0 {
		lFunc.Infof("pruned %d expired nonces", deleted)
	}
}
