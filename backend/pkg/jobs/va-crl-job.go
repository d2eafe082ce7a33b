package jobs

import (
	"context"
	"time"

	"github.com/ocelotpki/ocelot/pkg/helpers"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/resources"
	"github.com/ocelotpki/ocelot/pkg/services"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// VACrlMonitor walks every VA role and republishes CRLs that expired or
// whose refresh interval elapsed.
type VACrlMonitor struct {
	logger    *logrus.Entry
	vaService services.VAService
	crlSvc    services.CRLService
	frequency string
}

func NewVACrlMonitorJob(vaService services.VAService, crlSvc services.CRLService, frequency string, logger *logrus.Entry) *VACrlMonitor {
	return &VACrlMonitor{
		vaService: vaService,
		crlSvc:    crlSvc,
		logger:    logger,
		frequency: frequency,
	}
}

func (svc *VACrlMonitor) Run() {
	ctx := helpers.InitContext()
	lFunc := helpers.ConfigureLogger(ctx, svc.logger)

	now := time.Now()
	lFunc.Info("starting periodic CRL check")

	nextScheduledRun, err := cron.ParseStandard(svc.frequency)
	if err != nil {
		lFunc.Errorf("could not parse frequency %s: %s", svc.frequency, err)
		return
	}

	nextRunTime := nextScheduledRun.Next(now)

	svc.vaService.GetVARoles(ctx, services.GetVARolesInput{
		QueryParameters: &resources.QueryParameters{},
		ExhaustiveRun:   true,
		ApplyFunc: func(v models.VARole) {
			lFunc.Infof("checking VA role for CA %s", v.CAID)

			refreshAt := v.LatestCRL.ValidFrom.Add(time.Duration(v.CRLOptions.RefreshInterval))
			if v.LatestCRL.ValidUntil.Before(now) || !refreshAt.After(now) {
				lFunc.Infof("CRL for CA %s is due for regeneration (valid until %s)", v.CAID, v.LatestCRL.ValidUntil)
				_, err := svc.crlSvc.CalculateCRL(context.Background(), services.CalculateCRLInput{
					CASubjectKeyID: v.CASubjectKeyID,
				})
				if err != nil {
					lFunc.Warnf("something went wrong while calculating CRL for CA %s: %s", v.CAID, err)
				}
			} else if v.LatestCRL.ValidUntil.Before(nextRunTime) {
				lFunc.Warnf("CRL for CA %s will expire at %s, before the next check at %s", v.CAID, v.LatestCRL.ValidUntil, nextRunTime)
			} else {
				lFunc.Infof("CRL for CA %s is valid until %s (%s)", v.CAID, v.LatestCRL.ValidUntil, v.LatestCRL.ValidUntil.Sub(now))
			}
		},
	})

	end := time.Now()
	lFunc.Infof("ending check. Took %v", end.Sub(now))
}
