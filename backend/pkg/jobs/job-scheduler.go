package jobs

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// JobScheduler runs a single background job on a cron schedule. Each job
// gets its own runner so it can be started and stopped independently.
type JobScheduler struct {
	runner  *cron.Cron
	logger  *logrus.Entry
	entryID cron.EntryID
}

// NewJobScheduler registers job under the given cron expression. A six
// field expression enables second level resolution, meant for tests
// rather than production schedules.
func NewJobScheduler(logger *logrus.Entry, expression string, job cron.Job) *JobScheduler {
	opts := []cron.Option{}
	if strings.Count(expression, " ") == 5 {
		logger.Warnf("schedule %q resolves to seconds. Expect extra load on tight schedules", expression)
		opts = append(opts, cron.WithSeconds())
	}

	runner := cron.New(opts...)

	var entryID cron.EntryID
	if job != nil {
		var err error
		entryID, err = runner.AddJob(expression, job)
		if err != nil {
			logger.Errorf("job not scheduled, bad expression %q: %s", expression, err)
		} else {
			logger.Infof("job scheduled with expression %q", expression)
		}
	}

	return &JobScheduler{
		runner:  runner,
		logger:  logger,
		entryID: entryID,
	}
}

func (s *JobScheduler) Start() {
	s.runner.Start()
}

// NextRun reports when the job fires next. Zero when nothing is
// scheduled or the runner is stopped.
func (s *JobScheduler) NextRun() time.Time {
	return s.runner.Entry(s.entryID).Next
}

// Stop unschedules the job and blocks until any run in flight finishes.
func (s *JobScheduler) Stop() {
	s.runner.Remove(s.entryID)
	<-s.runner.Stop().Done()
}
