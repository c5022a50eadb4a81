package upload

import (
	"time"

	stepanalytics "github.com/bitrise-io/go-fileupload/analytics"
	"github.com/bitrise-io/go-fileupload/upload/network/chunkuploader"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

type stepTracker struct {
	tracker analytics.Tracker
	logger  log.Logger
}

func newStepTracker(envRepo env.Repository, logger log.Logger, factory stepanalytics.TrackerFactory) stepTracker {
	p := analytics.Properties{
		"build_slug":  envRepo.Get("BITRISE_BUILD_SLUG"),
		"app_slug":    envRepo.Get("BITRISE_APP_SLUG"),
		"workflow":    envRepo.Get("BITRISE_TRIGGERED_WORKFLOW_ID"),
		"is_pr_build": envRepo.Get("IS_PR") == "true",
	}

	tracker, err := stepanalytics.NewStepTracker(envRepo, logger, factory, p)
	if err != nil {
		logger.Debugf("Analytics disabled: %s", err)
		return stepTracker{logger: logger}
	}
	return stepTracker{
		tracker: tracker,
		logger:  logger,
	}
}

func (t *stepTracker) logUploadFinished(outcome chunkuploader.Outcome, config Config) {
	if t.tracker == nil {
		return
	}

	properties := analytics.Properties{
		"state":             outcome.State.String(),
		"mode":              config.UploadMode,
		"backend":           config.Backend,
		"size_bytes":        outcome.TotalSize,
		"bytes_transferred": outcome.BytesTransferred,
		"chunk_count":       outcome.ChunksSent,
		"upload_time_s":     outcome.Duration.Truncate(time.Second).Seconds(),
	}
	t.tracker.Enqueue("step_file_upload_finished", properties)
}

func (t *stepTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
