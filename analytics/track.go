// Package analytics creates trackers bound to the current step execution.
package analytics

import (
	"fmt"

	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
)

// TrackerFactory ...
type TrackerFactory func(log.Logger, ...analytics.Properties) analytics.Tracker

const (
	StepExecutionIDEnvKey = "BITRISE_STEP_EXECUTION_ID"
	StepExecutionID       = "step_execution_id"
)

// NewStepTracker returns a tracker that attaches the step execution ID and properties to every event.
func NewStepTracker(repository env.Repository, logger log.Logger, trackerFactory TrackerFactory, properties ...analytics.Properties) (analytics.Tracker, error) {
	stepExecutionID := repository.Get(StepExecutionIDEnvKey)
	if stepExecutionID == "" {
		return nil, fmt.Errorf("no step execution ID found")
	}

	p := analytics.Properties{StepExecutionID: stepExecutionID}
	for _, props := range properties {
		for k, v := range props {
			p[k] = v
		}
	}
	return trackerFactory(logger, p), nil
}

// NewDefaultStepTracker ...
func NewDefaultStepTracker(repository env.Repository, logger log.Logger, properties ...analytics.Properties) (analytics.Tracker, error) {
	return NewStepTracker(repository, logger, analytics.NewDefaultTracker, properties...)
}
