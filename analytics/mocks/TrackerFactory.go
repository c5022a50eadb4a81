package mocks

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/mock"
)

// TrackerFactory records the properties a tracker is created with.
type TrackerFactory struct {
	mock.Mock
}

// Execute matches the analytics.TrackerFactory signature.
func (m *TrackerFactory) Execute(_ log.Logger, properties ...analytics.Properties) analytics.Tracker {
	args := m.Called(properties)
	if tracker, ok := args.Get(0).(analytics.Tracker); ok {
		return tracker
	}
	return nil
}
