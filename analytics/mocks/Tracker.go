package mocks

import (
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/stretchr/testify/mock"
)

// Tracker is a mock of analytics.Tracker.
type Tracker struct {
	mock.Mock
}

// Enqueue ...
func (m *Tracker) Enqueue(eventName string, properties ...analytics.Properties) {
	args := []interface{}{eventName}
	for _, p := range properties {
		args = append(args, p)
	}
	m.Called(args...)
}

// Wait ...
func (m *Tracker) Wait() {
	m.Called()
}
