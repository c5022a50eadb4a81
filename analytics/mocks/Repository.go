package mocks

import "github.com/stretchr/testify/mock"

// Repository is a mock of env.Repository.
type Repository struct {
	mock.Mock
}

// Get ...
func (m *Repository) Get(key string) string {
	args := m.Called(key)
	return args.String(0)
}

// Set ...
func (m *Repository) Set(key, value string) error {
	args := m.Called(key, value)
	return args.Error(0)
}

// Unset ...
func (m *Repository) Unset(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

// List ...
func (m *Repository) List() []string {
	args := m.Called()
	if list, ok := args.Get(0).([]string); ok {
		return list
	}
	return nil
}
