package testutil

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"marketcollector/internal/fetcher"
)

// MockTask is a mock implementation of the fetcher.Task interface for testing
type MockTask struct {
	FetchFunc func(ctx context.Context) (any, error)
	KeyFunc   func() string
}

// Fetch implements the Task interface
func (m *MockTask) Fetch(ctx context.Context) (any, error) {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx)
	}
	return nil, nil
}

// Key implements the Task interface
func (m *MockTask) Key() string {
	if m.KeyFunc != nil {
		return m.KeyFunc()
	}
	return "mock"
}

// NewMockTask creates a simple mock task with predefined values
func NewMockTask(key string, payload any, err error) fetcher.Task {
	return &MockTask{
		FetchFunc: func(ctx context.Context) (any, error) {
			return payload, err
		},
		KeyFunc: func() string {
			return key
		},
	}
}

// NewDelayedTask creates a mock task that settles after delay, or earlier
// with the context error if ctx is done first
func NewDelayedTask(key string, delay time.Duration, payload any, err error) fetcher.Task {
	return &MockTask{
		FetchFunc: func(ctx context.Context) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
				return payload, err
			}
		},
		KeyFunc: func() string {
			return key
		},
	}
}

// DiscardLogger returns a logrus logger that writes nowhere
func DiscardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
