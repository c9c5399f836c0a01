package main

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockChecker) CheckPending(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func TestProcessPending(t *testing.T) {
	checker := new(MockChecker)
	checker.On("Load", mock.Anything).Return(nil)
	checker.On("CheckPending", mock.Anything).Return(2, nil)

	w := NewConfirmationWorker(checker, zap.NewNop(), DefaultConfirmationWorkerConfig())
	assert.Equal(t, 2, w.processPending(context.Background()))
	checker.AssertExpectations(t)
}

func TestProcessPendingSkipsCheckWhenLoadFails(t *testing.T) {
	checker := new(MockChecker)
	checker.On("Load", mock.Anything).Return(errors.New("db down"))

	w := NewConfirmationWorker(checker, zap.NewNop(), DefaultConfirmationWorkerConfig())
	assert.Equal(t, 0, w.processPending(context.Background()))
	checker.AssertNotCalled(t, "CheckPending", mock.Anything)
}

type countingChecker struct {
	checks atomic.Int32
}

func (c *countingChecker) Load(ctx context.Context) error { return nil }

func (c *countingChecker) CheckPending(ctx context.Context) (int, error) {
	c.checks.Add(1)
	return 0, nil
}

func TestStartStopsOnCancel(t *testing.T) {
	checker := &countingChecker{}

	w := NewConfirmationWorker(checker, zap.NewNop(), ConfirmationWorkerConfig{
		PollInterval: 10 * time.Millisecond,
		CheckTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool {
		return checker.checks.Load() >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
