package irrecoverable

import (
	"context"
	"testing"
)

// MockSignalerContext fails the test running it on the first thrown error.
type MockSignalerContext struct {
	context.Context
	t testing.TB
}

var _ SignalerContext = (*MockSignalerContext)(nil)

func (m *MockSignalerContext) sealed() {}

func (m *MockSignalerContext) Throw(err error) {
	m.t.Errorf("irrecoverable error thrown: %v", err)
	m.t.FailNow()
}

// NewMockSignalerContextWithCancel returns a mock signaler context deriving
// from parent, and its cancel function.
func NewMockSignalerContextWithCancel(t testing.TB, parent context.Context) (*MockSignalerContext, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	return &MockSignalerContext{Context: ctx, t: t}, cancel
}
