package llm

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockClient is a mock implementation of Client using testify/mock.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, q Query) Outcome {
	args := m.Called(ctx, q)
	return args.Get(0).(Outcome)
}
