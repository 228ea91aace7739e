package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"chatsync/internal/telemetry"
)

// PublisherMock stands in for the broker publisher.
type PublisherMock struct {
	mock.Mock
}

var _ telemetry.Publisher = (*PublisherMock)(nil)

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	return m.Called(ctx, routingKey, event).Error(0)
}

func (m *PublisherMock) Close() error {
	return m.Called().Error(0)
}

// AcceptAll makes every Publish succeed; use when a test does not care about
// what gets published.
func (m *PublisherMock) AcceptAll() *PublisherMock {
	m.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}
