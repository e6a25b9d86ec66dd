package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/vkflow/token"
)

// MockTokenStorage provides a testify-based mock of token.Storage. Use it to
// drive storage failures; token.NewMemoryStorage is simpler for the happy path.
type MockTokenStorage struct {
	mock.Mock
}

func (m *MockTokenStorage) Save(ctx context.Context, key string, tok *token.Token) error {
	return m.Called(ctx, key, tok).Error(0)
}

func (m *MockTokenStorage) Load(ctx context.Context, key string) (*token.Token, error) {
	args := m.Called(ctx, key)
	return tokenArg(args, 0), args.Error(1)
}

func (m *MockTokenStorage) Remove(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}
