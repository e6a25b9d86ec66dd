package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/gaborage/vkflow/token"
)

// MockRecoverer provides a testify-based mock of task.Recoverer.
//
// Example usage:
//
//	rec := &mocks.MockRecoverer{}
//	rec.On("Reauthorize", mock.Anything).Return(nil).Once()
type MockRecoverer struct {
	mock.Mock
}

func (m *MockRecoverer) Reauthorize(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockRecoverer) SolveCaptcha(ctx context.Context, sid, imageURL string) (string, error) {
	args := m.Called(ctx, sid, imageURL)
	return args.String(0), args.Error(1)
}

func (m *MockRecoverer) ValidateRedirect(ctx context.Context, redirectURI string) error {
	return m.Called(ctx, redirectURI).Error(0)
}

// MockAuthorizator provides a testify-based mock of session.Authorizator.
type MockAuthorizator struct {
	mock.Mock
}

func (m *MockAuthorizator) Authorize(ctx context.Context) (*token.Token, error) {
	args := m.Called(ctx)
	return tokenArg(args, 0), args.Error(1)
}

func (m *MockAuthorizator) AuthorizeWith(ctx context.Context, rawToken string, expiresIn time.Duration) (*token.Token, error) {
	args := m.Called(ctx, rawToken, expiresIn)
	return tokenArg(args, 0), args.Error(1)
}

func (m *MockAuthorizator) Validate(ctx context.Context, redirectURI string) error {
	return m.Called(ctx, redirectURI).Error(0)
}

// MockCaptchaPresenter provides a testify-based mock of session.CaptchaPresenter.
type MockCaptchaPresenter struct {
	mock.Mock
}

func (m *MockCaptchaPresenter) Present(ctx context.Context, sid, imageURL string) (string, error) {
	args := m.Called(ctx, sid, imageURL)
	return args.String(0), args.Error(1)
}

// MockWebPresenter provides a testify-based mock of session.WebPresenter.
type MockWebPresenter struct {
	mock.Mock
}

func (m *MockWebPresenter) Present(ctx context.Context, pageURL string) (string, error) {
	args := m.Called(ctx, pageURL)
	return args.String(0), args.Error(1)
}

func tokenArg(args mock.Arguments, i int) *token.Token {
	if tok, ok := args.Get(i).(*token.Token); ok {
		return tok
	}
	return nil
}
