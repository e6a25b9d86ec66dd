package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/vkflow/attempt"
	"github.com/gaborage/vkflow/httpclient"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/task"
	"github.com/gaborage/vkflow/token"
	"github.com/gaborage/vkflow/wire"
)

const (
	appID       = "app"
	waitTimeout = 2 * time.Second
)

// fakeAuthorizator counts calls and optionally blocks Authorize on gate.
type fakeAuthorizator struct {
	authorizeCalls atomic.Int32
	validateCalls  atomic.Int32
	gate           chan struct{}
	tok            *token.Token
	err            error
	validateErr    error
}

func (f *fakeAuthorizator) Authorize(ctx context.Context) (*token.Token, error) {
	f.authorizeCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.tok, nil
}

func (f *fakeAuthorizator) AuthorizeWith(ctx context.Context, raw string, expiresIn time.Duration) (*token.Token, error) {
	return (&WebAuthorizator{}).AuthorizeWith(ctx, raw, expiresIn)
}

func (f *fakeAuthorizator) Validate(context.Context, string) error {
	f.validateCalls.Add(1)
	return f.validateErr
}

type captchaFunc func(ctx context.Context, sid, imageURL string) (string, error)

func (f captchaFunc) Present(ctx context.Context, sid, imageURL string) (string, error) {
	return f(ctx, sid, imageURL)
}

// apiServer answers /method/* with handler and counts hits.
type apiServer struct {
	*httptest.Server
	hits atomic.Int32
}

func newAPIServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, hit int32)) *apiServer {
	t.Helper()
	s := &apiServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, s.hits.Add(1))
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestFactory(t *testing.T, srv *apiServer, deps Dependencies) *Factory {
	t.Helper()
	host := "https://api.example.com/method/"
	if srv != nil {
		host = srv.URL + "/method/"
	}
	b, err := wire.NewBuilder(host, "5.199", "en")
	require.NoError(t, err)

	deps.AppID = appID
	deps.Client = httpclient.NewClient(logger.Nop())
	deps.Builder = b
	if deps.Storage == nil {
		deps.Storage = token.NewMemoryStorage()
	}
	f, err := NewFactory(deps)
	require.NoError(t, err)
	return f
}

func newTestSession(t *testing.T, f *Factory) *Session {
	t.Helper()
	s := f.NewSession(Options{ID: "s1"})
	t.Cleanup(s.shutdown)
	return s
}

func awaitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

func TestNewFactoryRequiresTransportAndBuilder(t *testing.T) {
	_, err := NewFactory(Dependencies{})
	assert.Error(t, err)

	_, err = NewFactory(Dependencies{Client: httpclient.NewClient(logger.Nop())})
	assert.Error(t, err)
}

func TestSessionSendInjectsToken(t *testing.T) {
	var gotToken atomic.Value
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		gotToken.Store(r.URL.Query().Get(wire.ParamAccessToken))
		_, _ = w.Write([]byte(`{"response":{"id":1}}`))
	})
	s := newTestSession(t, newTestFactory(t, srv, Dependencies{}))
	require.NoError(t, s.LogInWith(awaitCtx(t), "secret", time.Hour))

	payload, err := s.Await(awaitCtx(t), request.New(request.API("users.get", nil), request.Config{}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, string(payload))
	assert.Equal(t, "secret", gotToken.Load())
	assert.Empty(t, s.ActiveTasks())
}

func TestSendSharesRequestAcrossSessions(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		_, _ = w.Write([]byte(`{"response":"` + r.URL.Query().Get(wire.ParamLanguage) + `"}`))
	})
	f := newTestFactory(t, srv, Dependencies{})
	ru := f.NewSession(Options{ID: "a", Config: request.DefaultConfig().Mutated(request.WithLanguage("ru"))})
	de := f.NewSession(Options{ID: "b", Config: request.DefaultConfig().Mutated(request.WithLanguage("de"))})
	t.Cleanup(ru.shutdown)
	t.Cleanup(de.shutdown)

	req := request.New(request.API("users.get", nil), request.Config{})

	const rounds = 5
	var wg sync.WaitGroup
	for _, tc := range []struct {
		s    *Session
		lang string
	}{{ru, "ru"}, {de, "de"}} {
		for range rounds {
			wg.Add(1)
			go func() {
				defer wg.Done()
				payload, err := tc.s.Await(awaitCtx(t), req)
				assert.NoError(t, err)
				assert.Equal(t, `"`+tc.lang+`"`, string(payload))
			}()
		}
	}
	wg.Wait()

	assert.True(t, req.Config.IsZero(), "session defaults must not leak into the caller's request")
	assert.EqualValues(t, 2*rounds, srv.hits.Load())
}

func TestDeadSessionNeverContactsTransport(t *testing.T) {
	srv := newAPIServer(t, func(w http.ResponseWriter, _ *http.Request, _ int32) {
		_, _ = w.Write([]byte(`{"response":1}`))
	})
	s := newTestSession(t, newTestFactory(t, srv, Dependencies{}))
	s.Die()

	var gotErr error
	tk := s.Send(request.New(request.API("users.get", nil), request.DefaultConfig()), request.Callbacks{
		OnError: func(err error) { gotErr = err },
	})

	assert.Equal(t, task.Failed, tk.State())
	assert.ErrorIs(t, gotErr, ErrSessionIsDead)
	assert.Zero(t, srv.hits.Load())
	assert.ErrorIs(t, s.Schedule(nil, false), ErrSessionIsDead)
	assert.ErrorIs(t, s.LogIn(awaitCtx(t)), ErrSessionIsDead)
	assert.Equal(t, Dead, s.State())
}

func TestSessionSendRejectsInvalidConfig(t *testing.T) {
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{}))

	tk := s.Send(request.New(request.API("a", nil), request.DefaultConfig().Mutated(request.WithHTTPMethod("PUT"))), request.Callbacks{})
	_, err := tk.Result()
	assert.ErrorIs(t, err, request.ErrInvalidConfig)

	tk = s.Send(nil, request.Callbacks{})
	_, err = tk.Result()
	assert.ErrorIs(t, err, attempt.ErrWrongAttemptType)
}

func TestLogIn(t *testing.T) {
	t.Run("adopts_stored_token", func(t *testing.T) {
		storage := token.NewMemoryStorage()
		require.NoError(t, storage.Save(context.Background(), token.Key(appID, "s1"), token.New("stored", time.Hour, nil)))
		auth := &fakeAuthorizator{}
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Storage: storage, Authorizator: auth}))

		require.NoError(t, s.LogIn(awaitCtx(t)))
		assert.Equal(t, Authorized, s.State())
		assert.Equal(t, "stored", s.Token().Value)
		assert.Zero(t, auth.authorizeCalls.Load())
	})

	t.Run("authorizes_and_persists", func(t *testing.T) {
		storage := token.NewMemoryStorage()
		auth := &fakeAuthorizator{tok: token.New("fresh", 0, nil)}
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Storage: storage, Authorizator: auth}))

		require.NoError(t, s.LogIn(awaitCtx(t)))
		assert.Equal(t, Authorized, s.State())

		stored, err := storage.Load(context.Background(), token.Key(appID, "s1"))
		require.NoError(t, err)
		assert.Equal(t, "fresh", stored.Value)
	})

	t.Run("expired_stored_token_is_replaced", func(t *testing.T) {
		storage := token.NewMemoryStorage()
		expired := &token.Token{Value: "old", ExpiresAt: time.Now().Add(-time.Minute)}
		require.NoError(t, storage.Save(context.Background(), token.Key(appID, "s1"), expired))
		auth := &fakeAuthorizator{tok: token.New("fresh", 0, nil)}
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Storage: storage, Authorizator: auth}))

		require.NoError(t, s.LogIn(awaitCtx(t)))
		assert.Equal(t, "fresh", s.Token().Value)
		assert.EqualValues(t, 1, auth.authorizeCalls.Load())
	})

	t.Run("failure_keeps_initiated", func(t *testing.T) {
		auth := &fakeAuthorizator{err: ErrAuthorizationDenied}
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Authorizator: auth}))

		assert.ErrorIs(t, s.LogIn(awaitCtx(t)), ErrAuthorizationDenied)
		assert.Equal(t, Initiated, s.State())
		assert.Nil(t, s.Token())
	})
}

func TestLogInWithAndLogOut(t *testing.T) {
	storage := token.NewMemoryStorage()
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{Storage: storage}))
	key := token.Key(appID, "s1")

	require.NoError(t, s.LogOut(awaitCtx(t)), "logout without token is a no-op")

	require.NoError(t, s.LogInWith(awaitCtx(t), "raw", 0))
	assert.Equal(t, Authorized, s.State())
	_, err := storage.Load(context.Background(), key)
	require.NoError(t, err)

	require.NoError(t, s.LogOut(awaitCtx(t)))
	assert.Equal(t, Initiated, s.State())
	assert.Nil(t, s.Token())
	_, err = storage.Load(context.Background(), key)
	assert.ErrorIs(t, err, token.ErrNotFound)

	assert.ErrorIs(t, s.LogInWith(awaitCtx(t), " ", 0), ErrAuthorizationFailed)
}

func TestTokenIsCopied(t *testing.T) {
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{}))
	require.NoError(t, s.LogInWith(awaitCtx(t), "raw", 0))

	tok := s.Token()
	tok.Value = "changed"
	assert.Equal(t, "raw", s.Token().Value)
}

func TestSessionReauthorizesOnCode5(t *testing.T) {
	var mu sync.Mutex
	var tokens []string
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request, hit int32) {
		mu.Lock()
		tokens = append(tokens, r.URL.Query().Get(wire.ParamAccessToken))
		mu.Unlock()
		if hit == 1 {
			_, _ = w.Write([]byte(`{"error":{"error_code":5,"error_msg":"User authorization failed"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":"ok"}`))
	})
	auth := &fakeAuthorizator{tok: token.New("new", 0, nil)}
	s := newTestSession(t, newTestFactory(t, srv, Dependencies{Authorizator: auth}))
	require.NoError(t, s.LogInWith(awaitCtx(t), "old", 0))

	payload, err := s.Await(awaitCtx(t), request.New(request.API("users.get", nil), request.DefaultConfig()))
	require.NoError(t, err)
	assert.Equal(t, `"ok"`, string(payload))
	assert.EqualValues(t, 1, auth.authorizeCalls.Load())
	assert.EqualValues(t, 2, srv.hits.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"old", "new"}, tokens)
}

func TestReauthorizeIsShared(t *testing.T) {
	auth := &fakeAuthorizator{tok: token.New("new", 0, nil), gate: make(chan struct{})}
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{Authorizator: auth}))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Reauthorize(awaitCtx(t))
		}()
	}

	require.Eventually(t, func() bool { return auth.authorizeCalls.Load() == 1 }, waitTimeout, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(auth.gate)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.EqualValues(t, 1, auth.authorizeCalls.Load())
	assert.Equal(t, "new", s.Token().Value)
}

func TestReauthorizeCallerCancellation(t *testing.T) {
	auth := &fakeAuthorizator{tok: token.New("new", 0, nil), gate: make(chan struct{})}
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{Authorizator: auth}))
	defer close(auth.gate)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Reauthorize(ctx) }()

	require.Eventually(t, func() bool { return auth.authorizeCalls.Load() == 1 }, waitTimeout, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("Reauthorize did not return after cancellation")
	}
}

func TestValidateRedirect(t *testing.T) {
	auth := &fakeAuthorizator{}
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{Authorizator: auth}))

	require.NoError(t, s.ValidateRedirect(awaitCtx(t), "https://m.example.com/check"))
	assert.EqualValues(t, 1, auth.validateCalls.Load())

	auth.validateErr = ErrAuthorizationDenied
	assert.ErrorIs(t, s.ValidateRedirect(awaitCtx(t), "https://m.example.com/check"), ErrAuthorizationDenied)
}

func TestSolveCaptcha(t *testing.T) {
	t.Run("missing_presenter", func(t *testing.T) {
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{}))
		_, err := s.SolveCaptcha(awaitCtx(t), "1", "https://img")
		assert.ErrorIs(t, err, ErrCaptchaPresenterMissing)
	})

	t.Run("one_prompt_at_a_time", func(t *testing.T) {
		var active, peak atomic.Int32
		presenter := captchaFunc(func(_ context.Context, sid, _ string) (string, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			active.Add(-1)
			return "answer-" + sid, nil
		})
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Captcha: presenter}))

		var wg sync.WaitGroup
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				answer, err := s.SolveCaptcha(awaitCtx(t), "7", "https://img")
				assert.NoError(t, err)
				assert.Equal(t, "answer-7", answer)
			}()
		}
		wg.Wait()
		assert.EqualValues(t, 1, peak.Load())
	})

	t.Run("timeout", func(t *testing.T) {
		presenter := captchaFunc(func(ctx context.Context, _, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		})
		f := newTestFactory(t, nil, Dependencies{Captcha: presenter})
		s := f.NewSession(Options{CaptchaTimeout: 10 * time.Millisecond})
		t.Cleanup(s.shutdown)

		_, err := s.SolveCaptcha(awaitCtx(t), "1", "https://img")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("session_death_aborts", func(t *testing.T) {
		entered := make(chan struct{})
		presenter := captchaFunc(func(ctx context.Context, _, _ string) (string, error) {
			close(entered)
			<-ctx.Done()
			return "", ctx.Err()
		})
		s := newTestSession(t, newTestFactory(t, nil, Dependencies{Captcha: presenter}))

		done := make(chan error, 1)
		go func() {
			_, err := s.SolveCaptcha(awaitCtx(t), "1", "https://img")
			done <- err
		}()
		<-entered
		s.Die()

		select {
		case err := <-done:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(waitTimeout):
			t.Fatal("captcha was not abandoned")
		}
	})
}

func TestDieCancelsActiveTasks(t *testing.T) {
	release := make(chan struct{})
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"response":1}`))
	})
	defer close(release)
	s := newTestSession(t, newTestFactory(t, srv, Dependencies{}))

	var callbacks atomic.Int32
	cb := request.Callbacks{
		OnSuccess: func([]byte) { callbacks.Add(1) },
		OnError:   func(error) { callbacks.Add(1) },
	}
	tk := s.Send(request.New(request.URL(srv.URL+"/slow"), request.DefaultConfig()), cb)
	require.Eventually(t, func() bool { return srv.hits.Load() == 1 }, waitTimeout, time.Millisecond)
	require.Len(t, s.ActiveTasks(), 1)

	s.Die()

	_, err := tk.Wait(awaitCtx(t))
	assert.ErrorIs(t, err, task.ErrCancelled)
	assert.Equal(t, Dead, s.State())
	assert.Empty(t, s.ActiveTasks())
	assert.Zero(t, callbacks.Load())
}

func TestSetAttemptLimit(t *testing.T) {
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{}))
	assert.True(t, s.SchedulerStats().Limit.IsUnlimited())

	s.SetAttemptLimit(attempt.Limited(5))
	assert.Equal(t, 5, s.SchedulerStats().Limit.Count())
}

func TestAwaitCancelsOnContext(t *testing.T) {
	release := make(chan struct{})
	srv := newAPIServer(t, func(w http.ResponseWriter, r *http.Request, _ int32) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	s := newTestSession(t, newTestFactory(t, srv, Dependencies{}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Await(ctx, request.New(request.API("a", nil), request.DefaultConfig()))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Eventually(t, func() bool { return len(s.ActiveTasks()) == 0 }, waitTimeout, time.Millisecond)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "dead", Dead.String())
	assert.Equal(t, "initiated", Initiated.String())
	assert.Equal(t, "authorized", Authorized.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestRestore(t *testing.T) {
	storage := token.NewMemoryStorage()
	auth := &fakeAuthorizator{}
	s := newTestSession(t, newTestFactory(t, nil, Dependencies{Storage: storage, Authorizator: auth}))

	restored, err := s.Restore(awaitCtx(t))
	require.NoError(t, err)
	assert.False(t, restored)
	assert.Equal(t, Initiated, s.State())

	require.NoError(t, storage.Save(context.Background(), token.Key(appID, "s1"), token.New("stored", 0, nil)))
	restored, err = s.Restore(awaitCtx(t))
	require.NoError(t, err)
	assert.True(t, restored)
	assert.Equal(t, Authorized, s.State())
	assert.Zero(t, auth.authorizeCalls.Load())
}
