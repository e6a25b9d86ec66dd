package sdk

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/vkflow/config"
	"github.com/gaborage/vkflow/logger"
	"github.com/gaborage/vkflow/metrics"
	"github.com/gaborage/vkflow/request"
	"github.com/gaborage/vkflow/session"
	"github.com/gaborage/vkflow/token"
)

func testConfig(host string) *config.Config {
	cfg := config.Default("app")
	if host != "" {
		cfg.API.Host = host
	}
	return cfg
}

func newTestSDK(t *testing.T, cfg *config.Config, opts ...Option) *SDK {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Nop())}, opts...)
	s, err := New(context.Background(), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestNewBuildsDefaultSession(t *testing.T) {
	s := newTestSDK(t, testConfig(""))

	def := s.Default()
	require.NotNil(t, def)
	assert.Equal(t, DefaultSessionID, def.ID())
	assert.Equal(t, session.Initiated, def.State())
	assert.Equal(t, 3, def.SchedulerStats().Limit.Count())
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.Error(t, err)

	cfg := testConfig("not a url")
	_, err = New(context.Background(), cfg, WithLogger(logger.Nop()))
	assert.Error(t, err)

	cfg = testConfig("")
	cfg.Token.Store.Type = "nowhere"
	_, err = New(context.Background(), cfg, WithLogger(logger.Nop()))
	assert.ErrorContains(t, err, "unknown token store type")
}

func TestEndToEndWithMetrics(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "secret" {
			_, _ = w.Write([]byte(`{"error":{"error_code":100,"error_msg":"no token"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"response":[{"id":1,"first_name":"Pavel"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL + "/method/")
	cfg.Metrics.Enabled = true
	cfg.Metrics.Interval = time.Hour
	var out bytes.Buffer

	s, err := New(context.Background(), cfg, WithLogger(logger.Nop()), WithMetricsWriter(&out))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Default().LogInWith(ctx, "secret", 0))

	payload, err := s.Default().Await(ctx, request.New(request.API("users.get", request.Parameters{"user_ids": "1"}), request.Config{}))
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"first_name":"Pavel"}]`, string(payload))

	require.NoError(t, s.Close(context.Background()))
	assert.Contains(t, out.String(), metrics.MetricAttempts)
	assert.Contains(t, out.String(), metrics.MetricTasks)
	assert.Equal(t, session.Dead, s.Default().State())
}

func TestSessionOptionsAndRequestConfig(t *testing.T) {
	cfg := testConfig("")
	cfg.Request.MaxAttempts = 0
	cfg.Request.Method = request.MethodPost
	cfg.Request.RetryDelay = 50 * time.Millisecond
	cfg.Scheduler.Limit = 0
	cfg.API.Language = "ru"

	opts := SessionOptions(cfg, "x")
	assert.Equal(t, "x", opts.ID)
	assert.True(t, opts.Limit.IsUnlimited())
	assert.Equal(t, cfg.Recovery.CaptchaTimeout, opts.CaptchaTimeout)

	rc := opts.Config
	assert.Equal(t, 10*time.Second, rc.Timeout)
	assert.Zero(t, rc.MaxAttempts)
	assert.Equal(t, request.MethodPost, rc.HTTPMethod)
	assert.True(t, rc.CatchErrors)
	assert.Equal(t, 50*time.Millisecond, rc.RetryDelay)
	assert.Equal(t, "ru", rc.Language)
	assert.NoError(t, rc.Validate())
}

func TestNewStorage(t *testing.T) {
	ctx := context.Background()
	tok := token.New("abc", time.Hour, map[string]string{"user_id": "1"})

	roundTrip := func(t *testing.T, st token.Storage) {
		t.Helper()
		require.NoError(t, st.Save(ctx, "app:default", tok))
		got, err := st.Load(ctx, "app:default")
		require.NoError(t, err)
		assert.Equal(t, tok.Value, got.Value)
		assert.True(t, tok.ExpiresAt.Equal(got.ExpiresAt))
	}

	t.Run("memory", func(t *testing.T) {
		st, closer, err := NewStorage(ctx, config.TokenStoreConfig{Type: config.StoreMemory})
		require.NoError(t, err)
		assert.Nil(t, closer)
		roundTrip(t, st)
	})

	t.Run("file", func(t *testing.T) {
		st, _, err := NewStorage(ctx, config.TokenStoreConfig{Type: config.StoreFile, Path: t.TempDir()})
		require.NoError(t, err)
		roundTrip(t, st)
	})

	t.Run("file_without_path", func(t *testing.T) {
		_, _, err := NewStorage(ctx, config.TokenStoreConfig{Type: config.StoreFile})
		assert.Error(t, err)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		st, closer, err := NewStorage(ctx, config.TokenStoreConfig{
			Type:  config.StoreRedis,
			Redis: config.RedisStoreConfig{Addr: mr.Addr(), Prefix: "test:"},
		})
		require.NoError(t, err)
		roundTrip(t, st)
		assert.True(t, mr.Exists("test:app:default"))
		require.NoError(t, closer(ctx))
	})

	t.Run("sql", func(t *testing.T) {
		const dsn = "sdk_token_store"
		_, mock, err := sqlmock.NewWithDSN(dsn)
		require.NoError(t, err)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS vkflow_tokens").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectClose()

		st, closer, err := NewStorage(ctx, config.TokenStoreConfig{
			Type: config.StoreSQL,
			SQL:  config.SQLStoreConfig{Driver: "sqlmock", DSN: dsn, Table: "vkflow_tokens"},
		})
		require.NoError(t, err)
		assert.NotNil(t, st)
		require.NoError(t, closer(ctx))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
