package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	commonauth "jobtalk/server/common/auth"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("REQUEST_TIMEOUT", "3")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://jobs.example.com, https://jobs.example.com,https://admin.example.com")

	cfg := LoadConfig()
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, StoreDriverMemory, cfg.StoreDriver)
	assert.Equal(t, 3*time.Second, cfg.RequestTimeout)
	assert.Equal(t, []string{"https://jobs.example.com", "https://admin.example.com"}, cfg.AllowedOrigins)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{StoreDriver: StoreDriverMemory}
	assert.Error(t, cfg.Validate())

	cfg.JWTSecret = "short"
	cfg.AppEnv = "production"
	assert.Error(t, cfg.Validate())

	cfg.AppEnv = "development"
	cfg.StoreDriver = "mongo"
	assert.Error(t, cfg.Validate())
}

func TestNewServerWithMemoryStoreAndRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	srv, err := NewServer(context.Background(), Config{
		Port:           "0",
		JWTSecret:      "secret",
		StoreDriver:    StoreDriverMemory,
		RedisEnabled:   true,
		RedisAddr:      mr.Addr(),
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	rec := httptest.NewRecorder()
	srv.HTTPServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNewServerFailsWhenRedisIsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewServer(context.Background(), Config{
		JWTSecret:    "secret",
		StoreDriver:  StoreDriverMemory,
		RedisEnabled: true,
		RedisAddr:    addr,
	})
	assert.ErrorContains(t, err, "connect redis")
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	srv, err := NewServer(context.Background(), Config{
		Port:           "0",
		JWTSecret:      "secret",
		StoreDriver:    StoreDriverMemory,
		RequestTimeout: time.Second,
	})
	require.NoError(t, err)
	httpSrv := httptest.NewServer(srv.HTTPServer.Handler)
	t.Cleanup(httpSrv.Close)

	token, err := commonauth.NewService("secret", time.Hour).GenerateToken(commonauth.Identity{UserID: "u-alice", Role: commonauth.RoleJobseeker})
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(httpSrv.URL, "http")+"/ws?access_token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return srv.hub.IsOnline("u-alice") }, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err = conn.ReadMessage(); err != nil {
			break
		}
	}
	var netErr interface{ Timeout() bool }
	if assert.Error(t, err) && errors.As(err, &netErr) {
		assert.False(t, netErr.Timeout(), "connection was not closed by the server")
	}
	assert.Eventually(t, func() bool { return !srv.hub.IsOnline("u-alice") }, 2*time.Second, 10*time.Millisecond)
}
