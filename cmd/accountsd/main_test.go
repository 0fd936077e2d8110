package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acc "github.com/panyam/accounts"
	"github.com/panyam/accounts/config"
	"github.com/panyam/accounts/senders"
	"github.com/panyam/accounts/stores"
	redisstore "github.com/panyam/accounts/stores/redis"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	require.NoError(t, fs.Parse(append([]string{"--jwt.secret=test", "--store.path=" + t.TempDir()}, args...)))
	cfg, err := config.Load("", fs)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestVersionCmd(t *testing.T) {
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "accountsd dev")
}

func TestServeCmd_RejectsInvalidConfig(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"serve", "--store.driver=mongo", "--jwt.secret=x"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestOpenBackends_FS(t *testing.T) {
	b, err := openBackends(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &stores.FSUserStore{}, b.users)
	assert.IsType(t, &stores.FSTokenStore{}, b.tokens)
	assert.Nil(t, b.limiter)
}

func TestOpenBackends_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := openBackends(context.Background(), testConfig(t, "--redis.addr="+mr.Addr()))
	require.NoError(t, err)
	defer b.Close()

	assert.IsType(t, &redisstore.TokenStore{}, b.tokens)
	assert.IsType(t, &redisstore.RateLimiter{}, b.limiter)
}

func TestOpenBackends_RedisUnreachable(t *testing.T) {
	_, err := openBackends(context.Background(), testConfig(t, "--redis.addr=127.0.0.1:1"))
	assert.Error(t, err)
}

func TestNewEmailSender(t *testing.T) {
	assert.IsType(t, &acc.ConsoleEmailSender{}, newEmailSender(testConfig(t), nil))
	assert.IsType(t, &senders.SendGridSender{},
		newEmailSender(testConfig(t, "--email.provider=sendgrid", "--email.sendgrid_key=k"), nil))
}

func TestNewAccounts(t *testing.T) {
	cfg := testConfig(t, "--signin.lockout_on_failure=true")
	b, err := openBackends(context.Background(), cfg)
	require.NoError(t, err)
	defer b.Close()

	a := newAccounts(cfg, b, prometheus.NewRegistry(), nil)
	assert.True(t, a.LockoutOnFailure)
	assert.Equal(t, "test", a.JWTSecretKey)
	require.NotNil(t, a.Users)
	require.NotNil(t, a.Recovery)

	_, err = a.Handler()
	require.NoError(t, err)
}

func TestSweepExpiredTokens(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tokens := stores.NewFSTokenStore(t.TempDir())

	expired, err := acc.NewAuthToken("u1", "a@example.com", acc.TokenTypePasswordReset, -time.Minute)
	require.NoError(t, err)
	live, err := acc.NewAuthToken("u1", "a@example.com", acc.TokenTypePasswordReset, time.Hour)
	require.NoError(t, err)
	require.NoError(t, tokens.SaveToken(ctx, expired))
	require.NoError(t, tokens.SaveToken(ctx, live))

	expiredPath := filepath.Join(tokens.StoragePath, "tokens", expired.TokenHash+".json")
	go sweepExpiredTokens(ctx, tokens, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	require.Eventually(t, func() bool {
		_, err := os.Stat(expiredPath)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)

	got, err := tokens.GetToken(ctx, live.TokenHash)
	require.NoError(t, err)
	assert.Equal(t, live.UserID, got.UserID)
}
