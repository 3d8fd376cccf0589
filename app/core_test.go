package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orchestrix/ctrlplane/core"
	"github.com/orchestrix/ctrlplane/router"
)

type fakeSandboxBackend struct{}

func (fakeSandboxBackend) Create(ctx context.Context, image string, cmd []string, mounts []core.SandboxMount, env map[string]string, limits core.SandboxLimits) (string, error) {
	return "handle-1", nil
}
func (fakeSandboxBackend) Start(ctx context.Context, handle string) error { return nil }
func (fakeSandboxBackend) Wait(ctx context.Context, handle string, timeoutSec int) (int, error) {
	return 0, nil
}
func (fakeSandboxBackend) Logs(ctx context.Context, handle string) (string, string, error) {
	return "", "", nil
}
func (fakeSandboxBackend) Stats(ctx context.Context, handle string) (core.SandboxUsage, error) {
	return core.SandboxUsage{}, nil
}
func (fakeSandboxBackend) Remove(ctx context.Context, handle string, force bool) error { return nil }

type fakePrimaryClient struct {
	healthy bool
}

func (f *fakePrimaryClient) Send(ctx context.Context, req router.Request) (*router.Response, error) {
	return &router.Response{Content: "ok", Service: req.Service, Source: "primary"}, nil
}

func (f *fakePrimaryClient) HealthCheck(ctx context.Context) error {
	if f.healthy {
		return nil
	}
	return context.DeadlineExceeded
}

func testConfig(t *testing.T) *core.Config {
	t.Helper()
	cfg, err := core.NewConfig(core.WithLogger(&core.NoOpLogger{}))
	require.NoError(t, err)
	return cfg
}

func newTestCore(t *testing.T, opts ...Option) *Core {
	t.Helper()
	base := []Option{
		WithLogStore(core.NewMemoryLogStore()),
		WithQueueKVStore(core.NewMemoryKVStore()),
		WithSagaKVStore(core.NewMemoryKVStore()),
		WithSandboxBackend(fakeSandboxBackend{}),
	}
	c, err := New(context.Background(), testConfig(t), append(base, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew_WiresEveryComponentWithoutRedisOrDocker(t *testing.T) {
	c := newTestCore(t)

	require.NotNil(t, c.Queue)
	require.NotNil(t, c.Workers)
	require.NotNil(t, c.Saga)
	require.NotNil(t, c.Isolation)
	require.NotNil(t, c.Sandbox)
	require.NotNil(t, c.Router)
	require.NotNil(t, c.Audit)
	require.NotNil(t, c.Notifier)
	require.Empty(t, c.redisClients)

	// No primary client configured: no monitor, no auto-restart surface.
	require.Nil(t, c.Monitor)

	// No master password configured: encryption degrades off, not fatal.
	require.Nil(t, c.Encryptor)
	require.Nil(t, c.KeyManager)
}

func TestNew_PrimaryClientEnablesMonitor(t *testing.T) {
	primary := &fakePrimaryClient{healthy: true}
	c := newTestCore(t, WithPrimaryClient(primary))

	require.NotNil(t, c.Monitor)
	require.Equal(t, router.ModePrimary, c.Router.Mode())
}

func TestNew_MasterPasswordEnablesEncryptor(t *testing.T) {
	t.Setenv("CTRL_MASTER_PASSWORD", "correct horse battery staple")
	c := newTestCore(t)

	require.NotNil(t, c.Encryptor)
	require.NotNil(t, c.KeyManager)

	ciphertext, err := c.Encryptor.Encrypt([]byte("secret"))
	require.NoError(t, err)
	plaintext, err := c.Encryptor.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "secret", string(plaintext))
}

func TestNew_NilConfigIsRejected(t *testing.T) {
	_, err := New(context.Background(), nil)
	require.Error(t, err)
}

func TestCore_StartAndCloseLifecycle(t *testing.T) {
	c := newTestCore(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, c.Start(ctx))

	// Background loops (isolation monitor, worker pool) are now running;
	// give them a moment to actually begin before tearing down.
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, c.Close(context.Background()))
}

func TestCore_CloseWithoutStartIsSafe(t *testing.T) {
	c := newTestCore(t)
	require.NoError(t, c.Close(context.Background()))
}
