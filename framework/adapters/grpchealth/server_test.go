package grpchealth

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type toggleChecker struct {
	failing atomic.Bool
}

func (c *toggleChecker) Check(ctx context.Context) error {
	if c.failing.Load() {
		return errors.New("store unavailable")
	}
	return nil
}

func startBufconn(t *testing.T, srv *Server) healthpb.HealthClient {
	t.Helper()
	listener := bufconn.Listen(1 << 20)
	require.NoError(t, srv.Serve(context.Background(), listener))
	t.Cleanup(func() { _ = srv.Stop(context.Background()) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func TestHealthService(t *testing.T) {
	checker := &toggleChecker{}
	cfg := DefaultConfig()
	cfg.CheckInterval = time.Hour
	srv := NewServer(cfg, checker)
	client := startBufconn(t, srv)
	ctx := context.Background()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "activities"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	checker.failing.Store(true)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, srv.Refresh(ctx))

	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "activities"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	_, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}

func TestLifecycle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.Addr = "127.0.0.1:0"
	require.NoError(t, cfg.Validate())

	srv := NewServer(cfg, nil)
	ctx := context.Background()
	require.NoError(t, srv.Start(ctx))
	assert.True(t, srv.IsRunning())
	require.NoError(t, srv.Stop(ctx))
	assert.False(t, srv.IsRunning())
	require.NoError(t, srv.Stop(ctx))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.CheckInterval = 0
	assert.Error(t, cfg.Validate())
}
