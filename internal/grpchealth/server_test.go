package grpchealth

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/namaskah/namaskah-sms/backend/services/orchestrator"
)

type fakeSource struct {
	mu    sync.Mutex
	stats orchestrator.Stats
}

func (f *fakeSource) GetProviderStats() orchestrator.Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *fakeSource) set(stats orchestrator.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

func check(t *testing.T, s *Server, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestServer_Sync(t *testing.T) {
	source := &fakeSource{}
	s := NewServer("127.0.0.1:0", source, zaptest.NewLogger(t))

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, ""))

	source.set(orchestrator.Stats{
		TotalProviders:     2,
		AvailableProviders: 1,
		Providers: []orchestrator.ProviderStats{
			{Name: "smsactivate", Available: true},
			{Name: "fivesim", Available: false},
		},
	})
	s.Sync(context.Background())

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, s, "sms.provider.smsactivate"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, "sms.provider.fivesim"))

	source.set(orchestrator.Stats{
		TotalProviders: 2,
		Providers: []orchestrator.ProviderStats{
			{Name: "smsactivate", Available: false},
			{Name: "fivesim", Available: false},
		},
	})
	s.Sync(context.Background())

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, "sms.provider.smsactivate"))

	_, err := s.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "sms.provider.unknown"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_SyncSkipsCancelledContext(t *testing.T) {
	source := &fakeSource{stats: orchestrator.Stats{AvailableProviders: 1}}
	s := NewServer("127.0.0.1:0", source, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.Sync(ctx)

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, s, ""))
}

func TestServer_ServesOverGRPC(t *testing.T) {
	source := &fakeSource{stats: orchestrator.Stats{
		TotalProviders:     1,
		AvailableProviders: 1,
		Providers:          []orchestrator.ProviderStats{{Name: "textverified", Available: true}},
	}}
	s := NewServer("bufnet", source, zaptest.NewLogger(t))
	s.Sync(context.Background())

	listener := bufconn.Listen(1 << 20)
	s.Serve(listener)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	t.Cleanup(func() { s.Stop(ctx) })

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	client := healthpb.NewHealthClient(conn)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: "sms.provider.textverified"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestServer_RunStopsWithContext(t *testing.T) {
	source := &fakeSource{stats: orchestrator.Stats{AvailableProviders: 1}}
	s := NewServer("127.0.0.1:0", source, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		return check(t, s, "") == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
