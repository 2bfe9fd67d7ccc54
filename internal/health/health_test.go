package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"yuzu/interview/internal/llm"
	"yuzu/interview/internal/store"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestLLMCheck(t *testing.T) {
	r := LLMCheck("echo", nil)(context.Background())
	require.True(t, r.OK)
	require.Equal(t, "llm:echo", r.Name)

	up := pingFunc(func(context.Context) error { return nil })
	require.True(t, LLMCheck("openai:gpt-4o-mini", up)(context.Background()).OK)

	down := pingFunc(func(context.Context) error { return errors.New("401 Unauthorized") })
	r = LLMCheck("openai:gpt-4o-mini", down)(context.Background())
	require.False(t, r.OK)
	require.Contains(t, r.Error, "401")
}

func TestLLMCheckWithOpenAI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/models" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
	}))
	defer srv.Close()

	good, err := llm.NewOpenAI("good", "gpt-4o-mini", llm.WithBaseURL(srv.URL+"/v1/"), llm.WithMaxRetries(0))
	require.NoError(t, err)
	require.True(t, LLMCheck(good.Name(), good)(context.Background()).OK)

	bad, err := llm.NewOpenAI("bad", "gpt-4o-mini", llm.WithBaseURL(srv.URL+"/v1/"), llm.WithMaxRetries(0))
	require.NoError(t, err)
	r := LLMCheck(bad.Name(), bad)(context.Background())
	require.False(t, r.OK)
	require.Contains(t, r.Error, "401")
}

func TestCheckAll(t *testing.T) {
	failing := func(context.Context) CheckResult { return CheckResult{Name: "x", Error: "down"} }

	st := CheckAll(context.Background(), StoreCheck(store.New()))
	require.True(t, st.OK)
	require.Len(t, st.Checks, 1)

	st = CheckAll(context.Background(), StoreCheck(store.New()), failing)
	require.False(t, st.OK)
	require.Contains(t, st.String(), "✗ x")
}

func TestGRPCHealth(t *testing.T) {
	ready := false
	check := func(context.Context) CheckResult { return CheckResult{Name: "flag", OK: ready} }
	g := NewGRPCServer(nil, check)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() { _ = g.Serve(lis) }()
	defer g.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	g.Refresh(ctx)
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	ready = true
	g.Refresh(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
