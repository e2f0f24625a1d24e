package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryServerInterceptor(t *testing.T) {
	tests := []struct {
		name       string
		handlerErr error
		wantErrors uint64
	}{
		{
			name:       "正常系: successful call is counted without error",
			handlerErr: nil,
			wantErrors: 0,
		},
		{
			name:       "正常系: client mistakes are not errors",
			handlerErr: status.Error(codes.NotFound, "no such entity"),
			wantErrors: 0,
		},
		{
			name:       "異常系: internal failure is counted",
			handlerErr: status.Error(codes.Internal, "boom"),
			wantErrors: 1,
		},
		{
			name:       "異常系: plain error counts as unknown",
			handlerErr: errors.New("boom"),
			wantErrors: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector := NewCollector()
			exporter := NewPrometheusExporterWith(collector, prometheus.NewRegistry())
			interceptor := UnaryServerInterceptor(collector, exporter)

			handler := func(ctx context.Context, req any) (any, error) {
				return "ok", tt.handlerErr
			}
			info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

			_, err := interceptor(context.Background(), "req", info, handler)
			if !errors.Is(err, tt.handlerErr) {
				t.Fatalf("interceptor() error = %v, want %v", err, tt.handlerErr)
			}

			api := collector.GetAPIMetrics()
			if got := api.RequestCounts[info.FullMethod]; got != 1 {
				t.Errorf("RequestCounts = %d, want 1", got)
			}
			if _, ok := api.TotalDurationSeconds[info.FullMethod]; !ok {
				t.Error("expected duration to be recorded")
			}
			if got := api.ErrorCounts[info.FullMethod]; got != tt.wantErrors {
				t.Errorf("ErrorCounts = %d, want %d", got, tt.wantErrors)
			}
			if got := testutil.ToFloat64(exporter.requests.WithLabelValues(info.FullMethod)); got != 1 {
				t.Errorf("exported requests = %v, want 1", got)
			}
			if got := testutil.ToFloat64(exporter.requestErrors.WithLabelValues(info.FullMethod)); got != float64(tt.wantErrors) {
				t.Errorf("exported errors = %v, want %d", got, tt.wantErrors)
			}
		})
	}
}

func TestUnaryServerInterceptor_NilExporter(t *testing.T) {
	collector := NewCollector()
	interceptor := UnaryServerInterceptor(collector, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}

	for range 3 {
		if _, err := interceptor(context.Background(), nil, info, func(ctx context.Context, req any) (any, error) {
			return nil, nil
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := collector.GetAPIMetrics().RequestCounts[info.FullMethod]; got != 3 {
		t.Errorf("RequestCounts = %d, want 3", got)
	}
}
