package metrics

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// UnaryServerInterceptor records metrics for each gRPC call, labelled with the
// full method name. Calls failing with a server-side code count as errors;
// NotFound, InvalidArgument and similar client mistakes do not.
func UnaryServerInterceptor(collector *Collector, exporter *PrometheusExporter) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(collector, exporter, info.FullMethod, time.Since(start), serverFault(status.Code(err)))
		return resp, err
	}
}

func serverFault(code codes.Code) bool {
	switch code {
	case codes.Unknown, codes.Internal, codes.Unavailable, codes.DataLoss, codes.DeadlineExceeded, codes.Unimplemented:
		return true
	}
	return false
}

// observe records one request against both sinks
func observe(collector *Collector, exporter *PrometheusExporter, label string, d time.Duration, failed bool) {
	seconds := d.Seconds()
	collector.RecordRequest(label)
	collector.RecordDuration(label, seconds)
	if failed {
		collector.RecordError(label)
	}
	if exporter == nil {
		return
	}
	exporter.RecordRequest(label)
	exporter.RecordDuration(label, seconds)
	if failed {
		exporter.RecordError(label)
	}
}
