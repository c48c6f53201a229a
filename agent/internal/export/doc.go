// Package export converts gathered metric families into OTLP metric points
// and encodes them as an ExportMetricsServiceRequest.
//
// Family names carry their unit as the last underscore-separated token
// ("cloudflare_worker_cpu_time_microseconds"); SplitName recovers the pair.
// Counters become cumulative monotonic sums without a start time, gauges
// become gauges, and every point carries the run timestamp.
//
// Encoding goes through collector pdata so the same batch can be sent as
// binary protobuf, as OTLP JSON, or over the gRPC exporter client.
package export
