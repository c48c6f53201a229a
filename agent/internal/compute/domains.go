package compute

import "github.com/flarewatch/flarewatch/agent/internal/analytics"

var standardQuantiles = []string{"P50", "P75", "P99", "P999"}

// WorkerInvocations covers Workers script invocations.
var WorkerInvocations = Schema{
	Dataset:    "workersInvocationsAdaptive",
	Dimensions: []Dimension{{Source: "scriptName", Label: "script_name"}},
	Time:       "datetime",
	Fields: concat(
		[]Field{
			counter(analytics.BlockSum, "requests", "cloudflare_worker_requests", "count", "Number of Worker invocations."),
			counter(analytics.BlockSum, "errors", "cloudflare_worker_errors", "count", "Number of Worker invocations that failed."),
			optional(counter(analytics.BlockSum, "subrequests", "cloudflare_worker_subrequests", "count", "Number of subrequests issued by Workers.")),
		},
		quantiles("cpuTime", "cloudflare_worker_cpu_time", "microseconds", "CPU time per Worker invocation.", standardQuantiles...),
		quantiles("duration", "cloudflare_worker_duration", "gbs", "Duration per Worker invocation in GB-seconds.", standardQuantiles...),
	),
}

// D1Operations covers D1 database queries.
var D1Operations = Schema{
	Dataset:    "d1AnalyticsAdaptiveGroups",
	Dimensions: []Dimension{{Source: "databaseId", Label: "database_id"}},
	Time:       "datetimeMinute",
	Fields: concat(
		[]Field{
			counter(analytics.BlockSum, "readQueries", "cloudflare_d1_read_queries", "count", "Number of D1 read queries."),
			counter(analytics.BlockSum, "writeQueries", "cloudflare_d1_write_queries", "count", "Number of D1 write queries."),
			counter(analytics.BlockSum, "rowsRead", "cloudflare_d1_rows_read", "count", "Number of rows read by D1 queries."),
			counter(analytics.BlockSum, "rowsWritten", "cloudflare_d1_rows_written", "count", "Number of rows written by D1 queries."),
			optional(counter(analytics.BlockSum, "queryBatchResponseBytes", "cloudflare_d1_response", "bytes", "Bytes returned by D1 query batches.")),
		},
		quantiles("queryBatchTimeMs", "cloudflare_d1_query_batch_time", "milliseconds", "D1 query batch latency.", "P50", "P90"),
	),
}

// DurableObjectInvocations covers Durable Object invocations.
var DurableObjectInvocations = Schema{
	Dataset:    "durableObjectsInvocationsAdaptiveGroups",
	Dimensions: []Dimension{{Source: "scriptName", Label: "script_name"}},
	Time:       "datetimeMinute",
	Fields: concat(
		[]Field{
			counter(analytics.BlockSum, "requests", "cloudflare_durable_object_requests", "count", "Number of Durable Object invocations."),
			counter(analytics.BlockSum, "errors", "cloudflare_durable_object_errors", "count", "Number of Durable Object invocations that failed."),
		},
		quantiles("wallTime", "cloudflare_durable_object_wall_time", "microseconds", "Wall time per Durable Object invocation.", standardQuantiles...),
	),
}

// QueueBacklog covers queue backlog size.
var QueueBacklog = Schema{
	Dataset:    "queueBacklogAdaptiveGroups",
	Dimensions: []Dimension{{Source: "queueId", Label: "queue_id"}},
	Time:       "datetimeMinute",
	Fields: []Field{
		gauge(analytics.BlockAvg, "bytes", "cloudflare_queue_backlog", "bytes", "Average queue backlog size."),
		gauge(analytics.BlockAvg, "messages", "cloudflare_queue_backlog_messages", "count", "Average number of messages in the queue backlog."),
	},
}

// QueueOperations covers queue message operations by action.
var QueueOperations = Schema{
	Dataset: "queueMessageOperationsAdaptiveGroups",
	Dimensions: []Dimension{
		{Source: "queueId", Label: "queue_id"},
		{Source: "actionType", Label: "action_type"},
	},
	Time: "datetimeMinute",
	Fields: []Field{
		counter(analytics.BlockSum, "billableOperations", "cloudflare_queue_billable_operations", "count", "Number of billable queue operations."),
		counter(analytics.BlockSum, "bytes", "cloudflare_queue_operation", "bytes", "Bytes moved by queue operations."),
		optional(gauge(analytics.BlockAvg, "lagTime", "cloudflare_queue_lag_time", "milliseconds", "Average time messages wait before consumption.")),
		optional(gauge(analytics.BlockAvg, "retryCount", "cloudflare_queue_retries", "count", "Average number of delivery retries.")),
	},
}

// Domains returns the built-in dataset schemas in a stable order.
func Domains() []Schema {
	return []Schema{
		WorkerInvocations,
		D1Operations,
		DurableObjectInvocations,
		QueueBacklog,
		QueueOperations,
	}
}

func concat(parts ...[]Field) []Field {
	var out []Field
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
