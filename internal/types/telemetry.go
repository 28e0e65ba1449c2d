package types

// Telemetry metric names for CloudWatch.
// All components MUST use these constants.
const (
	// Metric Names
	MetricAPILatency         = "APILatency"
	MetricAPIRequestCount    = "APIRequestCount"
	MetricCommandsPromoted   = "CommandsPromoted"
	MetricCommandsDrained    = "CommandsDrained"
	MetricQueueDepth         = "QueueDepth"
	MetricScheduleRowSkipped = "ScheduleRowSkipped"

	// Dimension Keys
	DimEndpoint = "Endpoint"
	DimMethod   = "Method"
	DimStatus   = "Status"

	// Metric Namespace
	MetricNamespace = "EmoBridge"
)
