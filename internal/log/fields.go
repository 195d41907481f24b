package log

const (
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	FieldConnID    = "conn_id"
	FieldSessionID = "session_id"
	FieldRole      = "role"
	FieldTarget    = "target_id"
	FieldEvent     = "event"

	FieldService = "service"
	FieldModule  = "module"
)
