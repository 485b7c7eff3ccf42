package logging

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Connection
	FieldConnID     = "conn_id"
	FieldRemoteAddr = "remote_addr"
	FieldUserID     = "user_id"
	FieldUsername   = "username"
	FieldClients    = "clients"
	FieldWSResult   = "ws_result"

	// Service
	FieldService   = "service"
	FieldComponent = "component"
)
