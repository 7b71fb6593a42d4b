package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"
	FieldRoute     = "route"

	// Actor
	FieldUserID   = "user_id"
	FieldUsername = "username"
	FieldRole     = "role"

	// Chat
	FieldRoomID    = "room_id"
	FieldSessionID = "session_id"
	FieldMessageID = "message_id"
	FieldClientRef = "client_ref"
	FieldTarget    = "target_user_id"
	FieldDriver    = "driver"

	// Service
	FieldService = "service"

	// gRPC
	FieldGRPCMethod = "grpc_method"
	FieldGRPCCode   = "grpc_code"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
