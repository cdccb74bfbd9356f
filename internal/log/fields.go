package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldClientIP   = "client_ip"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldUserAgent  = "user_agent"
	FieldSuccess    = "success"
	FieldError      = "error"
	FieldOperation  = "operation"
	FieldIdentity   = "identity"
	FieldFloor      = "floor"
	FieldBranch     = "branch"
	FieldAmount     = "amount"
	FieldPaidTotal  = "paid_total"
	FieldUserID     = "user_id"
	FieldChatID     = "chat_id"
	FieldCommand    = "command"
	FieldAction     = "action"
	FieldFileName   = "file_name"
	FieldUnits      = "units"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentSheets    = "sheets"
	ComponentCache     = "cache"
	ComponentRateLimit = "rate_limit"
	ComponentTrace     = "trace"
	ComponentBackend   = "backend"
	ComponentChat      = "chat"
	ComponentTelegram  = "telegram"
	ComponentArchive   = "archive"
	ComponentMetrics   = "metrics"
)

// Operations defines standard operation names
const (
	OpPayment  = "payment"
	OpReset    = "reset"
	OpBackup   = "backup"
	OpRestore  = "restore"
	OpSearch   = "search"
	OpReport   = "report"
	OpSync     = "sync"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds the error message, skipping nil errors.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithPayment adds the fields every payment log line carries.
func (f LogFields) WithPayment(identity string, amount, paidTotal int64) LogFields {
	f[FieldIdentity] = identity
	f[FieldAmount] = amount
	f[FieldPaidTotal] = paidTotal
	return f
}

// WithCaller adds the chat user and conversation.
func (f LogFields) WithCaller(userID, chatID int64) LogFields {
	f[FieldUserID] = userID
	f[FieldChatID] = chatID
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldUserAgent] = userAgent
	return f
}

// WithHTTPResponse adds HTTP response fields
func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64, success bool) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
	f[FieldSuccess] = success
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
