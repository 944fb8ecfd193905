package log

import "github.com/shopspring/decimal"

// Common field names for structured logging
const (
	FieldComponent     = "component"
	FieldRequestID     = "request_id"
	FieldClientIP      = "client_ip"
	FieldMethod        = "method"
	FieldPath          = "path"
	FieldQuery         = "query"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldUserAgent     = "user_agent"
	FieldSuccess       = "success"
	FieldError         = "error"
	FieldErrorType     = "error_type"
	FieldOperation     = "operation"
	FieldAttempt       = "attempt"
	FieldOwnerID       = "owner_id"
	FieldBudgetID      = "budget_id"
	FieldTransactionID = "transaction_id"
	FieldAttachmentID  = "attachment_id"
	FieldKind          = "kind"
	FieldAmount        = "amount"
	FieldDelta         = "delta"
	FieldBalance       = "balance"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentLedger     = "ledger"
	ComponentStorage    = "storage"
	ComponentAMQP       = "amqp"
	ComponentWorker     = "worker"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentSecurity   = "security"
	ComponentRateLimit  = "rate_limit"
	ComponentTrace      = "trace"
	ComponentBackend    = "backend"
	ComponentAuth       = "auth"
	ComponentAttachment = "attachments"
	ComponentReporting  = "reporting"
)

// Operations defines standard operation names
const (
	OpRecord   = "record"
	OpRevise   = "revise"
	OpRetract  = "retract"
	OpOpen     = "open_budget"
	OpAmend    = "amend_budget"
	OpClose    = "close_budget"
	OpAudit    = "audit"
	OpRead     = "read"
	OpList     = "list"
	OpUpload   = "upload"
	OpDelete   = "delete"
	OpPublish  = "publish"
	OpMirror   = "mirror"
	OpMigrate  = "migrate"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// ErrorTypes defines standard error type categories
const (
	ErrorTypeValidation    = "validation_error"
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypeDatabase      = "database_error"
	ErrorTypeNetwork       = "network_error"
	ErrorTypeAuth          = "auth_error"
	ErrorTypeNotFound      = "not_found_error"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
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

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

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

// WithLedger adds the identifiers touched by a reconciliation.
func (f LogFields) WithLedger(ownerID, budgetID, transactionID int64) LogFields {
	f[FieldOwnerID] = ownerID
	if budgetID > 0 {
		f[FieldBudgetID] = budgetID
	}
	if transactionID > 0 {
		f[FieldTransactionID] = transactionID
	}
	return f
}

// WithDelta adds the balance movement and the resulting balance.
func (f LogFields) WithDelta(delta, balance decimal.Decimal) LogFields {
	f[FieldDelta] = delta.String()
	f[FieldBalance] = balance.String()
	return f
}

// WithHTTPRequest adds HTTP request fields
func (f LogFields) WithHTTPRequest(method, path, query, userAgent string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	if userAgent != "" {
		f[FieldUserAgent] = userAgent
	}
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
