// Package logging provides structured logging with trace/agent/project
// context propagation.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by this package.
type ContextKey string

const (
	TraceIDKey   ContextKey = "trace_id"
	AgentIDKey   ContextKey = "agent_id"
	ProjectIDKey ContextKey = "project_id"
	UserIDKey    ContextKey = "user_id"
)

// NewTraceID generates a new trace id.
func NewTraceID() string {
	return uuid.New().String()
}

// GetTraceID retrieves the trace id from ctx, or "" if absent.
func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

// WithUserID adds a user/API-key identity to ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// GetUserID retrieves the user/API-key identity from ctx, or "" if absent.
func GetUserID(ctx context.Context) string {
	if v, ok := ctx.Value(UserIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger wraps logrus.Logger, stamping a fixed "service" field and reading
// trace/agent/project identifiers from context.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for the named service.
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv constructs a logger using LOG_LEVEL and LOG_FORMAT, defaulting
// to "info" and "json".
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns an entry carrying service plus any trace/agent/project
// identifiers present on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v := ctx.Value(TraceIDKey); v != nil {
		entry = entry.WithField("trace_id", v)
	}
	if v := ctx.Value(AgentIDKey); v != nil {
		entry = entry.WithField("agent_id", v)
	}
	if v := ctx.Value(ProjectIDKey); v != nil {
		entry = entry.WithField("project_id", v)
	}
	return entry
}

// WithFields returns an entry carrying service plus the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// WithError returns an entry carrying service plus the error message.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields{"service": l.service, "error": err.Error()})
}

// WithTraceID adds a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithAgentID adds an agent id to ctx.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, AgentIDKey, agentID)
}

// WithProjectID adds a project id to ctx.
func WithProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, ProjectIDKey, projectID)
}

// LogAudit records an appended action to the hash-chained log.
func (l *Logger) LogAudit(ctx context.Context, actionID int64, actionType, digest string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action_id":   actionID,
		"action_type": actionType,
		"digest":      digest,
	}).Info("action appended")
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}).Info("http request")
}

// LogSecurityEvent records a security-relevant event (auth failure, rate
// limit, header-gate rejection).
func (l *Logger) LogSecurityEvent(ctx context.Context, eventType string, details map[string]interface{}) {
	fields := logrus.Fields{"event_type": eventType, "severity": "security"}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Warn("security event")
}

// LogScreenResult records a sanctions screening outcome.
func (l *Logger) LogScreenResult(ctx context.Context, address, riskLevel string, riskScore int, sanctioned bool) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"address":    address,
		"risk_level": riskLevel,
		"risk_score": riskScore,
		"sanctioned": sanctioned,
	}).Info("address screened")
}

// LogAnomaly records a detected anomaly.
func (l *Logger) LogAnomaly(ctx context.Context, rule, agentID string, txHash string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"rule":     rule,
		"agent_id": agentID,
		"tx_hash":  txHash,
	}).Warn("anomaly detected")
}

// LogWebhookDelivery records a webhook delivery attempt.
func (l *Logger) LogWebhookDelivery(ctx context.Context, webhookID, event string, attempt int, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"webhook_id": webhookID,
		"event":      event,
		"attempt":    attempt,
		"success":    success,
	})
	if err != nil {
		entry = entry.WithField("error", err.Error())
	}
	if success {
		entry.Info("webhook delivered")
	} else {
		entry.Warn("webhook delivery failed")
	}
}
