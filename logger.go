package memtier

// Fields carries structured context for a log line. Errors go under "err".
type Fields map[string]any

// Logger receives the coordinator's diagnostics: handle lifecycle at Info,
// degraded local tier at Warn, remote failures and registry churn at Debug.
// Adapters for zap, logrus, slog and zerolog live under log/.
type Logger interface {
	Debug(msg string, f Fields)
	Info(msg string, f Fields)
	Warn(msg string, f Fields)
	Error(msg string, f Fields)
}

// NopLogger drops everything. Used when Options.Logger is nil.
type NopLogger struct{}

func (NopLogger) Debug(string, Fields) {}
func (NopLogger) Info(string, Fields)  {}
func (NopLogger) Warn(string, Fields)  {}
func (NopLogger) Error(string, Fields) {}

func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
