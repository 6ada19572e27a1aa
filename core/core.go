package core

import "github.com/hupe1980/agentweave/logging"

// loggerAdapter is the diagnostics sink embedded in every ExecutionContext.
// Entries carry the root_id of the tree that produced them; a nil logger
// discards everything.
type loggerAdapter struct {
	logger logging.Logger
	rootID string
}

func newLoggerAdapter(l logging.Logger) *loggerAdapter {
	if l == nil {
		l = logging.NoOpLogger{}
	}

	return &loggerAdapter{logger: l}
}

// forRoot returns an adapter sharing l's logger that tags entries with id.
func (l *loggerAdapter) forRoot(id string) *loggerAdapter {
	return &loggerAdapter{logger: l.logger, rootID: id}
}

func (l *loggerAdapter) args(kv []any) []any {
	if l.rootID == "" {
		return kv
	}

	return append([]any{"root_id", l.rootID}, kv...)
}

// LogDebug writes a debug entry.
func (l *loggerAdapter) LogDebug(msg string, kv ...any) { l.logger.Debug(msg, l.args(kv)...) }

// LogInfo writes an info entry.
func (l *loggerAdapter) LogInfo(msg string, kv ...any) { l.logger.Info(msg, l.args(kv)...) }

// LogWarn writes a warning entry.
func (l *loggerAdapter) LogWarn(msg string, kv ...any) { l.logger.Warn(msg, l.args(kv)...) }

// LogError writes an error entry.
func (l *loggerAdapter) LogError(msg string, kv ...any) { l.logger.Error(msg, l.args(kv)...) }
