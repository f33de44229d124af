package service

import (
	"fmt"
	"maps"
	"runtime"
	"slices"
	"strings"

	nkruntime "github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ nkruntime.Logger = (*RuntimeLogger)(nil)

// RuntimeLogger is the logger game space owners receive. Arguments are either
// fmt.Sprintf operands or zap.Field values; mixing the two logs the operands as "arg".
type RuntimeLogger struct {
	logger *zap.Logger
	fields map[string]any
}

func NewRuntimeLogger(logger *zap.Logger) *RuntimeLogger {
	return &RuntimeLogger{
		logger: logger.WithOptions(zap.AddCallerSkip(2)).With(zap.String("runtime", "gamespace")),
		fields: make(map[string]any),
	}
}

func (l *RuntimeLogger) Logger() *zap.Logger {
	return l.logger
}

func (l *RuntimeLogger) Debug(format string, v ...any) { l.log(zapcore.DebugLevel, format, v) }
func (l *RuntimeLogger) Info(format string, v ...any)  { l.log(zapcore.InfoLevel, format, v) }
func (l *RuntimeLogger) Warn(format string, v ...any)  { l.log(zapcore.WarnLevel, format, v) }
func (l *RuntimeLogger) Error(format string, v ...any) { l.log(zapcore.ErrorLevel, format, v) }

func (l *RuntimeLogger) log(level zapcore.Level, format string, v []any) {
	ce := l.logger.Check(level, "")
	if ce == nil {
		return
	}

	var fields []zap.Field
	if slices.ContainsFunc(v, isZapField) {
		ce.Message = format
		for _, value := range v {
			if f, ok := value.(zap.Field); ok {
				fields = append(fields, f)
			} else {
				fields = append(fields, zap.Any("arg", value))
			}
		}
	} else {
		ce.Message = fmt.Sprintf(format, v...)
	}

	if level >= zapcore.WarnLevel {
		fields = append(fields, callerSource(3))
	}
	ce.Write(fields...)
}

func isZapField(v any) bool {
	_, ok := v.(zap.Field)
	return ok
}

// callerSource reports the owner's call site with the module version stripped from the path.
func callerSource(skip int) zap.Field {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return zap.Skip()
	}
	if _, after, found := strings.Cut(file, "@"); found {
		file = after
	}
	return zap.String("source", fmt.Sprintf("%s:%d", file, line))
}

func (l *RuntimeLogger) WithField(key string, v any) nkruntime.Logger {
	return l.WithFields(map[string]any{key: v})
}

// WithFields returns a child logger. The "runtime" key is reserved.
func (l *RuntimeLogger) WithFields(fields map[string]any) nkruntime.Logger {
	merged := maps.Clone(l.fields)
	added := make([]zap.Field, 0, len(fields))
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if k == "runtime" {
			continue
		}
		merged[k] = fields[k]
		added = append(added, zap.Any(k, fields[k]))
	}
	return &RuntimeLogger{
		logger: l.logger.With(added...),
		fields: merged,
	}
}

func (l *RuntimeLogger) Fields() map[string]any {
	return maps.Clone(l.fields)
}
