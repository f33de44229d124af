package server

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	JSONFormat LoggingFormat = iota
	StackdriverFormat
	ConsoleFormat
)

type LoggingFormat int8

// SetupLogging returns the main logger and a startup logger that always writes to the console.
func SetupLogging(config *LoggerConfig) (*zap.Logger, *zap.Logger) {
	level := zapcore.InfoLevel
	switch strings.ToLower(config.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	format := JSONFormat
	switch strings.ToLower(config.Format) {
	case "stackdriver":
		format = StackdriverFormat
	case "console":
		format = ConsoleFormat
	}

	consoleLogger := NewJSONLogger(os.Stdout, zapcore.InfoLevel, format)

	var fileLogger *zap.Logger
	if config.File != "" {
		if config.Rotation {
			fileLogger = NewRotatingJSONFileLogger(consoleLogger, config, level, format)
		} else {
			fileLogger = NewJSONFileLogger(consoleLogger, config.File, level, format)
		}
	}

	var logger *zap.Logger
	switch {
	case fileLogger != nil && config.Stdout:
		logger = NewMultiLogger(NewJSONLogger(os.Stdout, level, format), fileLogger)
	case fileLogger != nil:
		logger = fileLogger
	case config.Stdout:
		logger = NewJSONLogger(os.Stdout, level, format)
	default:
		logger = zap.NewNop()
	}

	zap.RedirectStdLog(logger)
	return logger, consoleLogger
}

func NewJSONFileLogger(consoleLogger *zap.Logger, fpath string, level zapcore.Level, format LoggingFormat) *zap.Logger {
	output, err := os.OpenFile(fpath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		consoleLogger.Fatal("Could not create log file", zap.Error(err))
		return nil
	}
	return NewJSONLogger(output, level, format)
}

func NewRotatingJSONFileLogger(consoleLogger *zap.Logger, config *LoggerConfig, level zapcore.Level, format LoggingFormat) *zap.Logger {
	if config.File == "" {
		consoleLogger.Fatal("Rotating log file is enabled but log file name is empty")
		return nil
	}
	jsonEncoder := newJSONEncoder(format)
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   config.File,
		MaxSize:    config.MaxSize,
		MaxAge:     config.MaxAge,
		MaxBackups: config.MaxBackups,
		LocalTime:  config.LocalTime,
		Compress:   config.Compress,
	})
	core := zapcore.NewCore(jsonEncoder, writer, level)
	return zap.New(core, zap.AddCaller())
}

func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, logger := range loggers {
		cores = append(cores, logger.Core())
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}

func NewJSONLogger(output *os.File, level zapcore.Level, format LoggingFormat) *zap.Logger {
	jsonEncoder := newJSONEncoder(format)
	core := zapcore.NewCore(jsonEncoder, zapcore.Lock(output), level)
	return zap.New(core, zap.AddCaller())
}

func newJSONEncoder(format LoggingFormat) zapcore.Encoder {
	switch format {
	case StackdriverFormat:
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    stackdriverLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	case ConsoleFormat:
		return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}

	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

func stackdriverLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("EMERGENCY")
	default:
		enc.AppendString("DEFAULT")
	}
}
