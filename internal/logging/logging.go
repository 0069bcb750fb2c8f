// Package logging builds the zap loggers used throughout swotrace and
// bridges the decoder components' error-log attach point onto them.
//
// Two encodings are available:
//   - json: one JSON object per entry, for files and machine consumption
//   - console: zap's tab-separated console encoding, for an interactive TTY
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

// Format selects the log encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures New. Zero values give info level JSON on stderr.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "message",
		StacktraceKey:  "",
		EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

// ParseLevel accepts debug, info, warn or error (case-insensitive).
func ParseLevel(s string) (zapcore.Level, error) {
	if s == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q", s)
	}
	return lvl, nil
}

// New creates a logger from opts.
func New(opts Options) (*zap.Logger, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	var enc zapcore.Encoder
	switch opts.Format {
	case FormatJSON, "":
		enc = zapcore.NewJSONEncoder(encoderConfig())
	case FormatConsole:
		cfg := encoderConfig()
		cfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(w), lvl)
	return zap.New(core), nil
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger { return zap.NewNop() }

// ErrorLog forwards component errors and messages to a zap logger. It
// satisfies common.TraceErrorLog.
type ErrorLog struct {
	log *zap.Logger
}

func NewErrorLog(log *zap.Logger) *ErrorLog {
	return &ErrorLog{log: log}
}

func levelFor(sev ocsd.ErrSeverity) zapcore.Level {
	switch sev {
	case ocsd.ErrSevError:
		return zapcore.ErrorLevel
	case ocsd.ErrSevWarn:
		return zapcore.WarnLevel
	case ocsd.ErrSevInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

func (l *ErrorLog) LogError(sev ocsd.ErrSeverity, err *common.Error) {
	if err == nil {
		return
	}
	if ce := l.log.Check(levelFor(sev), err.Message); ce != nil {
		fields := []zap.Field{
			zap.String("code", common.ErrorCodeName(err.Code)),
			zap.Error(err),
		}
		if err.Idx != ocsd.BadTrcIndex {
			fields = append(fields, zap.Uint64("trace_index", uint64(err.Idx)))
		}
		ce.Write(fields...)
	}
}

func (l *ErrorLog) LogMessage(sev ocsd.ErrSeverity, msg string) {
	if ce := l.log.Check(levelFor(sev), msg); ce != nil {
		ce.Write()
	}
}

// Severity maps a zap level to the component filter level, so a component
// attached to a debug logger also reports debug messages.
func Severity(lvl zapcore.Level) ocsd.ErrSeverity {
	switch {
	case lvl <= zapcore.DebugLevel:
		return ocsd.ErrSevDebug
	case lvl == zapcore.InfoLevel:
		return ocsd.ErrSevInfo
	case lvl == zapcore.WarnLevel:
		return ocsd.ErrSevWarn
	default:
		return ocsd.ErrSevError
	}
}

// Attach connects comp's error log to log, tagging entries with the
// component name, and sets its filter level from the logger's enabled level.
func Attach(comp interface {
	ComponentName() string
	ErrorLogAttachPt() *common.AttachPt[common.TraceErrorLog]
	SetErrorLogLevel(ocsd.ErrSeverity)
}, log *zap.Logger) {
	comp.ErrorLogAttachPt().ReplaceFirst(NewErrorLog(log.With(zap.String("component", comp.ComponentName()))))
	comp.SetErrorLogLevel(Severity(log.Level()))
}
