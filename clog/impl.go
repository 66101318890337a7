package clog

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// slogLogger Logger 的 slog 实现（非导出）
type slogLogger struct {
	logger    *slog.Logger
	levelVar  *slog.LevelVar
	namespace string
}

// newLogger 创建日志实例（内部函数）
func newLogger(cfg *Config, opt *options) (Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(level.toSlog())

	out := os.Stdout
	switch cfg.Output {
	case "stdout", "":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		out = f
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     levelVar,
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	l := &slogLogger{
		logger:   slog.New(handler),
		levelVar: levelVar,
	}

	if len(opt.namespace) > 0 {
		return l.WithNamespace(opt.namespace...), nil
	}
	return l, nil
}

func (l *slogLogger) log(ctx context.Context, level slog.Level, msg string, fields []Field) {
	args := make([]any, 0, len(fields)+1)
	if l.namespace != "" {
		args = append(args, slog.String("namespace", l.namespace))
	}
	for _, f := range fields {
		args = append(args, f)
	}
	l.logger.Log(ctx, level, msg, args...)
}

func (l *slogLogger) Debug(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelDebug, msg, fields)
}

func (l *slogLogger) Info(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelInfo, msg, fields)
}

func (l *slogLogger) Warn(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelWarn, msg, fields)
}

func (l *slogLogger) Error(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelError, msg, fields)
}

func (l *slogLogger) Fatal(msg string, fields ...Field) {
	l.log(context.Background(), slog.LevelError, msg, fields)
	os.Exit(1)
}

func (l *slogLogger) DebugContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelDebug, msg, fields)
}

func (l *slogLogger) InfoContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelInfo, msg, fields)
}

func (l *slogLogger) WarnContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelWarn, msg, fields)
}

func (l *slogLogger) ErrorContext(ctx context.Context, msg string, fields ...Field) {
	l.log(ctx, slog.LevelError, msg, fields)
}

func (l *slogLogger) With(fields ...Field) Logger {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, f)
	}
	return &slogLogger{
		logger:    l.logger.With(args...),
		levelVar:  l.levelVar,
		namespace: l.namespace,
	}
}

func (l *slogLogger) WithNamespace(parts ...string) Logger {
	ns := l.namespace
	for _, p := range parts {
		if p == "" {
			continue
		}
		if ns == "" {
			ns = p
		} else {
			ns = ns + "." + p
		}
	}
	return &slogLogger{
		logger:    l.logger,
		levelVar:  l.levelVar,
		namespace: strings.TrimSpace(ns),
	}
}

func (l *slogLogger) SetLevel(level Level) error {
	l.levelVar.Set(level.toSlog())
	return nil
}
