package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"zapis/internal/config"

	"github.com/rs/zerolog"
)

// New builds the process logger from config. JSON on stdout at info level unless
// configured otherwise; development environments default to the console writer.
// The returned closer is non-nil when a log file was opened.
func New(cfg config.LoggingConfig, app config.AppConfig) (*zerolog.Logger, io.Closer, error) {
	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(normalize(cfg.Level)); err == nil && cfg.Level != "" {
		level = parsed
	}

	output, closer, err := openOutput(cfg)
	if err != nil {
		return nil, nil, err
	}

	format := normalize(cfg.Format)
	if format == "" && normalize(app.Environment) == "development" {
		format = "console"
	}
	if format == "console" {
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	base := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("app", app.Name).
		Str("env", app.Environment).
		Str("version", app.Version).
		Logger()

	return &base, closer, nil
}

func openOutput(cfg config.LoggingConfig) (io.Writer, io.Closer, error) {
	switch normalize(cfg.Output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file", "both":
		if cfg.FilePath == "" {
			return nil, nil, fmt.Errorf("logging.output=%s requires logging.file_path", normalize(cfg.Output))
		}
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		if normalize(cfg.Output) == "both" {
			return io.MultiWriter(os.Stdout, file), file, nil
		}
		return file, file, nil
	default:
		return os.Stdout, nil, nil
	}
}

// Component derives a child logger tagged with the component name.
func Component(l *zerolog.Logger, name string) *zerolog.Logger {
	if l == nil {
		nop := zerolog.Nop()
		return &nop
	}
	child := l.With().Str("component", name).Logger()
	return &child
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
