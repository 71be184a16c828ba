// Package logging configures the process-wide logrus logger.
package logging

import (
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
	"gopkg.in/natefinch/lumberjack.v2"

	"livecap/internal/config"
)

const timestampFormat = "2006-01-02 15:04:05.000"

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Setup applies cfg to the standard logger. debug forces the debug level.
// The returned closer releases the log file, if any.
func Setup(cfg config.LogConfig, debug bool) (io.Closer, error) {
	return setup(log.StandardLogger(), os.Stdout, cfg, debug)
}

func setup(logger *log.Logger, stdout io.Writer, cfg config.LogConfig, debug bool) (io.Closer, error) {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if debug {
		level = log.DebugLevel
	}

	var closer io.Closer = nopCloser{}
	out := stdout
	if cfg.File.Enabled {
		file := &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB, // megabytes
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays, // days
			Compress:   cfg.File.Compress,
		}
		out = io.MultiWriter(stdout, file)
		closer = file
	}

	switch cfg.Format {
	case "json":
		logger.SetFormatter(&log.JSONFormatter{TimestampFormat: timestampFormat})
	case "text", "":
		f := new(prefixed.TextFormatter)
		f.FullTimestamp = true
		f.TimestampFormat = timestampFormat
		f.ForceFormatting = true
		// colour codes would end up in the log file
		f.DisableColors = cfg.File.Enabled
		logger.SetFormatter(f)
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger.SetLevel(level)
	logger.SetOutput(out)
	return closer, nil
}
