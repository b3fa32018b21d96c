package cmd

import (
	"io"
	"strings"

	"github.com/ssgreg/logf"
	"github.com/ssgreg/logftext"

	"github.com/vnykmshr/tokenflow/pkg/common/errors"
)

func parseLevel(level string) (logf.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logf.LevelDebug, nil
	case "info":
		return logf.LevelInfo, nil
	case "warn", "warning":
		return logf.LevelWarn, nil
	case "error":
		return logf.LevelError, nil
	}
	return logf.LevelInfo, errors.NewValidationError("cli", "log-level", level, "unknown level").
		WithHint("use debug, info, warn or error")
}

// newLogger returns a logger writing to w. The close function flushes
// buffered entries and must be called before exit.
func newLogger(w io.Writer, opts *rootOptions) (*logf.Logger, func(), error) {
	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return nil, nil, err
	}

	var appender logf.Appender
	switch strings.ToLower(opts.logFormat) {
	case "text":
		noColor := true
		appender = logftext.NewAppender(w, logftext.EncoderConfig{
			NoColor:    &noColor,
			EncodeTime: logf.RFC3339NanoTimeEncoder,
		})
	case "json":
		appender = logf.NewWriteAppender(w, logf.NewJSONEncoder(logf.JSONEncoderConfig{
			EncodeTime:   logf.RFC3339NanoTimeEncoder,
			FieldKeyTime: "time",
		}))
	default:
		return nil, nil, errors.NewValidationError("cli", "log-format", opts.logFormat, "unknown format").
			WithHint("use text or json")
	}

	channel, closeFunc := logf.NewChannelWriter(logf.ChannelWriterConfig{
		Appender:          appender,
		EnableSyncOnError: true,
	})
	return logf.NewLogger(level, channel), func() { closeFunc() }, nil
}
