package observability

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// Log formats
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// NewLogger builds the process logger writing to stderr. Text output is
// colored when stderr is a terminal.
func NewLogger(level, format string) (*logrus.Logger, error) {
	tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	out := colorable.NewColorableStderr()
	if !tty {
		out = colorable.NewNonColorable(os.Stderr)
	}
	return newLogger(out, tty, level, format)
}

func newLogger(out io.Writer, colors bool, level, format string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, err
	}

	logger := &logrus.Logger{
		Out:   out,
		Hooks: make(logrus.LevelHooks),
		Level: lvl,
	}

	switch format {
	case LogFormatJSON:
		logger.Formatter = &logrus.JSONFormatter{}
	case LogFormatText, "":
		logger.Formatter = &logrus.TextFormatter{ForceColors: colors, DisableColors: !colors, FullTimestamp: true}
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}
	return logger, nil
}
