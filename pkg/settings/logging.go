package settings

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LogSettings struct {
	Level      string `yaml:"log-level" mapstructure:"log-level"`
	Format     string `yaml:"log-format" mapstructure:"log-format"`
	File       string `yaml:"log-file" mapstructure:"log-file"`
	WithCaller bool   `yaml:"with-caller" mapstructure:"with-caller"`
	Verbose    bool   `yaml:"verbose" mapstructure:"verbose"`
}

func (l LogSettings) Validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	switch l.Format {
	case "", "text", "json":
		return nil
	default:
		return errors.Errorf("unknown log format %q (expected json or text)", l.Format)
	}
}

func (l LogSettings) level() (zerolog.Level, error) {
	name := l.Level
	if l.Verbose && name != "trace" {
		name = "debug"
	}
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, errors.Wrapf(err, "unknown log level %q", name)
	}
	return lvl, nil
}

// InitLogger configures the global zerolog logger. Text goes to stderr
// through a console writer, json as is; a log file is rotated by lumberjack.
func InitLogger(l LogSettings) error {
	lvl, err := l.level()
	if err != nil {
		return err
	}

	var logWriter io.Writer
	if l.Format == "json" {
		logWriter = os.Stderr
	} else {
		logWriter = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	if l.File != "" {
		logWriter = io.MultiWriter(
			logWriter,
			zerolog.ConsoleWriter{
				NoColor: true,
				Out: &lumberjack.Logger{
					Filename:   l.File,
					MaxSize:    10, // megabytes
					MaxBackups: 3,
					MaxAge:     28, // days
				},
			})
	}

	logger := zerolog.New(logWriter).With().Timestamp()
	if l.WithCaller {
		logger = logger.Caller()
	}
	log.Logger = logger.Logger()
	zerolog.SetGlobalLevel(lvl)

	return nil
}
