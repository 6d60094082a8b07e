package main

import (
	"io"
	"time"

	"github.com/lthibault/log"
	"github.com/sirupsen/logrus"
)

func logger(loglvl, logfmt string, w io.Writer) log.Logger {
	return log.New(
		withLevel(loglvl, logfmt),
		withFormat(logfmt),
		log.WithWriter(w))
}

// withLevel maps the level flag. The none format silences everything short
// of fatal.
func withLevel(loglvl, logfmt string) log.Option {
	if logfmt == "none" {
		return log.WithLevel(log.FatalLevel)
	}

	switch loglvl {
	case "trace", "t":
		return log.WithLevel(log.TraceLevel)
	case "debug", "d":
		return log.WithLevel(log.DebugLevel)
	case "warn", "warning", "w":
		return log.WithLevel(log.WarnLevel)
	case "error", "err", "e":
		return log.WithLevel(log.ErrorLevel)
	case "fatal", "f":
		return log.WithLevel(log.FatalLevel)
	}
	return log.WithLevel(log.InfoLevel)
}

func withFormat(logfmt string) log.Option {
	var fmt logrus.Formatter

	switch logfmt {
	case "json":
		fmt = &logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano}
	case "pretty":
		fmt = &logrus.JSONFormatter{PrettyPrint: true, TimestampFormat: time.RFC3339Nano}
	default:
		fmt = &logrus.TextFormatter{FullTimestamp: true}
	}
	return log.WithFormatter(fmt)
}
