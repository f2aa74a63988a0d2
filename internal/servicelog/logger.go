// Package servicelog is a thin structured-logging facade over zap and the
// OS service logger, so pipeline code never imports zap directly.
package servicelog

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/kardianos/service"
	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

type lumberjackSink struct {
	*lumberjack.Logger
}

func (lumberjackSink) Sync() error {
	return nil
}

// Attrib appends one structured field to a log line.
type Attrib func(sb *strings.Builder)

type logger struct {
	logger service.Logger
	debug  bool
	attrs  []Attrib
}

func printer(name string, val interface{}) Attrib {
	return func(sb *strings.Builder) {
		sb.WriteString(", ")
		sb.WriteString(name)
		sb.WriteString("=")
		fmt.Fprintf(sb, "%v", val)
	}
}

func String(name, value string) Attrib       { return printer(name, value) }
func Error(err error) Attrib                 { return printer("error", err) }
func Bool(name string, value bool) Attrib    { return printer(name, value) }
func Any(name string, value interface{}) Attrib { return printer(name, value) }
func Int(name string, value int) Attrib      { return printer(name, value) }
func Uint64(name string, value uint64) Attrib { return printer(name, value) }
func Float64(name string, value float64) Attrib { return printer(name, value) }
func Time(name string, value time.Time) Attrib { return printer(name, value) }
func Duration(name string, value time.Duration) Attrib { return printer(name, value) }

// zapAdapter lets a zap.SugaredLogger stand in for service.Logger, so New()
// can write to the rotating file sink through the same service.Logger
// interface it uses for the OS service log when no svcLogger is given.
type zapAdapter struct {
	s *zap.SugaredLogger
}

func (z zapAdapter) Error(v ...interface{}) error    { z.s.Error(v...); return nil }
func (z zapAdapter) Warning(v ...interface{}) error  { z.s.Warn(v...); return nil }
func (z zapAdapter) Info(v ...interface{}) error     { z.s.Info(v...); return nil }
func (z zapAdapter) Errorf(f string, a ...interface{}) error   { z.s.Errorf(f, a...); return nil }
func (z zapAdapter) Warningf(f string, a ...interface{}) error { z.s.Warnf(f, a...); return nil }
func (z zapAdapter) Infof(f string, a ...interface{}) error    { z.s.Infof(f, a...); return nil }

// New builds a Logger backed by zap, rotated on disk via lumberjack at
// logPath. If svcLogger is non-nil (running under the OS service manager)
// it is used instead of the zap-backed adapter so OS-native logs (Windows
// Event Log, syslog) still receive every line.
func New(svcLogger service.Logger, logPath string, debug bool) Logger {
	zap.RegisterSink("lumberjack", func(u *url.URL) (zap.Sink, error) {
		return lumberjackSink{
			Logger: &lumberjack.Logger{
				Filename:   u.Path,
				MaxSize:    100, // megabytes
				MaxBackups: 5,
				MaxAge:     28, // days
			},
		}, nil
	})

	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.OutputPaths = []string{"lumberjack://" + logPath}
	built, err := config.Build()
	if err != nil {
		panic(err)
	}

	backing := svcLogger
	if backing == nil {
		backing = zapAdapter{s: built.Sugar()}
	}
	return &logger{logger: backing, debug: debug}
}

// Logger is the structured-logging surface used throughout the pipeline.
type Logger interface {
	With(attrs ...Attrib) Logger
	Info(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Debug(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
}

func (l *logger) String(msg string, attrs ...Attrib) string {
	var sb strings.Builder
	sb.WriteString(msg)
	if l != nil && l.attrs != nil {
		for _, a := range l.attrs {
			a(&sb)
		}
	}
	if len(attrs) > 0 {
		for _, a := range attrs {
			a(&sb)
		}
	}
	return sb.String()
}

func (l *logger) Info(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	if l != nil && l.logger != nil {
		l.logger.Info(message)
	} else {
		log.Println(message)
	}
}

func (l *logger) Error(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	if l != nil && l.logger != nil {
		l.logger.Error(message)
	} else {
		log.Println(message)
	}
}

func (l *logger) Fatal(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	if l != nil && l.logger != nil {
		l.logger.Error(message)
		panic(msg)
	} else {
		log.Fatal(message)
	}
}

func (l *logger) Warn(msg string, attrs ...Attrib) {
	message := l.String(msg, attrs...)
	if l != nil && l.logger != nil {
		l.logger.Warning(message)
	} else {
		log.Println(message)
	}
}

func (l *logger) Debug(msg string, attrs ...Attrib) {
	if l.debug {
		message := l.String(msg, attrs...)
		if l != nil && l.logger != nil {
			l.logger.Info(message)
		} else {
			log.Println(message)
		}
	}
}

func (l *logger) With(attrs ...Attrib) Logger {
	newLogger := &logger{}
	if l != nil {
		newLogger.logger = l.logger
		newLogger.debug = l.debug
	}
	if l != nil && len(l.attrs) > 0 {
		newLogger.attrs = make([]Attrib, 0, len(l.attrs)+len(attrs))
		newLogger.attrs = append(newLogger.attrs, l.attrs...)
	}
	if len(attrs) > 0 {
		newLogger.attrs = append(newLogger.attrs, attrs...)
	}
	return newLogger
}
