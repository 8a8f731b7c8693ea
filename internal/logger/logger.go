// Package logger provides the small structured-logging surface every CORE
// subsystem takes at construction time, instead of reaching for a package
// global. The actual sink (file, rotation policy, remote shipper) is an
// external collaborator; this package only formats and filters by level.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the interface every subsystem depends on. It is intentionally
// small: four levels, each with an -ln and an -f variant, plus Error for a
// bare error value.
type Logger interface {
	Debugln(args ...interface{})
	Debugf(format string, args ...interface{})
	Infoln(args ...interface{})
	Infof(format string, args ...interface{})
	Warningln(args ...interface{})
	Warningf(format string, args ...interface{})
	Errorln(args ...interface{})
	Errorf(format string, args ...interface{})
	Error(err error)
}

var base = logrus.New()

func init() {
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel changes the process-wide minimum level. Valid names: debug, info,
// warning, error.
func SetLevel(name string) {
	lvl, err := logrus.ParseLevel(name)
	if err != nil {
		return
	}
	base.SetLevel(lvl)
}

type entryLogger struct {
	e *logrus.Entry
}

// New returns a Logger tagged with name, e.g. logger.New("hub:dchub.example.com").
func New(name string) Logger {
	return &entryLogger{e: base.WithField("component", name)}
}

func (l *entryLogger) Debugln(args ...interface{})            { l.e.Debugln(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l *entryLogger) Infoln(args ...interface{})              { l.e.Infoln(args...) }
func (l *entryLogger) Infof(format string, args ...interface{}) { l.e.Infof(format, args...) }
func (l *entryLogger) Warningln(args ...interface{})           { l.e.Warnln(args...) }
func (l *entryLogger) Warningf(format string, args ...interface{}) { l.e.Warnf(format, args...) }
func (l *entryLogger) Errorln(args ...interface{})             { l.e.Errorln(args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }
func (l *entryLogger) Error(err error) {
	if err == nil {
		return
	}
	l.e.Errorln(err)
}
