/*
 * Copyright 2019 The CovenantSQL Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package log wraps logrus with the level, caller and field helpers used
// across the oracle node, relay and command line tools.
package log

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// PanicLevel logs and then panics.
	PanicLevel logrus.Level = iota
	// FatalLevel logs and then calls os.Exit(1).
	FatalLevel
	// ErrorLevel is used for errors that should definitely be noted.
	ErrorLevel
	// WarnLevel is used for non-critical entries that deserve eyes.
	WarnLevel
	// InfoLevel is used for general operational entries.
	InfoLevel
	// DebugLevel is very verbose and usually only enabled when debugging.
	DebugLevel
)

const modulePrefix = "github.com/CovenantSQL/cql-oracle/"

var (
	// PkgDebugLogFilter drops entries of the named packages that are more
	// verbose than the mapped level.
	PkgDebugLogFilter = map[string]logrus.Level{
		"chainbus": InfoLevel,
	}
	// SimpleLog disables caller annotation when set to "Y" at build time.
	SimpleLog = "N"
)

// Logger wraps logrus logger type.
type Logger logrus.Logger

// Fields defines the field map to pass to WithFields.
type Fields logrus.Fields

// NilFormatter discards every entry.
type NilFormatter struct{}

// Format implements logrus.Formatter.
func (f *NilFormatter) Format(*logrus.Entry) ([]byte, error) {
	return nil, nil
}

// CallerHook annotates entries with the calling function.
type CallerHook struct {
	StackLevels []logrus.Level
}

// StandardCallerHook returns the hook installed by default: error and above
// get a caller field and a trimmed stack.
func StandardCallerHook() *CallerHook {
	if SimpleLog == "Y" {
		return &CallerHook{}
	}
	return &CallerHook{
		StackLevels: []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel},
	}
}

// Levels implements logrus.Hook.
func (hook *CallerHook) Levels() []logrus.Level {
	if SimpleLog == "Y" {
		return []logrus.Level{}
	}
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel}
}

// Fire implements logrus.Hook.
func (hook *CallerHook) Fire(entry *logrus.Entry) error {
	fn, caller, stack := hook.caller(entry.Level)
	if pkg := strings.SplitN(fn, ".", 2); len(pkg) > 0 {
		if level, ok := PkgDebugLogFilter[pkg[0]]; ok && entry.Level > level {
			discard := logrus.New()
			discard.Formatter = &NilFormatter{}
			entry.Logger = discard
			return nil
		}
	}
	if caller != "" {
		entry.Data["caller"] = caller
	}
	if len(stack) > 0 {
		entry.Data["stack"] = stack
	}
	return nil
}

func (hook *CallerHook) caller(level logrus.Level) (fn, caller string, stack []string) {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(4, pcs)
	if n == 0 {
		return
	}
	frames := runtime.CallersFrames(pcs[:n])
	found := false
	for {
		f, more := frames.Next()
		isLogFrame := strings.Contains(f.File, "sirupsen/logrus") ||
			strings.HasSuffix(f.File, "logwrapper.go")
		if !found && !isLogFrame {
			fn = strings.TrimPrefix(f.Function, modulePrefix)
			caller = fmt.Sprintf("%s:%d %s", filepath.Base(f.File), f.Line, fn)
			found = true
		}
		if found && f.Line > 0 && hook.wantStack(level) {
			stack = append(stack, fmt.Sprintf("#%d %s@%s:%d",
				len(stack), strings.TrimPrefix(f.Function, modulePrefix), filepath.Base(f.File), f.Line))
		}
		if !more {
			break
		}
	}
	return
}

func (hook *CallerHook) wantStack(level logrus.Level) bool {
	for _, l := range hook.StackLevels {
		if l == level {
			return true
		}
	}
	return false
}

func init() {
	AddHook(StandardCallerHook())
}

// StandardLogger returns the standard logger.
func StandardLogger() *Logger {
	return (*Logger)(logrus.StandardLogger())
}

// SetOutput sets the standard logger output.
func SetOutput(out io.Writer) {
	logrus.SetOutput(out)
}

// SetFormatter sets the standard logger formatter.
func SetFormatter(formatter logrus.Formatter) {
	logrus.SetFormatter(formatter)
}

// SetLevel sets the standard logger level.
func SetLevel(level logrus.Level) {
	logrus.SetLevel(level)
}

// GetLevel returns the standard logger level.
func GetLevel() logrus.Level {
	return logrus.GetLevel()
}

// ParseLevel takes a string level and returns the logrus log level constant.
func ParseLevel(lvl string) (logrus.Level, error) {
	return logrus.ParseLevel(lvl)
}

// SetStringLevel enforces the level named by lvl, falling back to
// defaultLevel when lvl cannot be parsed.
func SetStringLevel(lvl string, defaultLevel logrus.Level) {
	if l, err := logrus.ParseLevel(lvl); err != nil {
		SetLevel(defaultLevel)
	} else {
		SetLevel(l)
	}
}

// SetStringFormat switches between the "text" (default) and "json" formatters.
func SetStringFormat(format string) {
	switch strings.ToLower(format) {
	case "json":
		SetFormatter(&logrus.JSONFormatter{})
	default:
		SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// AddHook adds a hook to the standard logger hooks.
func AddHook(hook logrus.Hook) {
	logrus.AddHook(hook)
}

// WithError creates an entry from the standard logger with err under the
// logrus.ErrorKey field.
func WithError(err error) *Entry {
	return WithField(logrus.ErrorKey, err)
}

// WithField creates an entry from the standard logger and adds a field to it.
func WithField(key string, value interface{}) *Entry {
	return (*Entry)(logrus.WithField(key, value))
}

// WithFields creates an entry from the standard logger and adds multiple
// fields to it.
func WithFields(fields Fields) *Entry {
	return (*Entry)(logrus.WithFields(logrus.Fields(fields)))
}

// Debug logs a message at level Debug on the standard logger.
func Debug(args ...interface{}) {
	logrus.Debug(args...)
}

// Info logs a message at level Info on the standard logger.
func Info(args ...interface{}) {
	logrus.Info(args...)
}

// Warn logs a message at level Warn on the standard logger.
func Warn(args ...interface{}) {
	logrus.Warn(args...)
}

// Error logs a message at level Error on the standard logger.
func Error(args ...interface{}) {
	logrus.Error(args...)
}

// Fatal logs a message at level Fatal on the standard logger.
func Fatal(args ...interface{}) {
	logrus.Fatal(args...)
}

// Debugf logs a message at level Debug on the standard logger.
func Debugf(format string, args ...interface{}) {
	logrus.Debugf(format, args...)
}

// Infof logs a message at level Info on the standard logger.
func Infof(format string, args ...interface{}) {
	logrus.Infof(format, args...)
}

// Warnf logs a message at level Warn on the standard logger.
func Warnf(format string, args ...interface{}) {
	logrus.Warnf(format, args...)
}

// Errorf logs a message at level Error on the standard logger.
func Errorf(format string, args ...interface{}) {
	logrus.Errorf(format, args...)
}

// Fatalf logs a message at level Fatal on the standard logger.
func Fatalf(format string, args ...interface{}) {
	logrus.Fatalf(format, args...)
}

// Printf logs a message at level Info, it lets Logger serve as a printf style
// logger for libraries.
func (l *Logger) Printf(format string, args ...interface{}) {
	logrus.Printf(format, args...)
}
