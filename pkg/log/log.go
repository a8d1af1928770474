/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
)

type LogLevel int32

const (
	LogPrefix     = "[go-npx] "
	ErrorPrefix   = "[error] "
	WarningPrefix = "[warn] "
	InfoPrefix    = "[info] "
	DebugPrefix   = "[debug] "
	HelpLevels    = "Must be one of: error, warning, info, debug."
)

const (
	ErrorLevel LogLevel = iota
	WarningLevel
	InfoLevel
	DebugLevel
)

var levelMapping = map[string]LogLevel{
	"error":   ErrorLevel,
	"warning": WarningLevel,
	"info":    InfoLevel,
	"debug":   DebugLevel,
}

// ErrWrongLevel returned when the level name is not one of the known levels
type ErrWrongLevel struct {
	Level string
}

func (e ErrWrongLevel) Error() string {
	return fmt.Sprintf("Wrong log level %q. %s", e.Level, HelpLevels)
}

// Logger filters messages by level. The level is read by the acquisition
// goroutine on every packet so it is stored atomically.
type Logger struct {
	level int32
	*log.Logger
}

var logger = &Logger{
	level:  int32(InfoLevel),
	Logger: log.New(os.Stderr, LogPrefix, log.LstdFlags|log.Lmicroseconds),
}

func ParseLevel(strLevel string) (LogLevel, error) {
	level, ok := levelMapping[strLevel]
	if !ok {
		return ErrorLevel, ErrWrongLevel{Level: strLevel}
	}
	return level, nil
}

func SetLevel(strLevel string) error {
	level, err := ParseLevel(strLevel)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&logger.level, int32(level))
	return nil
}

// Init points the logger at out. An unknown level keeps the current one and
// is returned to the caller.
func Init(out io.Writer, strLevel string) error {
	logger.SetOutput(out)
	return SetLevel(strLevel)
}

// Enabled reports whether messages of the given level are printed.
func Enabled(level LogLevel) bool {
	return LogLevel(atomic.LoadInt32(&logger.level)) >= level
}

func output(level LogLevel, prefix, format string, v ...interface{}) {
	if Enabled(level) {
		logger.Output(3, prefix+fmt.Sprintf(format, v...))
	}
}

func Error(format string, v ...interface{}) {
	output(ErrorLevel, ErrorPrefix, format, v...)
}

func Warning(format string, v ...interface{}) {
	output(WarningLevel, WarningPrefix, format, v...)
}

func Info(format string, v ...interface{}) {
	output(InfoLevel, InfoPrefix, format, v...)
}

func Debug(format string, v ...interface{}) {
	output(DebugLevel, DebugPrefix, format, v...)
}

type levelWriter struct {
	level  LogLevel
	prefix string
}

func (w levelWriter) Write(p []byte) (int, error) {
	if Enabled(w.level) {
		msg := string(p)
		if n := len(msg); n > 0 && msg[n-1] == '\n' {
			msg = msg[:n-1]
		}
		logger.Output(2, w.prefix+msg)
	}
	return len(p), nil
}

// Writer returns an io.Writer printing each write as one message of the
// given level, e.g. for HTTP access logs.
func Writer(level LogLevel) io.Writer {
	prefixes := map[LogLevel]string{
		ErrorLevel:   ErrorPrefix,
		WarningLevel: WarningPrefix,
		InfoLevel:    InfoPrefix,
		DebugLevel:   DebugPrefix,
	}
	return levelWriter{level: level, prefix: prefixes[level]}
}
