// Copyright 2024 The Fred Authors
// This file is part of Fred.
//
// Fred is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Fred is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Fred. If not, see <http://www.gnu.org/licenses/>.

// Package log provides the leveled, contextual logger used throughout the
// module. It mirrors the child-logger idiom of the teacher's (unretrieved)
// log package: a Logger carries a fixed set of key/value context fields and
// every call site adds the event-specific ones.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

// Logger is a contextual logger. The zero value is a logger with no context
// fields; New adds them.
type Logger struct {
	ctx []any
}

var (
	mu     sync.Mutex
	out    io.Writer = colorable.NewColorableStdout()
	useTTY           = isatty.IsTerminal(os.Stdout.Fd())
	level            = slog.LevelInfo
)

var root = &Logger{}

// New returns a child logger carrying ctx (alternating key, value pairs)
// in addition to any inherited from the parent.
func New(ctx ...any) *Logger {
	return root.New(ctx...)
}

// New returns a child of l with additional context fields appended.
func (l *Logger) New(ctx ...any) *Logger {
	nctx := make([]any, 0, len(l.ctx)+len(ctx))
	nctx = append(nctx, l.ctx...)
	nctx = append(nctx, ctx...)
	return &Logger{ctx: nctx}
}

// SetLevel adjusts the minimum level emitted process-wide. Accepts
// "trace", "debug", "info", "warn", "error".
func SetLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	switch strings.ToLower(name) {
	case "trace":
		level = slog.LevelDebug - 4
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
}

func colorize(lvl slog.Level, msg string) string {
	if !useTTY {
		return msg
	}
	switch {
	case lvl >= slog.LevelError:
		return color.RedString(msg)
	case lvl >= slog.LevelWarn:
		return color.YellowString(msg)
	case lvl <= slog.LevelDebug:
		return color.New(color.Faint).Sprint(msg)
	default:
		return msg
	}
}

func (l *Logger) emit(lvl slog.Level, msg string, kv []any) {
	mu.Lock()
	defer mu.Unlock()
	if lvl < level {
		return
	}
	var b strings.Builder
	b.WriteString(colorize(lvl, lvl.String()))
	b.WriteByte(' ')
	b.WriteString(msg)
	all := make([]any, 0, len(l.ctx)+len(kv))
	all = append(all, l.ctx...)
	all = append(all, kv...)
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	fmt.Fprintln(out, b.String())
}

func (l *Logger) Trace(msg string, ctx ...any) { l.emit(slog.LevelDebug-4, msg, ctx) }
func (l *Logger) Debug(msg string, ctx ...any) { l.emit(slog.LevelDebug, msg, ctx) }
func (l *Logger) Info(msg string, ctx ...any)  { l.emit(slog.LevelInfo, msg, ctx) }
func (l *Logger) Warn(msg string, ctx ...any)  { l.emit(slog.LevelWarn, msg, ctx) }
func (l *Logger) Error(msg string, ctx ...any) { l.emit(slog.LevelError, msg, ctx) }

func Trace(msg string, ctx ...any) { root.Trace(msg, ctx...) }
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }
func Info(msg string, ctx ...any)  { root.Info(msg, ctx...) }
func Warn(msg string, ctx ...any)  { root.Warn(msg, ctx...) }
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }
