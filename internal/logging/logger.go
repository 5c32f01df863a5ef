/*
Copyright © 2025 Benny Powers <web@bennypowers.com>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package logging provides the structured logger shared by the graph
// engine, the file watcher, and the dev server.
package logging

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"
)

func init() {
	pterm.Info = *pterm.Info.WithPrefix(pterm.Prefix{
		Text:  "INFO",
		Style: pterm.NewStyle(pterm.FgBlue),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Success = *pterm.Success.WithPrefix(pterm.Prefix{
		Text:  "SUCCESS",
		Style: pterm.NewStyle(pterm.FgGreen),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Warning = *pterm.Warning.WithPrefix(pterm.Prefix{
		Text:  "WARNING",
		Style: pterm.NewStyle(pterm.FgYellow),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Error = *pterm.Error.WithPrefix(pterm.Prefix{
		Text:  "ERROR",
		Style: pterm.NewStyle(pterm.FgRed),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)

	pterm.Debug = *pterm.Debug.WithPrefix(pterm.Prefix{
		Text:  "DEBUG",
		Style: pterm.NewStyle(pterm.FgCyan),
	}).WithMessageStyle(&pterm.ThemeDefault.DefaultText)
}

// Logger is the logging interface consumed by graph, watch, and devserver.
// Constructor injection only — this package keeps no global logger;
// cmd/hotmod constructs one and wires it in at startup.
type Logger interface {
	Info(format string, args ...any)
	Warning(format string, args ...any)
	Error(format string, args ...any)
	Debug(format string, args ...any)
	Success(format string, args ...any)
}

// ptermLogger renders to the terminal via pterm, with debug/quiet gating.
type ptermLogger struct {
	mu           sync.RWMutex
	debugEnabled bool
	quietEnabled bool
}

// New creates the default CLI logger.
func New() *ptermLogger {
	return &ptermLogger{}
}

// SetDebugEnabled controls whether Debug messages are printed.
func (l *ptermLogger) SetDebugEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugEnabled = enabled
}

// SetQuietEnabled suppresses Info, Debug, and Success output.
func (l *ptermLogger) SetQuietEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quietEnabled = enabled
}

func (l *ptermLogger) Debug(format string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.debugEnabled || l.quietEnabled {
		return
	}
	pterm.Debug.Println(fmt.Sprintf(format, args...))
}

func (l *ptermLogger) Info(format string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.quietEnabled {
		return
	}
	pterm.Info.Println(fmt.Sprintf(format, args...))
}

func (l *ptermLogger) Success(format string, args ...any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.quietEnabled {
		return
	}
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func (l *ptermLogger) Warning(format string, args ...any) {
	pterm.Warning.Println(fmt.Sprintf(format, args...))
}

func (l *ptermLogger) Error(format string, args ...any) {
	pterm.Error.Println(fmt.Sprintf(format, args...))
}

// plainLogger is the non-interactive fallback (piped stdout, CI runs, tests).
type plainLogger struct {
	mu    sync.Mutex
	debug bool
	quiet bool
}

// NewPlain creates a logger that writes plain `[LEVEL] message` lines to
// stdout with fmt.Printf, matching the teacher's
// NewDefaultLogger fallback for non-interactive contexts.
func NewPlain(debug bool) Logger {
	return &plainLogger{debug: debug}
}

func (l *plainLogger) SetQuietEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.quiet = enabled
}

func (l *plainLogger) Debug(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.debug || l.quiet {
		return
	}
	fmt.Printf("[DEBUG] "+format+"\n", args...)
}

func (l *plainLogger) Info(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quiet {
		return
	}
	fmt.Printf("[INFO] "+format+"\n", args...)
}

func (l *plainLogger) Success(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.quiet {
		return
	}
	fmt.Printf("[SUCCESS] "+format+"\n", args...)
}

func (l *plainLogger) Warning(format string, args ...any) {
	fmt.Printf("[WARN] "+format+"\n", args...)
}

func (l *plainLogger) Error(format string, args ...any) {
	fmt.Printf("[ERROR] "+format+"\n", args...)
}

// Noop is a Logger that discards everything, used as the zero-value default
// in tests that don't care about log output.
type Noop struct{}

func (Noop) Info(string, ...any)    {}
func (Noop) Warning(string, ...any) {}
func (Noop) Error(string, ...any)   {}
func (Noop) Debug(string, ...any)   {}
func (Noop) Success(string, ...any) {}
