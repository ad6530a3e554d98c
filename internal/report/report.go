// Package report is the one place failures and successes get logged.
//
// Collaborators return plain errors; callers hand them to a Reporter, which
// decides the log level and turns the outcome into a bool. Successful
// operations are only logged when verbose is on.
package report

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Level selects the prefix used when an operation fails.
type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) prefix() string {
	switch l {
	case Warn:
		return "WARN: "
	case Error:
		return "ERROR: "
	default:
		return ""
	}
} // func (l Level) prefix() string

// Reporter writes through a stdlib logger. The zero value is not usable; use New.
type Reporter struct {
	logger  *log.Logger
	verbose atomic.Bool
}

// New returns a Reporter writing to logger, or to the standard logger if nil.
func New(logger *log.Logger, verbose bool) *Reporter {
	if logger == nil {
		logger = log.Default()
	}
	r := &Reporter{logger: logger}
	r.verbose.Store(verbose)
	return r
}

// SetVerbose switches verbose logging on or off.
func (r *Reporter) SetVerbose(on bool) { r.verbose.Store(on) }

// Verbose reports whether verbose logging is on.
func (r *Reporter) Verbose() bool { return r.verbose.Load() }

// Check logs err at lvl and returns false, or logs op when verbose and returns true.
func (r *Reporter) Check(op string, err error, lvl Level) bool {
	if err != nil {
		r.logger.Printf("%s%s: %v", lvl.prefix(), op, err)
		return false
	}
	if r.Verbose() {
		r.logger.Printf("%s: ok", op)
	}
	return true
} // func (r *Reporter) Check(op string, err error, lvl Level) bool

func (r *Reporter) Verbosef(format string, a ...any) {
	if r.Verbose() {
		r.logger.Output(2, fmt.Sprintf(format, a...))
	}
}

func (r *Reporter) Infof(format string, a ...any) {
	r.logger.Output(2, fmt.Sprintf(format, a...))
}

func (r *Reporter) Warnf(format string, a ...any) {
	r.logger.Output(2, Warn.prefix()+fmt.Sprintf(format, a...))
}

func (r *Reporter) Errorf(format string, a ...any) {
	r.logger.Output(2, Error.prefix()+fmt.Sprintf(format, a...))
}
