package common

import (
	"swotrace/internal/ocsd"
)

// TraceErrorLog is the error logging sink a component reports through.
type TraceErrorLog interface {
	// LogError logs an error.
	LogError(sev ocsd.ErrSeverity, err *Error)
	// LogMessage logs a standard message.
	LogMessage(sev ocsd.ErrSeverity, msg string)
}

// AttachPt is a single-slot component attachment point.
// T represents the interface type being attached.
type AttachPt[T any] struct {
	hasAttached bool
	comp        T
}

// NewAttachPt creates an empty attachment point.
func NewAttachPt[T any]() *AttachPt[T] {
	return &AttachPt[T]{}
}

// Attach attaches comp. Only one component may be attached at a time.
func (a *AttachPt[T]) Attach(comp T) ocsd.Err {
	if a.hasAttached {
		return ocsd.ErrAttachTooMany
	}
	a.comp = comp
	a.hasAttached = true
	return ocsd.OK
}

// Detach detaches the current component from the attachment point.
func (a *AttachPt[T]) Detach() ocsd.Err {
	if !a.hasAttached {
		return ocsd.ErrAttachCompNotFound
	}
	var empty T
	a.comp = empty
	a.hasAttached = false
	return ocsd.OK
}

// ReplaceFirst detaches any currently attached component and attaches the new one.
func (a *AttachPt[T]) ReplaceFirst(comp T) ocsd.Err {
	if a.hasAttached {
		_ = a.Detach()
	}
	return a.Attach(comp)
}

// First returns the attached interface, or the zero value when empty.
// Callers check HasAttached first.
func (a *AttachPt[T]) First() T {
	return a.comp
}

func (a *AttachPt[T]) HasAttached() bool { return a.hasAttached }

// TraceComponent is embedded by every datapath stage. It gives the stage a
// name and an error-log attachment with a verbosity filter.
type TraceComponent struct {
	name         string
	errorLogger  AttachPt[TraceErrorLog]
	errVerbosity ocsd.ErrSeverity
}

// InitTraceComponent initializes an embedded TraceComponent in place.
func (tc *TraceComponent) InitTraceComponent(name string) {
	tc.name = name
	tc.errVerbosity = ocsd.ErrSevError
}

func (tc *TraceComponent) ComponentName() string { return tc.name }

// ErrorLogAttachPt returns the error logger attachment point.
func (tc *TraceComponent) ErrorLogAttachPt() *AttachPt[TraceErrorLog] {
	return &tc.errorLogger
}

// LogError forwards err to the attached logger if its severity passes the filter.
func (tc *TraceComponent) LogError(err *Error) {
	if err.Sev <= tc.errVerbosity && tc.errorLogger.HasAttached() {
		tc.errorLogger.First().LogError(err.Sev, err)
	}
}

// LogMessage logs a message if the level matches the verbosity and a logger is attached.
func (tc *TraceComponent) LogMessage(filterLevel ocsd.ErrSeverity, msg string) {
	if filterLevel <= tc.errVerbosity && tc.errorLogger.HasAttached() {
		tc.errorLogger.First().LogMessage(filterLevel, msg)
	}
}

// IsLoggingErrorLevel returns true if the level would be logged.
func (tc *TraceComponent) IsLoggingErrorLevel(level ocsd.ErrSeverity) bool {
	return level <= tc.errVerbosity
}

func (tc *TraceComponent) SetErrorLogLevel(level ocsd.ErrSeverity) {
	tc.errVerbosity = level
}
