package common

import (
	"testing"

	"swotrace/internal/ocsd"
)

// mockErrorLog is a mock implementation of TraceErrorLog
type mockErrorLog struct {
	lastErrSev ocsd.ErrSeverity
	lastErr    *Error
	lastMsgSev ocsd.ErrSeverity
	lastMsg    string
}

func (m *mockErrorLog) LogError(filterLevel ocsd.ErrSeverity, err *Error) {
	m.lastErrSev = filterLevel
	m.lastErr = err
}

func (m *mockErrorLog) LogMessage(filterLevel ocsd.ErrSeverity, msg string) {
	m.lastMsgSev = filterLevel
	m.lastMsg = msg
}

func TestAttachPt(t *testing.T) {
	pt := NewAttachPt[TraceErrorLog]()
	if pt.HasAttached() {
		t.Errorf("expected no attachment initially")
	}

	logger := &mockErrorLog{}
	if err := pt.Attach(logger); err != ocsd.OK {
		t.Errorf("expected OK, got %v", err)
	}
	if !pt.HasAttached() {
		t.Errorf("expected attachment")
	}

	// single slot
	logger2 := &mockErrorLog{}
	if err := pt.Attach(logger2); err != ocsd.ErrAttachTooMany {
		t.Errorf("expected ErrAttachTooMany, got %v", err)
	}

	if err := pt.Detach(); err != ocsd.OK {
		t.Errorf("expected OK, got %v", err)
	}
	if pt.HasAttached() {
		t.Errorf("expected no attachment after detach")
	}
	if err := pt.Detach(); err != ocsd.ErrAttachCompNotFound {
		t.Errorf("expected ErrAttachCompNotFound, got %v", err)
	}

	if err := pt.ReplaceFirst(logger); err != ocsd.OK {
		t.Errorf("expected OK, got %v", err)
	}
	if err := pt.ReplaceFirst(logger2); err != ocsd.OK {
		t.Errorf("expected OK, got %v", err)
	}
	if pt.First() != logger2 {
		t.Errorf("expected logger2 to be attached")
	}

	pt.Detach()
	if pt.First() != nil {
		t.Errorf("expected nil First() after detach")
	}
}

func TestTraceComponent(t *testing.T) {
	tc := &TraceComponent{}
	tc.InitTraceComponent("TestComp")

	if tc.ComponentName() != "TestComp" {
		t.Errorf("expected name TestComp, got %s", tc.ComponentName())
	}
	if !tc.IsLoggingErrorLevel(ocsd.ErrSevError) || tc.IsLoggingErrorLevel(ocsd.ErrSevWarn) {
		t.Errorf("expected default level error")
	}

	// nothing attached: must not panic
	tc.LogMessage(ocsd.ErrSevError, "dropped")

	logger := &mockErrorLog{}
	tc.ErrorLogAttachPt().Attach(logger)
	tc.SetErrorLogLevel(ocsd.ErrSevInfo)

	tc.LogMessage(ocsd.ErrSevWarn, "A warning")
	if logger.lastMsg != "A warning" || logger.lastMsgSev != ocsd.ErrSevWarn {
		t.Errorf("log message was not passed to logger correctly")
	}
	if tc.IsLoggingErrorLevel(ocsd.ErrSevDebug) {
		t.Errorf("debug should be filtered at info level")
	}

	tc.LogMessage(ocsd.ErrSevDebug, "Should not log")
	if logger.lastMsg == "Should not log" {
		t.Errorf("expected message to be filtered")
	}

	tc.SetErrorLogLevel(ocsd.ErrSevNone)
	tc.LogMessage(ocsd.ErrSevError, "Should not log")
	if logger.lastMsg == "Should not log" {
		t.Errorf("expected message to be filtered")
	}

	tc.SetErrorLogLevel(ocsd.ErrSevError)
	e := NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidPcktHdr, "test error")
	tc.LogError(e)
	if logger.lastErrSev != ocsd.ErrSevError || logger.lastErr != e {
		t.Errorf("log error failed to pass through")
	}

	tc.LogError(NewErrorMsg(ocsd.ErrSevWarn, ocsd.ErrBadPacketSeq, "filtered"))
	if logger.lastErr != e {
		t.Errorf("warning should be filtered at error level")
	}
}
