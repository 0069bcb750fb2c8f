package common

import (
	"errors"
	"fmt"
	"strings"

	"swotrace/internal/ocsd"
)

// Error is the error object used across the trace engine. It carries an
// ocsd.Err code so callers can branch on the failure class, and may wrap a
// lower level cause (socket, file, sink).
type Error struct {
	Code      ocsd.Err
	Sev       ocsd.ErrSeverity
	Idx       ocsd.TrcIndex
	ChanID    uint8
	Message   string
	Retryable bool
	Err       error
}

func NewError(sev ocsd.ErrSeverity, code ocsd.Err) *Error {
	return &Error{
		Code:   code,
		Sev:    sev,
		Idx:    ocsd.BadTrcIndex,
		ChanID: ocsd.BadCSSrcID,
	}
}

func NewErrorMsg(sev ocsd.ErrSeverity, code ocsd.Err, msg string) *Error {
	e := NewError(sev, code)
	e.Message = msg
	return e
}

func NewErrorWithIdxMsg(sev ocsd.ErrSeverity, code ocsd.Err, idx ocsd.TrcIndex, msg string) *Error {
	e := NewErrorMsg(sev, code, msg)
	e.Idx = idx
	return e
}

// WrapError builds an error-severity Error around cause.
func WrapError(code ocsd.Err, cause error, msg string) *Error {
	e := NewErrorMsg(ocsd.ErrSevError, code, msg)
	e.Err = cause
	return e
}

// ConnectionError reports a transport that could not be established or was lost.
func ConnectionError(cause error, retryable bool, format string, args ...any) *Error {
	e := WrapError(ocsd.ErrConnection, cause, fmt.Sprintf(format, args...))
	e.Retryable = retryable
	return e
}

// Error implements the standard error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	switch e.Sev {
	case ocsd.ErrSevError:
		sb.WriteString("ERROR:")
	case ocsd.ErrSevWarn:
		sb.WriteString("WARN :")
	case ocsd.ErrSevInfo:
		sb.WriteString("INFO :")
	case ocsd.ErrSevDebug:
		sb.WriteString("DEBUG:")
	default:
		return "internal error: invalid error object"
	}

	sb.WriteString(fmt.Sprintf("0x%04x ", e.Code))

	if desc, ok := errorCodeDesc[e.Code]; ok {
		sb.WriteString(fmt.Sprintf("(%s) [%s]; ", desc.name, desc.msg))
	} else {
		sb.WriteString("(unknown); ")
	}

	if e.Idx != ocsd.BadTrcIndex {
		sb.WriteString(fmt.Sprintf("TrcIdx=%d; ", e.Idx))
	}

	if e.ChanID != ocsd.BadCSSrcID {
		sb.WriteString(fmt.Sprintf("Chan=%d; ", e.ChanID))
	}

	sb.WriteString(e.Message)
	if e.Err != nil {
		if e.Message != "" {
			sb.WriteString(": ")
		}
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, NewError(0, ocsd.ErrConnection))
// works regardless of message and index.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode returns the code of the first *Error in err's chain, or ocsd.OK.
func ErrorCode(err error) ocsd.Err {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ocsd.OK
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ocsd.Err) bool {
	return err != nil && ErrorCode(err) == code
}

// IsRetryable reports whether err is marked as worth retrying.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// DataRespStr returns a string representation for an ocsd.DatapathResp value.
func DataRespStr(resp ocsd.DatapathResp) string {
	switch resp {
	case ocsd.RespCont:
		return "RESP_CONT: Continue processing."
	case ocsd.RespWarnCont:
		return "RESP_WARN_CONT: Continue processing -> a component logged a warning."
	case ocsd.RespErrCont:
		return "RESP_ERR_CONT: Continue processing -> a component logged an error."
	case ocsd.RespWait:
		return "RESP_WAIT: Pause processing"
	case ocsd.RespFatalNotInit:
		return "RESP_FATAL_NOT_INIT: Processing Fatal Error :  component unintialised."
	case ocsd.RespFatalInvalidOp:
		return "RESP_FATAL_INVALID_OP: Processing Fatal Error :  invalid data path operation."
	case ocsd.RespFatalInvalidParam:
		return "RESP_FATAL_INVALID_PARAM: Processing Fatal Error :  invalid parameter in datapath call."
	case ocsd.RespFatalInvalidData:
		return "RESP_FATAL_INVALID_DATA: Processing Fatal Error :  invalid trace data."
	case ocsd.RespFatalSysErr:
		return "RESP_FATAL_SYS_ERR: Processing Fatal Error :  internal system error."
	default:
		return "Unknown RESP type."
	}
}

type errDesc struct {
	name string
	msg  string
}

var errorCodeDesc = map[ocsd.Err]errDesc{
	ocsd.OK:                    {"OK", "No Error."},
	ocsd.ErrFail:               {"ERR_FAIL", "General failure."},
	ocsd.ErrNotInit:            {"ERR_NOT_INIT", "Component not initialised."},
	ocsd.ErrInvalidParamVal:    {"ERR_INVALID_PARAM_VAL", "Invalid value parameter passed to component."},
	ocsd.ErrInvalidParamType:   {"ERR_INVALID_PARAM_TYPE", "Type mismatch on abstract interface."},
	ocsd.ErrFileError:          {"ERR_FILE_ERROR", "File access error"},
	ocsd.ErrAttachTooMany:      {"ERR_ATTACH_TOO_MANY", "Cannot attach - attach device limit reached."},
	ocsd.ErrAttachCompNotFound: {"ERR_ATTACH_COMP_NOT_FOUND", "Cannot detach - component not found."},
	ocsd.ErrRdrFileNotFound:    {"ERR_RDR_FILE_NOT_FOUND", "source reader - file not found."},
	ocsd.ErrDfrmtrBadFhsync:    {"ERR_DFMTR_BAD_FHSYNC", "Bad frame or half frame sync in trace deformatter"},
	ocsd.ErrBadPacketSeq:       {"ERR_BAD_PACKET_SEQ", "Bad packet sequence"},
	ocsd.ErrInvalidPcktHdr:     {"ERR_INVALID_PCKT_HDR", "Invalid packet header"},
	ocsd.ErrConnection:         {"ERR_CONNECTION", "Trace source transport unavailable"},
	ocsd.ErrConfigMismatch:     {"ERR_CONFIG_MISMATCH", "Session configuration inconsistent"},
	ocsd.ErrOverflow:           {"ERR_OVERFLOW", "Target reported trace overflow"},
	ocsd.ErrDisposed:           {"ERR_DISPOSED", "Component already disposed"},
	ocsd.ErrSinkWrite:          {"ERR_SINK_WRITE", "Output sink write failed"},
}

// ErrorCodeName returns the symbolic name of code, e.g. "ERR_CONNECTION".
func ErrorCodeName(code ocsd.Err) string {
	if desc, ok := errorCodeDesc[code]; ok {
		return desc.name
	}
	return fmt.Sprintf("ERR_0x%04x", uint32(code))
}
