package ocsd

// Trace Indexing and Channel IDs

// TrcIndex is the byte offset of a packet or block in the raw trace stream.
type TrcIndex uint64

const (
	// BadTrcIndex is an invalid trace index value
	BadTrcIndex TrcIndex = ^TrcIndex(0)

	// BadCSSrcID is an invalid trace source ID value
	BadCSSrcID uint8 = 0xFF

	// NumChannels is the number of ITM stimulus ports carried on one SWO wire.
	NumChannels = 32
)

// IsValidCSSrcID returns true if trace source ID is in valid range (0x0 < ID < 0x70)
func IsValidCSSrcID(id uint8) bool {
	return id > 0 && id < 0x70
}

// IsValidChannel returns true if ch addresses one of the 32 stimulus ports.
func IsValidChannel(ch int) bool {
	return ch >= 0 && ch < NumChannels
}

// General Library Return and Error Codes

// Err represents library error return type
type Err uint32

const (
	OK                    Err = 0
	ErrFail               Err = 1
	ErrNotInit            Err = 3
	ErrInvalidParamVal    Err = 6
	ErrInvalidParamType   Err = 7
	ErrFileError          Err = 8
	ErrAttachTooMany      Err = 10
	ErrAttachCompNotFound Err = 12
	ErrRdrFileNotFound    Err = 13
	ErrDfrmtrBadFhsync    Err = 18
	ErrBadPacketSeq       Err = 19
	ErrInvalidPcktHdr     Err = 20

	// SWO session codes.
	ErrConnection     Err = 64
	ErrConfigMismatch Err = 65
	ErrOverflow       Err = 66
	ErrDisposed       Err = 67
	ErrSinkWrite      Err = 68
)

// ErrSeverity used to indicate the severity of an error or logger verbosity
type ErrSeverity uint32

const (
	ErrSevNone  ErrSeverity = 0
	ErrSevError ErrSeverity = 1
	ErrSevWarn  ErrSeverity = 2
	ErrSevInfo  ErrSeverity = 3
	ErrSevDebug ErrSeverity = 4
)

// Trace Datapath

// DatapathOp represents trace datapath operations.
type DatapathOp uint32

const (
	OpData  DatapathOp = 0
	OpEOT   DatapathOp = 1
	OpFlush DatapathOp = 2
	OpReset DatapathOp = 3
)

func (op DatapathOp) String() string {
	switch op {
	case OpData:
		return "DATA"
	case OpEOT:
		return "EOT"
	case OpFlush:
		return "FLUSH"
	case OpReset:
		return "RESET"
	default:
		return "UNKNOWN"
	}
}

// DatapathResp represents trace datapath responses.
type DatapathResp uint32

const (
	RespCont              DatapathResp = 0
	RespWarnCont          DatapathResp = 1
	RespErrCont           DatapathResp = 2
	RespWait              DatapathResp = 3
	RespFatalNotInit      DatapathResp = 6
	RespFatalInvalidOp    DatapathResp = 7
	RespFatalInvalidParam DatapathResp = 8
	RespFatalInvalidData  DatapathResp = 9
	RespFatalSysErr       DatapathResp = 10
)

func DataRespIsFatal(x DatapathResp) bool { return x >= RespFatalNotInit }
func DataRespIsCont(x DatapathResp) bool  { return x < RespWait }

// WorstResp returns the more severe of two datapath responses.
func WorstResp(a, b DatapathResp) DatapathResp {
	if b > a {
		return b
	}
	return a
}

// Deformatter configuration

const (
	DfrmtrHasFsyncs      = 0x01
	DfrmtrHasHsyncs      = 0x02
	DfrmtrResetOn4xFsync = 0x20
	DfrmtrValidMask      = DfrmtrHasFsyncs | DfrmtrHasHsyncs | DfrmtrResetOn4xFsync

	DfrmtrFrameSize = 0x10
)

// RawframeElem classifies the pieces of a TPIU stream shown to a frame
// monitor.
type RawframeElem uint32

const (
	FrmNone   RawframeElem = 0
	FrmPacked RawframeElem = 1
	FrmHsync  RawframeElem = 2
	FrmFsync  RawframeElem = 3
	FrmIDData RawframeElem = 4
)

// Demux Statistics

type DemuxStats struct {
	ValidIDBytes    uint64
	NoIDBytes       uint64
	ReservedIDBytes uint64
	FrameBytes      uint64
}

// Decode statistics

type DecodeStats struct {
	ChannelTotal    uint64 // bytes seen by the packet processor
	ChannelUnsynced uint64 // bytes dropped while waiting for sync
	Packets         uint64
	BadHeaderErrs   uint32
	BadSequenceErrs uint32
	Demux           DemuxStats
}
