package common

import "swotrace/internal/ocsd"

// TrcDataIn is the generic interface for supplying raw trace bytes to a
// datapath stage. It returns the number of bytes consumed.
type TrcDataIn interface {
	TraceDataIn(op ocsd.DatapathOp, index ocsd.TrcIndex, dataBlock []byte) (uint32, ocsd.DatapathResp)
}

// PktDataIn receives decoded protocol packets.
type PktDataIn[P any] interface {
	PacketDataIn(op ocsd.DatapathOp, indexSOP ocsd.TrcIndex, pkt *P) ocsd.DatapathResp
}

// PktRawDataMon sees every packet together with the raw bytes it was built
// from. Not on the decode path.
type PktRawDataMon[P any] interface {
	RawPacketDataMon(op ocsd.DatapathOp, indexSOP ocsd.TrcIndex, pkt *P, rawData []byte)
}

// TrcRawFrameIn monitors the frames a deformatter unpacks.
type TrcRawFrameIn interface {
	TraceRawFrameIn(op ocsd.DatapathOp, index ocsd.TrcIndex, frameElem ocsd.RawframeElem, data []byte, traceID uint8) ocsd.DatapathResp
}
