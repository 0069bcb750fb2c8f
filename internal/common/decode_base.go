package common

import (
	"swotrace/internal/ocsd"
)

// PktProcBase holds the parts of a packet processor that do not depend on
// the protocol: the datapath op dispatch, the output attachment points and
// the statistics block. Protocol processors embed it and fill in the Fn hooks.
type PktProcBase[P any, Pc any] struct {
	TraceComponent

	Config     *Pc
	PktOutI    AttachPt[PktDataIn[P]]
	PktRawMonI AttachPt[PktRawDataMon[P]]
	Stats      ocsd.DecodeStats

	FnProcessData      func(index ocsd.TrcIndex, dataBlock []byte) (uint32, ocsd.DatapathResp)
	FnOnEOT            func() ocsd.DatapathResp
	FnOnReset          func() ocsd.DatapathResp
	FnOnFlush          func() ocsd.DatapathResp
	FnOnProtocolConfig func() ocsd.Err
}

func (pb *PktProcBase[P, Pc]) InitPktProcBase(name string) {
	pb.InitTraceComponent(name)
	pb.PktOutI = *NewAttachPt[PktDataIn[P]]()
	pb.PktRawMonI = *NewAttachPt[PktRawDataMon[P]]()
	pb.ResetStats()
}

// TraceDataIn is the datapath entry point.
func (pb *PktProcBase[P, Pc]) TraceDataIn(op ocsd.DatapathOp, index ocsd.TrcIndex, dataBlock []byte) (uint32, ocsd.DatapathResp) {
	resp := ocsd.RespCont
	var processed uint32

	switch op {
	case ocsd.OpData:
		if len(dataBlock) == 0 {
			pb.LogError(NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "Packet Processor: Zero length data block error"))
			resp = ocsd.RespFatalInvalidParam
		} else if pb.FnProcessData != nil {
			processed, resp = pb.FnProcessData(index, dataBlock)
		}
	case ocsd.OpEOT:
		resp = pb.eot()
	case ocsd.OpFlush:
		resp = pb.flush()
	case ocsd.OpReset:
		resp = pb.reset(index)
	default:
		pb.LogError(NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "Packet Processor : Unknown Datapath operation"))
		resp = ocsd.RespFatalInvalidOp
	}
	return processed, resp
}

func (pb *PktProcBase[P, Pc]) reset(index ocsd.TrcIndex) ocsd.DatapathResp {
	resp := ocsd.RespCont
	if pb.PktOutI.HasAttached() {
		resp = pb.PktOutI.First().PacketDataIn(ocsd.OpReset, index, nil)
	}
	if !ocsd.DataRespIsFatal(resp) && pb.FnOnReset != nil {
		resp = pb.FnOnReset()
	}
	if pb.PktRawMonI.HasAttached() {
		pb.PktRawMonI.First().RawPacketDataMon(ocsd.OpReset, index, nil, nil)
	}
	return resp
}

func (pb *PktProcBase[P, Pc]) flush() ocsd.DatapathResp {
	resp := ocsd.RespCont
	if pb.PktOutI.HasAttached() {
		resp = pb.PktOutI.First().PacketDataIn(ocsd.OpFlush, 0, nil)
	}
	if ocsd.DataRespIsCont(resp) && pb.FnOnFlush != nil {
		resp = ocsd.WorstResp(resp, pb.FnOnFlush())
	}
	return resp
}

func (pb *PktProcBase[P, Pc]) eot() ocsd.DatapathResp {
	resp := ocsd.RespCont
	if pb.FnOnEOT != nil {
		resp = pb.FnOnEOT()
	}
	if pb.PktOutI.HasAttached() && !ocsd.DataRespIsFatal(resp) {
		resp = pb.PktOutI.First().PacketDataIn(ocsd.OpEOT, 0, nil)
	}
	if pb.PktRawMonI.HasAttached() {
		pb.PktRawMonI.First().RawPacketDataMon(ocsd.OpEOT, 0, nil, nil)
	}
	return resp
}

// OutputDecodedPacket passes pkt down the decode path.
func (pb *PktProcBase[P, Pc]) OutputDecodedPacket(indexSOP ocsd.TrcIndex, pkt *P) ocsd.DatapathResp {
	if pb.PktOutI.HasAttached() {
		return pb.PktOutI.First().PacketDataIn(ocsd.OpData, indexSOP, pkt)
	}
	return ocsd.RespCont
}

// OutputRawPacketToMonitor shows pkt and its raw bytes to the monitor, if any.
func (pb *PktProcBase[P, Pc]) OutputRawPacketToMonitor(indexSOP ocsd.TrcIndex, pkt *P, pData []byte) {
	if len(pData) == 0 {
		return
	}
	if pb.PktRawMonI.HasAttached() {
		pb.PktRawMonI.First().RawPacketDataMon(ocsd.OpData, indexSOP, pkt, pData)
	}
}

// OutputOnAllInterfaces sends a completed packet to the monitor and the decode path.
func (pb *PktProcBase[P, Pc]) OutputOnAllInterfaces(indexSOP ocsd.TrcIndex, pkt *P, pktData []byte) ocsd.DatapathResp {
	pb.Stats.Packets++
	pb.OutputRawPacketToMonitor(indexSOP, pkt, pktData)
	return pb.OutputDecodedPacket(indexSOP, pkt)
}

// SetProtocolConfig sets the protocol configuration and runs the config hook.
func (pb *PktProcBase[P, Pc]) SetProtocolConfig(config *Pc) ocsd.Err {
	if config == nil {
		return ocsd.ErrInvalidParamVal
	}
	pb.Config = config
	if pb.FnOnProtocolConfig != nil {
		return pb.FnOnProtocolConfig()
	}
	return ocsd.OK
}

func (pb *PktProcBase[P, Pc]) ResetStats() {
	pb.Stats = ocsd.DecodeStats{}
}

func (pb *PktProcBase[P, Pc]) StatsAddTotalCount(count uint64)  { pb.Stats.ChannelTotal += count }
func (pb *PktProcBase[P, Pc]) StatsAddUnsyncCount(count uint64) { pb.Stats.ChannelUnsynced += count }
func (pb *PktProcBase[P, Pc]) StatsAddBadSeqCount(count uint32) { pb.Stats.BadSequenceErrs += count }
func (pb *PktProcBase[P, Pc]) StatsAddBadHdrCount(count uint32) { pb.Stats.BadHeaderErrs += count }
