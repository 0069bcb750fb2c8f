package itm

// Config is the ITM decode configuration. It mirrors the programmed state
// of the target's ITM_TCR register plus host side decode options.
type Config struct {
	RegTCR uint32 // trace bus ID [22:16], TS prescaler [9:8], SWOENA [4]

	// WaitForSync drops everything up to the first synchronisation packet.
	WaitForSync bool
}

// NewConfig creates a default configuration: no prescaler, decode from the
// first byte.
func NewConfig() *Config {
	return &Config{}
}

func (c *Config) SetTraceID(traceID uint8) {
	const idMask = uint32(0x007F0000)
	c.RegTCR &^= idMask
	c.RegTCR |= (uint32(traceID) << 16) & idMask
}

// TraceID is the CoreSight trace ID the ITM writes into formatted trace.
func (c *Config) TraceID() uint8 {
	return uint8((c.RegTCR >> 16) & 0x7F)
}

// SetTSPrescale programs the prescaler selector (0..3) and enables it.
func (c *Config) SetTSPrescale(sel uint8) {
	c.RegTCR &^= 0x310
	c.RegTCR |= uint32(sel&0x3)<<8 | 0x10
}

// TSPrescaleValue is the divider applied to the local timestamp clock.
func (c *Config) TSPrescaleValue() uint32 {
	prescaleVals := [...]uint32{1, 4, 16, 64}

	// prescaler only applies when the TPIU clock is used, SWOENA = bit[4]
	if c.RegTCR&0x10 == 0 {
		return 1
	}
	return prescaleVals[(c.RegTCR>>8)&0x3]
}
