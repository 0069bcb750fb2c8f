package config

import (
	"swotrace/internal/ocsd"
)

// SourceType names a ByteSource variant.
type SourceType string

const (
	SourceJLink   SourceType = "jlink"
	SourceOpenOCD SourceType = "openocd"
)

// SourceEvent is the body of the swo-configure custom event.
type SourceEvent struct {
	Type   SourceType `json:"type" yaml:"type"`
	Port   int        `json:"port,omitempty" yaml:"port,omitempty"`
	Host   string     `json:"host,omitempty" yaml:"host,omitempty"`
	Path   string     `json:"path,omitempty" yaml:"path,omitempty"`
	Follow bool       `json:"follow,omitempty" yaml:"follow,omitempty"`
}

func (e SourceEvent) Validate() error {
	switch e.Type {
	case SourceJLink:
		if e.Port <= 0 || e.Port > 65535 {
			return invalidParam("jlink source: invalid port %d", e.Port)
		}
	case SourceOpenOCD:
		if e.Path == "" {
			return invalidParam("openocd source: path is required")
		}
	default:
		return invalidParam("unknown source type %q", e.Type)
	}
	return nil
}

// SWOConfig is the SWOConfig member of the launch arguments.
type SWOConfig struct {
	Enabled      bool            `json:"enabled" yaml:"enabled"`
	Ports        []ChannelConfig `json:"ports" yaml:"ports"`
	CPUFrequency int             `json:"cpuFrequency,omitempty" yaml:"cpu_frequency,omitempty"`
	SWOFrequency int             `json:"swoFrequency,omitempty" yaml:"swo_frequency,omitempty"`

	// decode options
	WaitForSync bool  `json:"waitForSync,omitempty" yaml:"wait_for_sync,omitempty"`
	TSPrescale  uint8 `json:"tsPrescale,omitempty" yaml:"ts_prescale,omitempty"`
	Formatter   bool  `json:"formatter,omitempty" yaml:"formatter,omitempty"`
	TraceID     uint8 `json:"traceId,omitempty" yaml:"trace_id,omitempty"`
}

func (c SWOConfig) Validate() error {
	if c.TSPrescale > 3 {
		return invalidParam("ts prescale selector must be 0..3, got %d", c.TSPrescale)
	}
	if c.Formatter && !ocsd.IsValidCSSrcID(c.TraceID) {
		return invalidParam("formatter enabled with invalid trace id 0x%02x", c.TraceID)
	}
	if c.CPUFrequency < 0 || c.SWOFrequency < 0 {
		return invalidParam("frequencies must not be negative")
	}
	return nil
}

// GraphType is the kind of plot a GraphSpec describes.
type GraphType string

const (
	GraphRealtime GraphType = "realtime"
	GraphXYPlot   GraphType = "x-y-plot"
)

// Plot is one channel drawn on a graph.
type Plot struct {
	Port  int    `json:"port" yaml:"port"`
	Label string `json:"label,omitempty" yaml:"label,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// GraphSpec describes a graph the feeds pass on to whatever draws it.
type GraphSpec struct {
	ID       string    `json:"graphId" yaml:"id"`
	Label    string    `json:"label,omitempty" yaml:"label,omitempty"`
	Type     GraphType `json:"type" yaml:"type"`
	Min      float64   `json:"minimum,omitempty" yaml:"min,omitempty"`
	Max      float64   `json:"maximum,omitempty" yaml:"max,omitempty"`
	Timespan float64   `json:"timespan,omitempty" yaml:"timespan,omitempty"`
	Plots    []Plot    `json:"plots,omitempty" yaml:"plots,omitempty"`
}

// LaunchArgs is the part of the session start arguments this engine reads.
type LaunchArgs struct {
	SWOConfig   SWOConfig   `json:"SWOConfig" yaml:"swo"`
	GraphConfig []GraphSpec `json:"GraphConfig,omitempty" yaml:"graphs,omitempty"`
}

// Channels builds the channel map from SWOConfig.Ports.
func (a LaunchArgs) Channels() (ChannelMap, error) {
	return NewChannelMap(a.SWOConfig.Ports)
}
