// Package config holds the session configuration types: the source event,
// the launch arguments carrying the channel map, and the YAML file the CLI
// reads them from.
package config

import (
	"fmt"

	"swotrace/internal/common"
	"swotrace/internal/ocsd"
)

// ChannelType selects what a channel's bytes are assembled into.
type ChannelType string

const (
	ChannelConsole ChannelType = "console"
	ChannelGraph   ChannelType = "graph"
)

// GraphFormat is the numeric interpretation of a graph channel sample.
type GraphFormat string

const (
	FormatUnsigned GraphFormat = "unsigned"
	FormatSigned   GraphFormat = "signed"
	FormatFloat    GraphFormat = "float"
)

// ChannelConfig configures one ITM stimulus port.
type ChannelConfig struct {
	Number  int         `json:"number" yaml:"number"`
	Type    ChannelType `json:"type" yaml:"type"`
	Label   string      `json:"label,omitempty" yaml:"label,omitempty"`
	Format  GraphFormat `json:"format,omitempty" yaml:"format,omitempty"`
	Width   int         `json:"width,omitempty" yaml:"width,omitempty"`
	Scale   float64     `json:"scale,omitempty" yaml:"scale,omitempty"`
	GraphID string      `json:"graphId,omitempty" yaml:"graph_id,omitempty"`
}

func invalidParam(format string, args ...any) *common.Error {
	return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, fmt.Sprintf(format, args...))
}

// withDefaults fills the zero values: graph channels default to 4 byte
// unsigned samples with a scale of 1.
func (c ChannelConfig) withDefaults() ChannelConfig {
	if c.Type == "" {
		c.Type = ChannelConsole
	}
	if c.Label == "" {
		c.Label = fmt.Sprintf("SWO:ITM[port:%d, type:%s]", c.Number, c.Type)
	}
	if c.Type == ChannelGraph {
		if c.Format == "" {
			c.Format = FormatUnsigned
		}
		if c.Width == 0 {
			c.Width = 4
		}
		if c.Scale == 0 {
			c.Scale = 1
		}
	}
	return c
}

// Validate checks a channel after defaults have been applied.
func (c ChannelConfig) Validate() error {
	if !ocsd.IsValidChannel(c.Number) {
		return invalidParam("channel %d: number must be 0..%d", c.Number, ocsd.NumChannels-1)
	}
	switch c.Type {
	case ChannelConsole:
		return nil
	case ChannelGraph:
	default:
		return invalidParam("channel %d: unknown type %q", c.Number, c.Type)
	}
	switch c.Format {
	case FormatUnsigned, FormatSigned:
	case FormatFloat:
		if c.Width != 4 {
			return invalidParam("channel %d: float samples must be 4 bytes wide, got %d", c.Number, c.Width)
		}
	default:
		return invalidParam("channel %d: unknown format %q", c.Number, c.Format)
	}
	switch c.Width {
	case 1, 2, 4:
	default:
		return invalidParam("channel %d: width must be 1, 2 or 4, got %d", c.Number, c.Width)
	}
	return nil
}

// ChannelMap is the validated, read-only channel lookup for one session.
type ChannelMap struct {
	byNum [ocsd.NumChannels]*ChannelConfig
	count int
}

// NewChannelMap applies defaults, validates every entry and rejects
// duplicate channel numbers.
func NewChannelMap(ports []ChannelConfig) (ChannelMap, error) {
	var m ChannelMap
	for _, p := range ports {
		p = p.withDefaults()
		if err := p.Validate(); err != nil {
			return ChannelMap{}, err
		}
		if m.byNum[p.Number] != nil {
			return ChannelMap{}, invalidParam("channel %d configured twice", p.Number)
		}
		m.byNum[p.Number] = &p
		m.count++
	}
	return m, nil
}

// Lookup returns the configuration for channel ch.
func (m ChannelMap) Lookup(ch int) (ChannelConfig, bool) {
	if !ocsd.IsValidChannel(ch) || m.byNum[ch] == nil {
		return ChannelConfig{}, false
	}
	return *m.byNum[ch], true
}

func (m ChannelMap) Len() int { return m.count }

// Channels returns the configured channels ordered by number.
func (m ChannelMap) Channels() []ChannelConfig {
	out := make([]ChannelConfig, 0, m.count)
	for _, c := range m.byNum {
		if c != nil {
			out = append(out, *c)
		}
	}
	return out
}
