package sink

import (
	"errors"

	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/router"
)

// MultiFeed fans every call out to all of its feeds. A failing feed does
// not stop the others; the errors are joined.
type MultiFeed []router.GraphFeed

// NewMultiFeed drops nil feeds. It returns nil when none remain, so the
// result can be handed to the router as "no feed".
func NewMultiFeed(feeds ...router.GraphFeed) router.GraphFeed {
	var m MultiFeed
	for _, f := range feeds {
		if f != nil {
			m = append(m, f)
		}
	}
	switch len(m) {
	case 0:
		return nil
	case 1:
		return m[0]
	}
	return m
}

func (m MultiFeed) Describe(graphs []config.GraphSpec) error {
	var errs []error
	for _, f := range m {
		errs = append(errs, f.Describe(graphs))
	}
	return errors.Join(errs...)
}

func (m MultiFeed) Sample(s demux.Sample) error {
	var errs []error
	for _, f := range m {
		errs = append(errs, f.Sample(s))
	}
	return errors.Join(errs...)
}

func (m MultiFeed) Close() error {
	var errs []error
	for _, f := range m {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
