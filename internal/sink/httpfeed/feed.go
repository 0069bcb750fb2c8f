// Package httpfeed keeps the most recent samples of each graph channel in
// memory and serves them as JSON.
//
//	GET /graphs                               graph descriptions
//	GET /channels                             channels with samples
//	GET /channels/{channel}/samples?since=N   samples with seq > N
package httpfeed

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

const DefaultHistory = 1024

// Point is one stored sample. Seq increases across all channels.
type Point struct {
	Seq       uint64  `json:"seq"`
	Value     float64 `json:"value"`
	Raw       uint32  `json:"raw"`
	Timestamp uint64  `json:"ts"`
}

// SamplesResponse is the body of the samples endpoint. Next is the seq to
// pass as since on the following poll; Dropped is set when points newer
// than since have already been overwritten.
type SamplesResponse struct {
	Channel int     `json:"channel"`
	Points  []Point `json:"points"`
	Next    uint64  `json:"next"`
	Dropped bool    `json:"dropped,omitempty"`
}

type ChannelInfo struct {
	Channel int    `json:"channel"`
	Count   int    `json:"count"`
	Last    uint64 `json:"last"`
}

// ring holds the last len(buf) points of one channel.
type ring struct {
	buf     []Point
	start   int
	n       int
	evicted uint64 // seq of the last overwritten point
}

func (r *ring) push(p Point) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.evicted = r.buf[r.start].Seq
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) at(i int) Point { return r.buf[(r.start+i)%len(r.buf)] }

// since returns the points with Seq > seq, oldest first.
func (r *ring) since(seq uint64) (pts []Point, dropped bool) {
	dropped = r.evicted > seq
	i := sort.Search(r.n, func(i int) bool { return r.at(i).Seq > seq })
	if i == r.n {
		return nil, dropped
	}
	pts = make([]Point, 0, r.n-i)
	for ; i < r.n; i++ {
		pts = append(pts, r.at(i))
	}
	return pts, dropped
}

// Feed is a router.GraphFeed serving its history over HTTP.
type Feed struct {
	history int
	log     *zap.Logger
	router  *mux.Router

	mu       sync.RWMutex
	graphs   []config.GraphSpec
	channels map[int]*ring
	seq      uint64
	closed   bool

	srv *http.Server
	ln  net.Listener
}

func New(history int, log *zap.Logger) *Feed {
	if history <= 0 {
		history = DefaultHistory
	}
	if log == nil {
		log = zap.NewNop()
	}
	f := &Feed{
		history:  history,
		log:      log.Named("feed.http"),
		graphs:   []config.GraphSpec{},
		channels: make(map[int]*ring),
	}

	r := mux.NewRouter()
	r.HandleFunc("/graphs", f.listGraphs).Methods(http.MethodGet)
	r.HandleFunc("/channels", f.listChannels).Methods(http.MethodGet)
	r.HandleFunc("/channels/{channel:[0-9]+}/samples", f.samples).Methods(http.MethodGet)
	f.router = r
	return f
}

// Handler returns the feed's HTTP routes.
func (f *Feed) Handler() http.Handler { return f.router }

// Start listens on addr and serves in the background until Close.
func (f *Feed) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return common.WrapError(ocsd.ErrConnection, err, "http feed listen "+addr)
	}
	f.mu.Lock()
	f.ln = ln
	f.srv = &http.Server{Handler: f.router, ReadHeaderTimeout: 5 * time.Second}
	srv := f.srv
	f.mu.Unlock()

	f.log.Info("serving samples", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			f.log.Error("http feed stopped", zap.Error(err))
		}
	}()
	return nil
}

// Addr is the listening address once started.
func (f *Feed) Addr() net.Addr {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.ln == nil {
		return nil
	}
	return f.ln.Addr()
}

func (f *Feed) Describe(graphs []config.GraphSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graphs = append([]config.GraphSpec{}, graphs...)
	return nil
}

func (f *Feed) Sample(s demux.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "http feed closed")
	}
	r, ok := f.channels[s.Channel]
	if !ok {
		r = &ring{buf: make([]Point, f.history)}
		f.channels[s.Channel] = r
	}
	f.seq++
	r.push(Point{Seq: f.seq, Value: s.Value, Raw: s.Raw, Timestamp: s.Timestamp})
	return nil
}

// Close stops the server. Stored samples stay readable through Handler.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	srv := f.srv
	f.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "http feed shutdown")
	}
	return nil
}

func (f *Feed) listGraphs(w http.ResponseWriter, _ *http.Request) {
	f.mu.RLock()
	graphs := f.graphs
	f.mu.RUnlock()
	writeJSON(w, http.StatusOK, graphs)
}

func (f *Feed) listChannels(w http.ResponseWriter, _ *http.Request) {
	f.mu.RLock()
	out := make([]ChannelInfo, 0, len(f.channels))
	for ch, r := range f.channels {
		info := ChannelInfo{Channel: ch, Count: r.n}
		if r.n > 0 {
			info.Last = r.at(r.n - 1).Seq
		}
		out = append(out, info)
	}
	f.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	writeJSON(w, http.StatusOK, out)
}

func (f *Feed) samples(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(mux.Vars(r)["channel"])
	if err != nil || ch < 0 || ch > 31 {
		http.Error(w, "channel must be 0..31", http.StatusBadRequest)
		return
	}
	var since uint64
	if v := r.URL.Query().Get("since"); v != "" {
		since, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "since must be an unsigned integer", http.StatusBadRequest)
			return
		}
	}

	f.mu.RLock()
	resp := SamplesResponse{Channel: ch, Points: []Point{}, Next: since}
	if rg, ok := f.channels[ch]; ok {
		pts, dropped := rg.since(since)
		if len(pts) > 0 {
			resp.Points = pts
			resp.Next = pts[len(pts)-1].Seq
		}
		resp.Dropped = dropped
	}
	f.mu.RUnlock()

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
