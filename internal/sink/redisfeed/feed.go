// Package redisfeed publishes decoded graph samples over Redis pub/sub.
//
// Each sample is published as JSON on "<prefix>:<channel>". The graph
// descriptions are stored under "<prefix>:graphs" and announced once on the
// same key as a channel, so late subscribers can GET them.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

const (
	DefaultPrefix  = "swotrace"
	DefaultTimeout = 2 * time.Second
	DefaultRetries = 3
)

// Config configures the feed.
type Config struct {
	// Addr is host:port or a redis:// URL.
	Addr    string
	Prefix  string
	Timeout time.Duration
	Retries int
	// Backoff is the delay before the first retry; it doubles per attempt.
	Backoff time.Duration
	Session string
}

// ConfigFrom maps the feeds section of the configuration file.
func ConfigFrom(c config.RedisFeedConfig, session string) Config {
	return Config{
		Addr:    c.Addr,
		Prefix:  c.Prefix,
		Timeout: c.Timeout.Duration,
		Retries: c.Retries,
		Session: session,
	}
}

// Message is the JSON body of a published sample.
type Message struct {
	Session   string  `json:"session,omitempty"`
	Seq       uint64  `json:"seq"`
	Channel   int     `json:"channel"`
	Value     float64 `json:"value"`
	Raw       uint32  `json:"raw"`
	Timestamp uint64  `json:"ts"`
}

// Feed is a router.GraphFeed backed by a go-redis client.
type Feed struct {
	cfg    Config
	client *goredis.Client
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	seq    uint64
	closed bool
}

func New(cfg Config, log *zap.Logger) (*Feed, error) {
	if cfg.Addr == "" {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal, "redis feed requires an address")
	}
	url := cfg.Addr
	if !strings.Contains(url, "://") {
		url = "redis://" + url
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, common.WrapError(ocsd.ErrInvalidParamVal, err, "redis feed: invalid address")
	}
	if cfg.Retries < 0 {
		return nil, common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrInvalidParamVal,
			fmt.Sprintf("redis feed: retries must be >= 0, got %d", cfg.Retries))
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:    cfg,
		client: goredis.NewClient(opts),
		log:    log.Named("feed.redis"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Topic is the pub/sub channel samples of an ITM channel are published on.
func (f *Feed) Topic(channel int) string {
	return fmt.Sprintf("%s:%d", f.cfg.Prefix, channel)
}

// GraphsKey holds the JSON graph descriptions.
func (f *Feed) GraphsKey() string {
	return f.cfg.Prefix + ":graphs"
}

func (f *Feed) Describe(graphs []config.GraphSpec) error {
	body, err := json.Marshal(graphs)
	if err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "redis: marshal graphs")
	}
	return f.withRetry(func(ctx context.Context) error {
		pipe := f.client.TxPipeline()
		pipe.Set(ctx, f.GraphsKey(), body, 0)
		pipe.Publish(ctx, f.GraphsKey(), body)
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (f *Feed) Sample(s demux.Sample) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return common.NewErrorMsg(ocsd.ErrSevError, ocsd.ErrDisposed, "redis feed closed")
	}
	f.seq++
	msg := Message{
		Session:   f.cfg.Session,
		Seq:       f.seq,
		Channel:   s.Channel,
		Value:     s.Value,
		Raw:       s.Raw,
		Timestamp: s.Timestamp,
	}
	f.mu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return common.WrapError(ocsd.ErrSinkWrite, err, "redis: marshal sample")
	}
	topic := f.Topic(s.Channel)
	return f.withRetry(func(ctx context.Context) error {
		return f.client.Publish(ctx, topic, body).Err()
	})
}

// withRetry runs op with a per-attempt timeout, retrying with exponential
// backoff. Close aborts a pending backoff.
func (f *Feed) withRetry(op func(ctx context.Context) error) error {
	var lastErr error
	attempts := 1 + f.cfg.Retries
	for i := range attempts {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * f.cfg.Backoff
			select {
			case <-f.ctx.Done():
				return common.WrapError(ocsd.ErrDisposed, lastErr, "redis feed closed during backoff")
			case <-time.After(backoff):
			}
		}
		ctx, cancel := context.WithTimeout(f.ctx, f.cfg.Timeout)
		lastErr = op(ctx)
		cancel()
		if lastErr == nil {
			return nil
		}
		f.log.Debug("redis publish failed", zap.Int("attempt", i+1), zap.Error(lastErr))
	}
	return common.WrapError(ocsd.ErrSinkWrite, lastErr, fmt.Sprintf("redis: failed after %d attempts", attempts))
}

func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	return f.client.Close()
}
