package redisfeed

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"swotrace/internal/common"
	"swotrace/internal/config"
	"swotrace/internal/demux"
	"swotrace/internal/ocsd"
)

// asyncReceive must be started before publishing; miniredis delivers
// pub/sub messages synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func TestSamplePublished(t *testing.T) {
	mr := miniredis.RunT(t)
	f, err := New(Config{Addr: mr.Addr(), Session: "s1"}, nil)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	sub := mr.NewSubscriber()
	sub.Subscribe("swotrace:2")
	ch := asyncReceive(sub)

	require.NoError(t, f.Sample(demux.Sample{Channel: 2, Value: 1.5, Raw: 0x3FC00000, Timestamp: 99}))

	msg := waitMessage(t, ch)
	require.Equal(t, "swotrace:2", msg.Channel)

	var got Message
	require.NoError(t, json.Unmarshal([]byte(msg.Message), &got))
	require.Equal(t, Message{Session: "s1", Seq: 1, Channel: 2, Value: 1.5, Raw: 0x3FC00000, Timestamp: 99}, got)
}

func TestDescribeStoresGraphs(t *testing.T) {
	mr := miniredis.RunT(t)
	f, err := New(Config{Addr: "redis://" + mr.Addr(), Prefix: "lab"}, nil)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	graphs := []config.GraphSpec{{ID: "temp", Type: config.GraphRealtime, Max: 100}}
	require.NoError(t, f.Describe(graphs))

	stored, err := mr.Get("lab:graphs")
	require.NoError(t, err)
	var got []config.GraphSpec
	require.NoError(t, json.Unmarshal([]byte(stored), &got))
	require.Equal(t, graphs, got)
	require.Equal(t, "lab:5", f.Topic(5))
}

func TestRetriesExhausted(t *testing.T) {
	f, err := New(Config{Addr: "127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond, Backoff: time.Millisecond}, nil)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	err = f.Sample(demux.Sample{Channel: 0})
	require.True(t, common.IsCode(err, ocsd.ErrSinkWrite), "got %v", err)
	require.ErrorContains(t, err, "after 3 attempts")
}

func TestCloseAbortsBackoff(t *testing.T) {
	f, err := New(Config{Addr: "127.0.0.1:1", Retries: 5, Timeout: 100 * time.Millisecond, Backoff: time.Hour}, nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- f.Sample(demux.Sample{Channel: 1}) }()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, f.Close())

	select {
	case err := <-errc:
		require.True(t, common.IsCode(err, ocsd.ErrDisposed), "got %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("Sample still blocked after Close")
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{}, nil)
	require.True(t, common.IsCode(err, ocsd.ErrInvalidParamVal))

	_, err = New(Config{Addr: "localhost:6379", Retries: -1}, nil)
	require.True(t, common.IsCode(err, ocsd.ErrInvalidParamVal))

	cfg := ConfigFrom(config.RedisFeedConfig{Addr: "h:1", Prefix: "p", Retries: 4}, "sess")
	require.Equal(t, Config{Addr: "h:1", Prefix: "p", Retries: 4, Session: "sess"}, cfg)
}

func TestSampleAfterClose(t *testing.T) {
	mr := miniredis.RunT(t)
	f, err := New(Config{Addr: mr.Addr()}, nil)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	err = f.Sample(demux.Sample{})
	require.True(t, common.IsCode(err, ocsd.ErrDisposed), "got %v", err)
}
