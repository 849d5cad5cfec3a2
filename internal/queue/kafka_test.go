package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smukkama/demand-monitor/internal/protocol"
	"github.com/smukkama/demand-monitor/internal/restrictions"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishDigestsSkipsEmpty(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w)
	ref := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)

	digests := []*protocol.ChangeDigest{
		{RunID: "run-1", Country: "FR", ReferenceDate: ref, Events: []restrictions.ChangeEvent{{Country: "FR", Column: "C8"}}},
		{RunID: "run-1", Country: "US", ReferenceDate: ref},
	}
	n, err := p.PublishDigests(context.Background(), digests)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, w.messages, 1)
	assert.Equal(t, "FR", string(w.messages[0].Key))

	got, err := protocol.DecodeChangeDigest(w.messages[0].Value)
	require.NoError(t, err)
	assert.Equal(t, "run-1", got.RunID)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishSummaryKeyedByRun(t *testing.T) {
	w := &recordingWriter{}
	p := NewProducerWithWriter(w)

	require.NoError(t, p.PublishSummary(context.Background(), &protocol.RunSummary{RunID: "run-7", Status: "succeeded"}))
	require.Len(t, w.messages, 1)
	assert.Equal(t, "run-7", string(w.messages[0].Key))

	w.err = errors.New("broker down")
	assert.Error(t, p.PublishSummary(context.Background(), &protocol.RunSummary{RunID: "run-8"}))
}
