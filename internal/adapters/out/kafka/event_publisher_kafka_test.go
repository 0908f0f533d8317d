package kafka

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestPublish(t *testing.T) {
	w := &fakeWriter{}
	p := newEventPublisher(w, "")
	ev := &out.VerificationEvent{
		Type:        out.EventCodeDelivered,
		RequestID:   "req-1",
		PhoneMasked: "138****8000",
		Channel:     "mock",
		Attempts:    1,
		OccurredAt:  time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	}

	require.NoError(t, p.Publish(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, DefaultTopic, msg.Topic)
	assert.Equal(t, []byte("req-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "138****8000", decoded["phone_masked"])
	assert.NotContains(t, string(msg.Value), "13800138000")

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestPublishError(t *testing.T) {
	p := newEventPublisher(&fakeWriter{err: stderrors.New("leader not available")}, "audit")
	err := p.Publish(context.Background(), &out.VerificationEvent{Type: out.EventCodeRequested})
	assert.ErrorContains(t, err, "leader not available")
}
