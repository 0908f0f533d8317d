package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EthanQC/verification-service/internal/ports/out"
)

func TestSaramaPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		assert.Contains(t, string(val), `"type":"verification.code.validated"`)
		return nil
	})
	p := NewSaramaPublisherWithProducer(producer, "")

	err := p.Publish(context.Background(), &out.VerificationEvent{
		Type:        out.EventCodeValidated,
		RequestID:   "req-1",
		PhoneMasked: "138****8000",
		OccurredAt:  time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.NoError(t, p.Close())
}

func TestSaramaPublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewProducerConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewSaramaPublisherWithProducer(producer, "audit")

	err := p.Publish(context.Background(), &out.VerificationEvent{Type: out.EventCodeRequested})
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
	require.NoError(t, p.Close())
}
