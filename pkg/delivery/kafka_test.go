package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"crconsync/pkg/logger"
	"crconsync/pkg/model"
)

type MockWriter struct {
	mock.Mock
}

func (m *MockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockWriter) Close() error {
	return m.Called().Error(0)
}

func newKafkaTestSender(w MessageWriter, retries int) *KafkaSender {
	return NewKafkaSenderWithWriter(w, KafkaConfig{
		Brokers:    []string{"localhost:9092"},
		Topic:      "crcon.export",
		MaxRetries: retries,
	}, logger.Nop())
}

func TestKafkaDeliver(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		if len(msgs) != 1 || string(msgs[0].Key) != "crcon_server_001" {
			return false
		}
		var p model.Payload
		return json.Unmarshal(msgs[0].Value, &p) == nil && len(p.LogLines) == 1
	})).Return(nil).Once()

	err := newKafkaTestSender(w, 3).Deliver(context.Background(), testPayload())
	require.NoError(t, err)
	w.AssertExpectations(t)
}

func TestKafkaRetriesThenFails(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(kafka.LeaderNotAvailable).Times(3)

	err := newKafkaTestSender(w, 3).Deliver(context.Background(), testPayload())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, kafka.LeaderNotAvailable)
	w.AssertNumberOfCalls(t, "WriteMessages", 3)
}

func TestKafkaRecovers(t *testing.T) {
	w := new(MockWriter)
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
	w.On("WriteMessages", mock.Anything, mock.Anything).Return(nil).Once()

	err := newKafkaTestSender(w, 3).Deliver(context.Background(), testPayload())
	assert.NoError(t, err)
	w.AssertNumberOfCalls(t, "WriteMessages", 2)
}

func TestKafkaEmptyPayloadProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("empty payloads never reach the writer", prop.ForAll(
		func(serverID string) bool {
			w := new(MockWriter)
			err := newKafkaTestSender(w, 3).Deliver(context.Background(), model.NewPayload(serverID))
			return err == nil && len(w.Calls) == 0
		},
		gen.AnyString(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}

func TestKafkaTargetAndClose(t *testing.T) {
	w := new(MockWriter)
	w.On("Close").Return(nil)

	s := newKafkaTestSender(w, 1)
	assert.Equal(t, "kafka://localhost:9092/crcon.export", s.Target())
	assert.NoError(t, s.Close())
	w.AssertExpectations(t)
}
