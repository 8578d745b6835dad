//go:build integration

package kafka

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	id "validity/pkg/domain"
	audit "validity/pkg/platform/audit"
	"validity/pkg/testutil/containers"
)

type KafkaPublisherSuite struct {
	suite.Suite
	broker *containers.RedpandaContainer
}

func TestKafkaPublisherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(KafkaPublisherSuite))
}

func (s *KafkaPublisherSuite) SetupSuite() {
	s.broker = containers.GetManager().GetRedpanda(s.T())
}

func (s *KafkaPublisherSuite) TestEmitIsConsumable() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	topic := "audit-" + id.NewRecordID().String()[:8]
	s.Require().NoError(s.broker.CreateTopic(ctx, topic))

	pub, err := New([]string{s.broker.Broker}, topic, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	s.Require().NoError(err)
	defer func() { _ = pub.Close(context.Background()) }()

	recordID := id.NewRecordID()
	event := audit.Event{
		RecordID:   recordID,
		Kind:       "position",
		Action:     string(audit.EventNeighborShifted),
		Effective:  "2024-01-01",
		Expiration: "2024-03-01",
		Reason:     "shift",
		Timestamp:  time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(pub.Emit(ctx, event))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.broker.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	fetches := consumer.PollRecords(ctx, 1)
	s.Require().NoError(fetches.Err())
	records := fetches.Records()
	s.Require().Len(records, 1)
	s.Equal(recordID.String(), string(records[0].Key))

	got, err := audit.Decode(records[0].Value)
	s.Require().NoError(err)
	s.Equal(recordID, got.RecordID)
	s.Equal(audit.CategoryOperations, got.Category)
	s.Equal("shift", got.Reason)
	s.True(event.Timestamp.Equal(got.Timestamp))
}
