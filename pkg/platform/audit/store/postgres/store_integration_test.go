//go:build integration

package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"verigate/internal/platform/kafka"
	id "verigate/pkg/domain"
	audit "verigate/pkg/platform/audit"
	auditpostgres "verigate/pkg/platform/audit/store/postgres"
	"verigate/pkg/platform/audit/worker"
	txcontext "verigate/pkg/platform/tx"
	"verigate/pkg/testutil/containers"
)

type AuditStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *auditpostgres.Store
	tx       *txcontext.Runner
}

func TestAuditStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(AuditStoreSuite))
}

func (s *AuditStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = auditpostgres.New(s.postgres.DB)
	s.tx = txcontext.NewRunner(s.postgres.DB, 5*time.Second)
}

func (s *AuditStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "audit_events", "outbox"))
}

func transitionEvent(verificationID id.VerificationID, at time.Time, from, to string) audit.Event {
	return audit.Event{
		Timestamp:      at,
		VerificationID: verificationID,
		Action:         string(audit.EventVerificationTransitioned),
		FromState:      from,
		ToState:        to,
		Trigger:        "ocr_success",
		ActorID:        "system",
	}
}

func (s *AuditStoreSuite) TestAppendAndList() {
	ctx := context.Background()
	vid := id.NewVerificationID()
	at := time.Now().UTC().Truncate(time.Microsecond)

	s.Require().NoError(s.store.Append(ctx, transitionEvent(vid, at, "started", "ocr_processing")))
	s.Require().NoError(s.store.Append(ctx, transitionEvent(vid, at.Add(time.Second), "ocr_processing", "ocr_completed")))
	s.Require().NoError(s.store.Append(ctx, transitionEvent(id.NewVerificationID(), at, "started", "ocr_processing")))

	events, err := s.store.ListByVerification(ctx, vid)
	s.Require().NoError(err)
	s.Require().Len(events, 2)
	s.Equal("ocr_processing", events[0].ToState)
	s.Equal("ocr_completed", events[1].ToState)
	s.Equal(audit.CategoryCompliance, events[1].Category)
	s.True(at.Equal(events[0].Timestamp))
}

// =============================================================================
// Transactions
// =============================================================================
// Justification: an audit row must never outlive the state change it
// describes, so both the event and its outbox row roll back together.

func (s *AuditStoreSuite) TestAppendRollsBackWithCallerTransaction() {
	ctx := context.Background()
	vid := id.NewVerificationID()
	boom := errors.New("state write failed")

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		s.Require().NoError(s.store.Append(ctx, transitionEvent(vid, time.Now(), "started", "ocr_processing")))
		return boom
	})
	s.ErrorIs(err, boom)

	events, err := s.store.ListByVerification(ctx, vid)
	s.Require().NoError(err)
	s.Empty(events)

	var pending []audit.OutboxEntry
	s.Require().NoError(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		pending, err = s.store.FetchUnpublished(ctx, 10)
		return err
	}))
	s.Empty(pending)
}

func (s *AuditStoreSuite) TestSessionEventsUseAuditAggregate() {
	ctx := context.Background()
	s.Require().NoError(s.store.Append(ctx, audit.Event{
		Timestamp: time.Now(),
		Subject:   uuid.NewString(),
		Action:    string(audit.EventSessionTerminated),
	}))

	var entries []audit.OutboxEntry
	s.Require().NoError(s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		entries, err = s.store.FetchUnpublished(ctx, 10)
		return err
	}))
	s.Require().Len(entries, 1)
	s.Equal("audit", entries[0].AggregateType)

	var payload map[string]any
	s.Require().NoError(json.Unmarshal(entries[0].Payload, &payload))
	s.Equal("security", payload["category"])
	s.NotContains(payload, "verification_id")
}

// =============================================================================
// Outbox relay
// =============================================================================

func (s *AuditStoreSuite) TestWorkerRelaysOutboxToKafka() {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	broker := containers.GetManager().GetRedpanda(s.T()).Broker
	producer, err := kafka.NewProducer(kafka.Config{Brokers: []string{broker}, Linger: time.Millisecond})
	s.Require().NoError(err)
	defer producer.Close()
	topic := "audit-" + uuid.NewString()
	s.Require().NoError(producer.EnsureTopics(ctx, 1, 1, topic))

	vid := id.NewVerificationID()
	s.Require().NoError(s.store.Append(ctx, transitionEvent(vid, time.Now(), "started", "ocr_processing")))
	s.Require().NoError(s.store.Append(ctx, transitionEvent(vid, time.Now(), "ocr_processing", "ocr_completed")))

	w := worker.NewWorker(s.store, producer, topic, worker.WithTxRunner(s.tx))
	relayed, err := w.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, relayed)

	again, err := w.RelayOnce(ctx)
	s.Require().NoError(err)
	s.Zero(again, "published rows are not relayed twice")

	records := consumeN(ctx, s, broker, topic, 2)
	for _, r := range records {
		s.Equal(vid.String(), string(r.Key))
	}
	var first map[string]any
	s.Require().NoError(json.Unmarshal(records[0].Value, &first))
	s.Equal("ocr_processing", first["to_state"])
}

func consumeN(ctx context.Context, s *AuditStoreSuite, broker, topic string, n int) []*kgo.Record {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer client.Close()

	var records []*kgo.Record
	for len(records) < n {
		fetches := client.PollFetches(ctx)
		s.Require().NoError(ctx.Err(), "timed out after %d of %d records", len(records), n)
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	return records
}
