package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "verigate/pkg/domain"
	audit "verigate/pkg/platform/audit"
	"verigate/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	verificationID := id.VerificationID(uuid.New())
	event := audit.Event{
		VerificationID: verificationID,
		Action:         string(audit.EventVerificationCreated),
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), verificationID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventVerificationCreated), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
}

type failingStore struct {
	*memory.InMemoryStore
}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}

func TestPublisher_SyncModeReturnsStoreError(t *testing.T) {
	pub := NewPublisher(failingStore{memory.NewInMemoryStore()})
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventVerificationTransitioned)})
	assert.EqualError(t, err, "disk full")
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	verificationID := id.VerificationID(uuid.New())

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			VerificationID: verificationID,
			Action:         string(audit.EventVerificationTransitioned),
		})
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListByVerification(context.Background(), verificationID)
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(1))
	defer pub.Close()

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventSessionStarted)})
			if err != nil {
				assert.ErrorIs(t, err, ErrBufferFull)
			}
		}()
	}
	wg.Wait()
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))
	defer pub.Close()

	verificationID := id.VerificationID(uuid.New())
	err := pub.Emit(context.Background(), audit.Event{
		VerificationID: verificationID,
		Action:         string(audit.EventVerificationCreated),
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), verificationID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, fixed, events[0].Timestamp)
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	verificationID := id.VerificationID(uuid.New())
	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		VerificationID: verificationID,
		Action:         string(audit.EventVerificationCreated),
		Timestamp:      customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), verificationID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_KeepsOrderPerVerification(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	first := id.VerificationID(uuid.New())
	second := id.VerificationID(uuid.New())
	ctx := context.Background()

	require.NoError(t, pub.Emit(ctx, audit.Event{VerificationID: first, Action: "verification_created"}))
	require.NoError(t, pub.Emit(ctx, audit.Event{VerificationID: second, Action: "verification_created"}))
	require.NoError(t, pub.Emit(ctx, audit.Event{VerificationID: first, Action: "verification_transitioned", ToState: "document_uploaded"}))
	require.NoError(t, pub.Emit(ctx, audit.Event{VerificationID: first, Action: "verification_transitioned", ToState: "ocr_completed"}))

	events, err := pub.List(ctx, first)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "verification_created", events[0].Action)
	assert.Equal(t, "document_uploaded", events[1].ToState)
	assert.Equal(t, "ocr_completed", events[2].ToState)

	other, err := pub.List(ctx, second)
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestPublisher_CategoryFromAction(t *testing.T) {
	assert.Equal(t, audit.CategorySecurity, audit.EventSessionTerminated.Category())
	assert.Equal(t, audit.CategoryOperations, audit.EventSessionsExpired.Category())
	assert.Equal(t, audit.CategoryOperations, audit.AuditEvent("unknown").Category())
}
