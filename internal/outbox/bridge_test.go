package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/klauspost/compress/snappy"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/abdoElHodaky/tradcore/internal/bus"
	"github.com/abdoElHodaky/tradcore/internal/db/models"
)

// newTestDB opens an in-memory sqlite database migrated for OutboxRecord,
// matching the teacher's own sqlite-backed gorm setup (internal/config's
// NewHFTDatabase) rather than requiring a live Postgres for these tests.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1) // sqlite is single-writer; matches the teacher's config
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.OutboxRecord{}))
	return db
}

func seedRow(t *testing.T, db *gorm.DB, eventID, aggID, topic, symbol string, seq int) {
	t.Helper()
	row := models.OutboxRecord{
		EventID:       eventID,
		AggregateID:   aggID,
		AggregateType: "order",
		EventType:     "test.seq",
		Topic:         topic,
		Symbol:        symbol,
		Payload:       []byte(fmt.Sprintf(`{"seq":%d}`, seq)),
		Status:        models.OutboxPending,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, db.Create(&row).Error)
}

// pollOnce publishes every PENDING row exactly once and marks it
// PROCESSED, preserving each aggregate's own (aggregate_id, id) order even
// though distinct aggregates fan out concurrently across the pool (§4.3).
func TestBridge_PollOnce_PreservesPerAggregateOrder(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	// Aggregate "agg-1" has no Symbol, so partitionKey falls back to the
	// aggregate id itself (saga-timeout-style rows).
	seedRow(t, db, "evt-1", "agg-1", "order.events", "", 1)
	seedRow(t, db, "evt-2", "agg-1", "order.events", "", 2)
	seedRow(t, db, "evt-3", "agg-1", "order.events", "", 3)

	seedRow(t, db, "evt-4", "agg-2", "order.events", "MSFT", 1)
	seedRow(t, db, "evt-5", "agg-2", "order.events", "MSFT", 2)

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	t.Cleanup(func() { _ = pubsub.Close() })

	agg1Msgs, err := pubsub.Subscribe(ctx, "order.events.agg-1")
	require.NoError(t, err)
	agg2Msgs, err := pubsub.Subscribe(ctx, "order.events.MSFT")
	require.NoError(t, err)

	b := bus.NewWithPubSub(pubsub, pubsub, bus.Config{}, zap.NewNop())
	cfg := DefaultBridgeConfig()
	cfg.BatchSize = 10
	br := NewBridge(db, b, cfg, zap.NewNop())

	br.pollOnce(ctx)

	seqs := func(ch <-chan *message.Message, n int) []int {
		out := make([]int, 0, n)
		for i := 0; i < n; i++ {
			select {
			case msg := <-ch:
				body, decErr := snappy.Decode(nil, msg.Payload)
				require.NoError(t, decErr)
				var v struct {
					Seq int `json:"seq"`
				}
				require.NoError(t, json.Unmarshal(body, &v))
				out = append(out, v.Seq)
				msg.Ack()
			case <-time.After(2 * time.Second):
				t.Fatalf("timed out waiting for message %d", i)
			}
		}
		return out
	}

	require.Equal(t, []int{1, 2, 3}, seqs(agg1Msgs, 3))
	require.Equal(t, []int{1, 2}, seqs(agg2Msgs, 2))

	var rows []models.OutboxRecord
	require.NoError(t, db.Find(&rows).Error)
	for _, row := range rows {
		require.Equal(t, models.OutboxProcessed, row.Status, "row %s must be marked processed", row.EventID)
		require.NotNil(t, row.ProcessedAt)
	}
}

// A later poll tick must not republish rows already marked PROCESSED.
func TestBridge_PollOnce_SkipsAlreadyProcessedRows(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	seedRow(t, db, "evt-1", "agg-1", "order.events", "AAPL", 1)
	require.NoError(t, db.Model(&models.OutboxRecord{}).Where("event_id = ?", "evt-1").
		Update("status", models.OutboxProcessed).Error)

	pubsub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	t.Cleanup(func() { _ = pubsub.Close() })

	msgs, err := pubsub.Subscribe(ctx, "order.events.AAPL")
	require.NoError(t, err)

	b := bus.NewWithPubSub(pubsub, pubsub, bus.Config{}, zap.NewNop())
	br := NewBridge(db, b, DefaultBridgeConfig(), zap.NewNop())

	br.pollOnce(ctx)

	select {
	case <-msgs:
		t.Fatal("a PROCESSED row must not be republished")
	case <-time.After(200 * time.Millisecond):
	}
}
