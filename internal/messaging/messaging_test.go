package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/richardliu001/ledger-service/internal/model"
	"github.com/richardliu001/ledger-service/internal/repo"
	"github.com/richardliu001/ledger-service/internal/service"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakePublisher struct {
	mu     sync.Mutex
	sent   []kafka.Message
	failOn int // 1-based publish call that fails, 0 never
	calls  int
}

func (p *fakePublisher) Publish(_ context.Context, msgs ...kafka.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn > 0 && p.calls == p.failOn {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, msgs...)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

type fakeSource struct {
	msgs      []kafka.Message
	committed []int64
	commitErr error
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	if len(s.msgs) == 0 {
		<-ctx.Done()
		return kafka.Message{}, ctx.Err()
	}
	m := s.msgs[0]
	s.msgs = s.msgs[1:]
	return m, nil
}

func (s *fakeSource) Commit(_ context.Context, msg kafka.Message) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, msg.Offset)
	return nil
}

func (s *fakeSource) Close() error { return nil }

type fakeEngine struct {
	errs  []error
	calls int
	seen  []service.Command
}

func (e *fakeEngine) Submit(_ context.Context, cmd service.Command) (*service.Result, error) {
	e.calls++
	e.seen = append(e.seen, cmd)
	var err error
	if len(e.errs) > 0 {
		err, e.errs = e.errs[0], e.errs[1:]
	}
	return &service.Result{TransactionID: "txn-" + cmd.IdempotencyKey, Status: model.StatusCompleted}, err
}

func newStore(t *testing.T) *repo.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.Migrate(db))
	return repo.NewStore(db, zap.NewNop().Sugar())
}

func seedOutbox(t *testing.T, store *repo.Store, n int) {
	t.Helper()
	out := repo.NewOutboxRepo()
	for i := 0; i < n; i++ {
		require.NoError(t, out.Create(context.Background(), store.DB(context.Background()), &model.OutboxEvent{
			EventID:     uuid.NewString(),
			Topic:       "ledger.transactions",
			AggregateID: "txn-" + string(rune('a'+i)),
			EventType:   "transaction.COMPLETED",
			Payload:     `{"n":` + string(rune('0'+i)) + `}`,
			Headers:     datatypes.JSONMap{"status": "COMPLETED", "profile": "wallet"},
		}))
	}
}

func pending(t *testing.T, store *repo.Store) []model.OutboxEvent {
	t.Helper()
	var rows []model.OutboxEvent
	require.NoError(t, store.DB(context.Background()).Where("processed = ?", false).Order("id").Find(&rows).Error)
	return rows
}

func TestRelay_PublishesInOrder(t *testing.T) {
	store := newStore(t)
	seedOutbox(t, store, 3)
	pub := &fakePublisher{}
	r := NewRelay(store, pub, RelayConfig{BatchSize: 10}, zap.NewNop().Sugar(), nil)

	n, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.Len(t, pub.sent, 3)
	assert.Equal(t, "txn-a", string(pub.sent[0].Key))
	assert.Equal(t, "txn-c", string(pub.sent[2].Key))
	assert.Equal(t, "ledger.transactions", pub.sent[0].Topic)

	m := pub.sent[0]
	assert.Equal(t, "transaction.COMPLETED", header(m, "event_type"))
	assert.Equal(t, "wallet", header(m, "profile"))
	assert.NotEmpty(t, header(m, "event_id"))
	assert.Empty(t, pending(t, store))

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRelay_StopsAtFirstFailure(t *testing.T) {
	store := newStore(t)
	seedOutbox(t, store, 3)
	pub := &fakePublisher{failOn: 2}
	r := NewRelay(store, pub, RelayConfig{BatchSize: 10}, zap.NewNop().Sugar(), nil)

	n, err := r.RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, n)

	left := pending(t, store)
	require.Len(t, left, 2)
	assert.Equal(t, "txn-b", left[0].AggregateID)
	assert.Equal(t, 1, left[0].Attempts)
	assert.Contains(t, left[0].LastError, "broker unavailable")
	assert.Equal(t, 0, left[1].Attempts)

	n, err = r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "txn-b", string(pub.sent[1].Key))
	assert.Empty(t, pending(t, store))
}

func commandMsg(t *testing.T, offset int64, cmd map[string]interface{}, headers ...kafka.Header) kafka.Message {
	t.Helper()
	b, err := json.Marshal(cmd)
	require.NoError(t, err)
	return kafka.Message{Topic: "ledger.commands", Offset: offset, Value: b, Headers: headers}
}

func newTestConsumer(src *fakeSource, dlq *fakePublisher, eng *fakeEngine, retries int) *Consumer {
	c := NewConsumer(src, dlq, eng, ConsumerConfig{
		DeadLetterTopic: "ledger.commands.dlq",
		MaxRetries:      retries,
		Backoff:         time.Millisecond,
		MaxBackoff:      4 * time.Millisecond,
	}, zap.NewNop().Sugar(), nil)
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestConsumer_Outcomes(t *testing.T) {
	earn := map[string]interface{}{"idempotency_key": "e-1", "type": "EARN", "account_id": "alice", "amount": "10"}

	t.Run("applied", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{}
		c := newTestConsumer(src, dlq, eng, 2)
		require.NoError(t, c.Handle(context.Background(), commandMsg(t, 7, earn)))
		assert.Equal(t, []int64{7}, src.committed)
		assert.Empty(t, dlq.sent)
		require.Len(t, eng.seen, 1)
		assert.Equal(t, "e-1", eng.seen[0].IdempotencyKey)
		assert.Equal(t, "10", eng.seen[0].Amount.String())
	})

	t.Run("domain failure is committed", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{errs: []error{model.ErrInsufficientFunds}}
		c := newTestConsumer(src, dlq, eng, 2)
		require.NoError(t, c.Handle(context.Background(), commandMsg(t, 1, earn)))
		assert.Equal(t, []int64{1}, src.committed)
		assert.Empty(t, dlq.sent)
		assert.Equal(t, 1, eng.calls)
	})

	t.Run("bad json is dead-lettered", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{}
		c := newTestConsumer(src, dlq, eng, 2)
		msg := kafka.Message{Topic: "ledger.commands", Offset: 3, Value: []byte("{nope")}
		require.NoError(t, c.Handle(context.Background(), msg))
		assert.Equal(t, 0, eng.calls)
		require.Len(t, dlq.sent, 1)
		assert.Equal(t, "ledger.commands.dlq", dlq.sent[0].Topic)
		assert.Equal(t, "{nope", string(dlq.sent[0].Value))
		assert.Equal(t, "0", header(dlq.sent[0], "x-attempts"))
		assert.Equal(t, "ledger.commands", header(dlq.sent[0], "x-source-topic"))
		assert.Equal(t, []int64{3}, src.committed)
	})

	t.Run("validation is not retried", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{errs: []error{model.ErrValidation}}
		c := newTestConsumer(src, dlq, eng, 5)
		require.NoError(t, c.Handle(context.Background(), commandMsg(t, 4, earn)))
		assert.Equal(t, 1, eng.calls)
		require.Len(t, dlq.sent, 1)
		assert.Contains(t, header(dlq.sent[0], "x-error"), "validation")
	})

	t.Run("infra errors retry then dead-letter", func(t *testing.T) {
		boom := errors.New("db down")
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{errs: []error{boom, boom, boom, boom}}
		c := newTestConsumer(src, dlq, eng, 2)
		require.NoError(t, c.Handle(context.Background(), commandMsg(t, 5, earn)))
		assert.Equal(t, 3, eng.calls)
		require.Len(t, dlq.sent, 1)
		assert.Equal(t, "3", header(dlq.sent[0], "x-attempts"))
		assert.Equal(t, []int64{5}, src.committed)
	})

	t.Run("retry recovers", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{errs: []error{model.ErrPersistenceConflict}}
		c := newTestConsumer(src, dlq, eng, 2)
		require.NoError(t, c.Handle(context.Background(), commandMsg(t, 6, earn)))
		assert.Equal(t, 2, eng.calls)
		assert.Empty(t, dlq.sent)
		assert.Equal(t, []int64{6}, src.committed)
	})

	t.Run("dead-letter failure keeps the offset", func(t *testing.T) {
		src, dlq, eng := &fakeSource{}, &fakePublisher{failOn: 1}, &fakeEngine{}
		c := newTestConsumer(src, dlq, eng, 2)
		err := c.Handle(context.Background(), kafka.Message{Offset: 9, Value: []byte("[]")})
		require.Error(t, err)
		assert.Empty(t, src.committed)
	})
}

func TestConsumer_KeyFallback(t *testing.T) {
	src, dlq, eng := &fakeSource{}, &fakePublisher{}, &fakeEngine{}
	c := newTestConsumer(src, dlq, eng, 0)
	body := map[string]interface{}{"type": "EARN", "account_id": "alice", "amount": "1"}

	require.NoError(t, c.Handle(context.Background(), commandMsg(t, 1, body, kafka.Header{Key: "idempotency-key", Value: []byte("hdr-1")})))
	msg := commandMsg(t, 2, body)
	msg.Key = []byte("key-2")
	require.NoError(t, c.Handle(context.Background(), msg))

	require.Len(t, eng.seen, 2)
	assert.Equal(t, "hdr-1", eng.seen[0].IdempotencyKey)
	assert.Equal(t, "key-2", eng.seen[1].IdempotencyKey)
}

func TestConsumer_RunStopsOnContext(t *testing.T) {
	earn := map[string]interface{}{"idempotency_key": "e-1", "type": "EARN", "account_id": "alice", "amount": "10"}
	src := &fakeSource{msgs: []kafka.Message{commandMsg(t, 1, earn), commandMsg(t, 2, earn)}}
	eng := &fakeEngine{}
	c := newTestConsumer(src, &fakePublisher{}, eng, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, c.Run(ctx))
	assert.Equal(t, []int64{1, 2}, src.committed)
}

func TestConsumer_Backoff(t *testing.T) {
	c := newTestConsumer(&fakeSource{}, &fakePublisher{}, &fakeEngine{}, 0)
	assert.Equal(t, time.Millisecond, c.backoff(1))
	assert.Equal(t, 2*time.Millisecond, c.backoff(2))
	assert.Equal(t, 4*time.Millisecond, c.backoff(3))
	assert.Equal(t, 4*time.Millisecond, c.backoff(10))
}
