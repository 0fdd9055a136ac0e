package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu      sync.Mutex
	batches [][]Event
	err     error
}

func (m *memorySink) WriteBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Event, len(events))
	copy(cp, events)
	m.batches = append(m.batches, cp)
	return m.err
}

func (m *memorySink) total() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, b := range m.batches {
		n += len(b)
	}
	return n
}

func TestJournal_DrainOnStop(t *testing.T) {
	sink := &memorySink{}
	j := NewJournal(Options{BatchSize: 10, FlushInterval: time.Hour}, zap.NewNop(), sink)
	j.Start()

	for i := 0; i < 25; i++ {
		j.Log(NewEvent(KindTransferExecuted, "a", "acme/agent", nil))
	}
	j.Stop()

	assert.Equal(t, 25, sink.total())
	assert.Zero(t, j.Dropped())

	// После Stop события не принимаются
	j.Log(NewEvent(KindTransferExecuted, "a", "acme/agent", nil))
	assert.Equal(t, int64(1), j.Dropped())
	j.Stop()
}

func TestJournal_FlushByTimer(t *testing.T) {
	sink := &memorySink{}
	j := NewJournal(Options{BatchSize: 100, FlushInterval: 10 * time.Millisecond}, zap.NewNop(), sink)
	j.Start()
	defer j.Stop()

	j.Log(NewEvent(KindWalletCreated, "a", "acme/agent", nil))
	assert.Eventually(t, func() bool { return sink.total() == 1 }, time.Second, 5*time.Millisecond)
}

func TestJournal_OverflowSheds(t *testing.T) {
	j := NewJournal(Options{Buffer: 2}, zap.NewNop(), &memorySink{})
	// Воркер не запущен: буфер на 2 события
	for i := 0; i < 5; i++ {
		j.Log(NewEvent(KindWalletCreated, "a", "s", nil))
	}
	assert.Equal(t, int64(3), j.Dropped())
}

func TestJournal_FailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &memorySink{err: errors.New("down")}
	good := &memorySink{}
	j := NewJournal(Options{}, zap.NewNop(), bad, good)
	j.Start()
	j.Log(NewEvent(KindEscrowCreated, "f", "e1", nil))
	j.Stop()

	assert.Equal(t, 1, good.total())
	assert.Equal(t, 1, bad.total())
}

type fakePublisher struct {
	channels []string
	messages [][]byte
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	p.channels = append(p.channels, channel)
	p.messages = append(p.messages, message.([]byte))
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(1)
	return cmd
}

func TestRedisSink(t *testing.T) {
	pub := &fakePublisher{}
	ev := NewEvent(KindEscrowReleased, "arbiter", "e1", map[string]any{"released_by": "arbiter"})
	require.NoError(t, NewRedisSink(pub).WriteBatch(context.Background(), []Event{ev}))

	require.Equal(t, []string{"agentwallet:events:escrow.released"}, pub.channels)
	var got Event
	require.NoError(t, json.Unmarshal(pub.messages[0], &got))
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, "arbiter", got.Payload["released_by"])
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	exchange  string
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.exchange = exchange
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPSink(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewAMQPSink(ch, "agentwallet.events")
	ev := NewEvent(KindTransferExecuted, "auth", "acme/a1", map[string]any{"amount": uint64(7)})
	ev.TraceID = "trace-1"

	require.NoError(t, sink.WriteBatch(context.Background(), []Event{ev}))
	assert.Equal(t, "agentwallet.events", ch.exchange)
	assert.Equal(t, []string{"transfer.executed"}, ch.keys)
	assert.Equal(t, ev.ID, ch.published[0].MessageId)
	assert.Equal(t, "trace-1", ch.published[0].CorrelationId)
	assert.Equal(t, amqp.Persistent, ch.published[0].DeliveryMode)
	require.NoError(t, sink.Close())
}
