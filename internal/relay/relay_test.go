package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/loyalty-ledger/internal/model"
	"github.com/mmeshcher/loyalty-ledger/internal/repository"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []model.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev model.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func seedEvents(t *testing.T, repo *repository.MemoryRepository, events ...model.Event) {
	t.Helper()

	err := repo.RunInTx(context.Background(), func(tx repository.Tx) error {
		for _, ev := range events {
			if err := tx.Enqueue(context.Background(), ev); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestFlush_DeliversToMatchingSinks(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedEvents(t, repo,
		model.Event{ID: "e1", Entity: "account", Action: "updated", AccountID: "ana@example.com"},
		model.Event{ID: "e2", Entity: "promotion", Action: "assigned", AccountID: "ana@example.com"},
	)

	feed := &recordingPublisher{}
	promos := &recordingPublisher{}

	r := New(repo, zap.NewNop())
	r.Add("feed", feed, nil)
	r.Add("notify", promos, func(ev model.Event) bool { return ev.Entity == "promotion" })

	sent, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, feed.count())
	require.Equal(t, 1, promos.count())
	assert.Equal(t, "e2", promos.events[0].ID)

	pending, err := repo.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFlush_RetriesUntilMaxAttempts(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedEvents(t, repo, model.Event{ID: "e1", Entity: "account", Action: "updated"})

	broken := &recordingPublisher{err: errors.New("broker down")}
	r := New(repo, zap.NewNop(), WithMaxAttempts(2))
	r.Add("kafka", broken, nil)

	sent, err := r.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	pending, err := repo.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)

	_, err = r.Flush(context.Background())
	require.NoError(t, err)

	pending, err = repo.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, pending, "event must be parked after max attempts")
}

func TestRun_StopsOnCancel(t *testing.T) {
	repo := repository.NewMemoryRepository()
	seedEvents(t, repo, model.Event{ID: "e1", Entity: "account", Action: "updated"})

	feed := &recordingPublisher{}
	r := New(repo, zap.NewNop(), WithInterval(5*time.Millisecond))
	r.Add("feed", feed, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return feed.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
}

func TestKafkaPublisher(t *testing.T) {
	producer := mocks.NewSyncProducer(t, NewKafkaConfig())
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if len(val) == 0 {
			return errors.New("empty message value")
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewKafkaPublisherWithProducer(producer, "loyalty.events")
	ev := model.Event{ID: "e1", Entity: "transaction", Action: "created", AccountID: "ana@example.com"}

	require.NoError(t, p.Publish(context.Background(), ev))

	err := p.Publish(context.Background(), ev)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, p.Close())
}
