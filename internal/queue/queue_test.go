package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/leaselock"
	"github.com/lemonslut/that-news-thing-again/pkg/store/memory"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/subject"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

type published struct {
	exchange string
	key      string
	msg      amqp091.Publishing
}

type fakeChannel struct {
	exchanges []string
	queues    map[string]amqp091.Table
	published []published
	failOn    string
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{queues: map[string]amqp091.Table{}}
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error {
	f.exchanges = append(f.exchanges, name)
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp091.Table) (amqp091.Queue, error) {
	if _, ok := f.queues[name]; !ok || args != nil {
		f.queues[name] = args
	}
	return amqp091.Queue{Name: name}, nil
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error {
	if f.failOn != "" && key == f.failOn {
		return errors.New("channel closed")
	}
	f.published = append(f.published, published{exchange: exchange, key: key, msg: msg})
	return nil
}

type fakeAck struct {
	acked   int
	nacked  int
	requeue bool
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acked++; return nil }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { return nil }

func delivery(ack *fakeAck, body string, retries any) amqp091.Delivery {
	d := amqp091.Delivery{Acknowledger: ack, Body: []byte(body), ContentType: "application/json"}
	if retries != nil {
		d.Headers = amqp091.Table{"x-retries": retries}
	}
	return d
}

func TestSetupQueuesDeclaresRetryAndDLQ(t *testing.T) {
	ch := newFakeChannel()
	if err := SetupQueues(ch, Queues()); err != nil {
		t.Fatalf("SetupQueues failed: %v", err)
	}
	if len(ch.exchanges) != 1 || ch.exchanges[0] != EventsExchange {
		t.Fatalf("expected events exchange, got %v", ch.exchanges)
	}
	if len(ch.queues) != 12 {
		t.Fatalf("expected 12 queues, got %d", len(ch.queues))
	}
	args := ch.queues[ClusterSweepQueue+"_retry"]
	if args["x-dead-letter-routing-key"] != ClusterSweepQueue {
		t.Fatalf("expected retry queue to dead-letter into %s, got %v", ClusterSweepQueue, args)
	}
	if args["x-message-ttl"] != retryTTL {
		t.Fatalf("expected ttl %d, got %v", retryTTL, args["x-message-ttl"])
	}
}

func TestPublisherEncodesJSON(t *testing.T) {
	ch := newFakeChannel()
	p := NewPublisher(ch)
	start := time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)

	if err := p.CaptureTrends(context.Background(), CaptureTrendsMsg{PeriodType: trend.PeriodDay, PeriodStart: &start}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(ch.published) != 1 || ch.published[0].key != CaptureTrendsQueue {
		t.Fatalf("expected one message on %s, got %+v", CaptureTrendsQueue, ch.published)
	}
	var raw map[string]any
	if err := json.Unmarshal(ch.published[0].msg.Body, &raw); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if raw["period_type"] != "day" {
		t.Fatalf("expected period_type day, got %v", raw["period_type"])
	}
	if ch.published[0].msg.DeliveryMode != amqp091.Persistent {
		t.Fatal("expected persistent delivery")
	}
}

func TestHandleProcessingErrorRetries(t *testing.T) {
	ch := newFakeChannel()
	ack := &fakeAck{}

	HandleProcessingError(ch, delivery(ack, `{}`, int32(3)), ClusterArticleQueue, errors.New("db down"))

	if len(ch.published) != 1 || ch.published[0].key != ClusterArticleQueue+"_retry" {
		t.Fatalf("expected retry publish, got %+v", ch.published)
	}
	if got := ch.published[0].msg.Headers["x-retries"]; got != int32(4) {
		t.Fatalf("expected x-retries 4, got %v", got)
	}
	if ack.acked != 1 {
		t.Fatalf("expected original acked, got %d", ack.acked)
	}
}

func TestHandleProcessingErrorDeadLetters(t *testing.T) {
	cases := map[string]struct {
		retries any
		err     error
	}{
		"out of retries": {int32(MaxRetries), errors.New("db down")},
		"not found":      {nil, fmt.Errorf("get article 9: %w", common.ErrNotFound)},
		"malformed":      {nil, fmt.Errorf("%w: bad json", ErrMalformed)},
		"config":         {int64(1), &common.ConfigError{Field: "kind", Reason: "unknown"}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ch := newFakeChannel()
			ack := &fakeAck{}
			HandleProcessingError(ch, delivery(ack, `{}`, tc.retries), ClusterArticleQueue, tc.err)
			if len(ch.published) != 1 || ch.published[0].key != ClusterArticleQueue+"_dlq" {
				t.Fatalf("expected dlq publish, got %+v", ch.published)
			}
			if ack.acked != 1 {
				t.Fatalf("expected original acked, got %d", ack.acked)
			}
		})
	}
}

func TestHandleProcessingErrorRequeuesWhenPublishFails(t *testing.T) {
	ch := newFakeChannel()
	ch.failOn = CleanupTrendsQueue + "_retry"
	ack := &fakeAck{}

	HandleProcessingError(ch, delivery(ack, `{}`, nil), CleanupTrendsQueue, errors.New("boom"))

	if ack.nacked != 1 || !ack.requeue || ack.acked != 0 {
		t.Fatalf("expected nack with requeue, got %+v", ack)
	}
}

var t0 = time.Date(2025, 12, 1, 10, 30, 0, 0, time.UTC)

func newProcessor(t *testing.T, s *memory.Store, events EventSink) *Processor {
	t.Helper()
	se, err := story.NewEngine(s, s, story.DefaultConfig())
	if err != nil {
		t.Fatalf("story engine: %v", err)
	}
	te, err := trend.NewEngine(s, trend.DefaultConfig())
	if err != nil {
		t.Fatalf("trend engine: %v", err)
	}
	return &Processor{
		Stories: se.WithClock(func() time.Time { return t0 }),
		Trends:  te.WithClock(func() time.Time { return t0 }),
		Locker:  leaselock.NewMemory(),
		LockTTL: time.Minute,
		Events:  events,
	}
}

func seed(s *memory.Store) {
	for i, at := range []time.Time{t0.Add(-80 * time.Minute), t0.Add(-70 * time.Minute)} {
		s.PutArticle(story.Article{ID: int64(i + 1), Title: fmt.Sprintf("a%d", i+1), PublishedAt: at},
			subject.Subject{ID: 1, Kind: subject.KindPerson}, subject.Subject{ID: 2, Kind: subject.KindOrg})
	}
}

func TestProcessClusterArticle(t *testing.T) {
	s := memory.New()
	seed(s)
	p := newProcessor(t, s, nil)

	if err := p.Process(context.Background(), ClusterArticleQueue, []byte(`{"article_id":2}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	a, _ := s.GetArticle(context.Background(), 1)
	if !a.Clustered() {
		t.Fatal("expected partner to be clustered")
	}

	if err := p.Process(context.Background(), ClusterArticleQueue, []byte(`{"article_id":99}`)); err != nil {
		t.Fatalf("expected missing article to be skipped, got %v", err)
	}
	if err := p.Process(context.Background(), ClusterArticleQueue, []byte(`nope`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}

func TestProcessClusterArticleSkipsDeletedArticle(t *testing.T) {
	s := memory.New()
	seed(s)
	p := newProcessor(t, s, nil)
	s.DeleteArticle(2)

	if err := p.Process(context.Background(), ClusterArticleQueue, []byte(`{"article_id":2}`)); err != nil {
		t.Fatalf("expected deleted article to be acked, got %v", err)
	}
	if a, _ := s.GetArticle(context.Background(), 1); a.Clustered() {
		t.Fatal("expected no story without the deleted article")
	}
}

func TestProcessSweepSkipsWhenLocked(t *testing.T) {
	s := memory.New()
	seed(s)
	p := newProcessor(t, s, nil)
	ctx := context.Background()

	lease, err := p.Locker.(*leaselock.Client).Acquire(ctx, SweepLockKey, leaselock.Options{TTL: time.Minute})
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := p.Process(ctx, ClusterSweepQueue, []byte(`{}`)); err != nil {
		t.Fatalf("expected busy sweep to be skipped, got %v", err)
	}
	if a, _ := s.GetArticle(ctx, 1); a.Clustered() {
		t.Fatal("expected no clustering while the lease is held")
	}
	_ = lease.Release(ctx)

	if err := p.Process(ctx, ClusterSweepQueue, []byte(`{"reason":"test"}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a, _ := s.GetArticle(ctx, 1); !a.Clustered() {
		t.Fatal("expected sweep to cluster article 1")
	}
}

type recordingSink struct {
	captures []trend.Capture
}

func (r *recordingSink) Captured(ctx context.Context, c trend.Capture) error {
	r.captures = append(r.captures, c)
	return nil
}

func TestProcessCaptureTrendsDefaultsToLastClosedPeriod(t *testing.T) {
	s := memory.New()
	seed(s)
	sink := &recordingSink{}
	p := newProcessor(t, s, sink)
	ctx := context.Background()

	if err := p.Process(ctx, ClusterSweepQueue, []byte(`{}`)); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if err := p.Process(ctx, CaptureTrendsQueue, []byte(`{"period_type":"hour"}`)); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	if len(sink.captures) != 1 {
		t.Fatalf("expected one capture event, got %d", len(sink.captures))
	}
	c := sink.captures[0]
	if !c.Period.Start.Equal(time.Date(2025, 12, 1, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 09:00 period, got %s", c.Period.Start)
	}
	if len(c.Snapshots) != 1 || c.Snapshots[0].Count != 2 {
		t.Fatalf("expected one story with 2 articles, got %+v", c.Snapshots)
	}

	if err := p.Process(ctx, CaptureTrendsQueue, []byte(`{"period_type":"week"}`)); !Permanent(err) {
		t.Fatalf("expected permanent error for unknown period, got %v", err)
	}
}

func TestProcessUnknownQueue(t *testing.T) {
	p := newProcessor(t, memory.New(), nil)
	if err := p.Process(context.Background(), "index_queue", nil); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected malformed, got %v", err)
	}
}
