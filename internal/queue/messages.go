package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// ErrMalformed marks a message body that can never be processed.
var ErrMalformed = errors.New("malformed message")

type ClusterArticleMsg struct {
	ArticleID int64 `json:"article_id"`
}

type SweepMsg struct {
	Reason string `json:"reason,omitempty"`
}

// CaptureTrendsMsg requests a capture. An empty Kind captures every
// configured kind; a nil PeriodStart means the last closed period.
type CaptureTrendsMsg struct {
	PeriodType  trend.PeriodType `json:"period_type"`
	PeriodStart *time.Time       `json:"period_start,omitempty"`
	Kind        trend.Kind       `json:"kind,omitempty"`
}

type CleanupMsg struct {
	Reason string `json:"reason,omitempty"`
}

// TrendsCapturedEvent is published on the events exchange after a capture.
type TrendsCapturedEvent struct {
	Kind        trend.Kind       `json:"kind"`
	PeriodType  trend.PeriodType `json:"period_type"`
	PeriodStart time.Time        `json:"period_start"`
	Ranked      int              `json:"ranked"`
}

// Topic is the routing key of the event.
func (e TrendsCapturedEvent) Topic() string {
	return fmt.Sprintf("trends.captured.%s.%s", e.Kind, e.PeriodType)
}

func decode[T any](body []byte) (T, error) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

// Publisher enqueues jobs as JSON. It is safe for concurrent use.
type Publisher struct {
	mu sync.Mutex
	ch Channel
}

func NewPublisher(ch Channel) *Publisher {
	return &Publisher{ch: ch}
}

func (p *Publisher) publish(queueName string, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishFIFO(p.ch, queueName, data); err != nil {
		return fmt.Errorf("publish to %s: %w", queueName, err)
	}
	return nil
}

func (p *Publisher) ClusterArticle(ctx context.Context, articleID int64) error {
	return p.publish(ClusterArticleQueue, ClusterArticleMsg{ArticleID: articleID})
}

func (p *Publisher) Sweep(ctx context.Context, reason string) error {
	return p.publish(ClusterSweepQueue, SweepMsg{Reason: reason})
}

func (p *Publisher) CaptureTrends(ctx context.Context, msg CaptureTrendsMsg) error {
	return p.publish(CaptureTrendsQueue, msg)
}

func (p *Publisher) Cleanup(ctx context.Context, reason string) error {
	return p.publish(CleanupTrendsQueue, CleanupMsg{Reason: reason})
}

// Captured announces a finished capture on the events exchange.
func (p *Publisher) Captured(ctx context.Context, c trend.Capture) error {
	ev := TrendsCapturedEvent{
		Kind:        c.Kind,
		PeriodType:  c.Period.Type,
		PeriodStart: c.Period.Start,
		Ranked:      len(c.Snapshots),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublishTopic(p.ch, ev.Topic(), data)
}
