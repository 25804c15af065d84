package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lemonslut/that-news-thing-again/pkg/common"
	"github.com/lemonslut/that-news-thing-again/pkg/leaselock"
	"github.com/lemonslut/that-news-thing-again/pkg/logger"
	"github.com/lemonslut/that-news-thing-again/pkg/story"
	"github.com/lemonslut/that-news-thing-again/pkg/trend"
)

// SweepLockKey guards the clustering sweep across replicas.
const SweepLockKey = "cluster_sweep"

var log = logger.Component("Queue")

// EventSink receives capture notifications.
type EventSink interface {
	Captured(ctx context.Context, c trend.Capture) error
}

// Processor runs the job behind each queue.
type Processor struct {
	Stories *story.Engine
	Trends  *trend.Engine
	Locker  leaselock.Locker
	LockTTL time.Duration
	Events  EventSink
}

// Process dispatches one message body by queue name.
func (p *Processor) Process(ctx context.Context, queueName string, body []byte) error {
	switch queueName {
	case ClusterArticleQueue:
		return p.ProcessClusterArticle(ctx, body)
	case ClusterSweepQueue:
		return p.ProcessSweep(ctx, body)
	case CaptureTrendsQueue:
		return p.ProcessCaptureTrends(ctx, body)
	case CleanupTrendsQueue:
		return p.ProcessCleanup(ctx, body)
	default:
		return fmt.Errorf("%w: unknown queue %s", ErrMalformed, queueName)
	}
}

// ProcessClusterArticle places one article. An article deleted before its
// message was consumed is logged and acked.
func (p *Processor) ProcessClusterArticle(ctx context.Context, body []byte) error {
	msg, err := decode[ClusterArticleMsg](body)
	if err != nil {
		return err
	}
	if msg.ArticleID <= 0 {
		return fmt.Errorf("%w: article_id is required", ErrMalformed)
	}
	res, err := p.Stories.ClusterArticle(ctx, msg.ArticleID)
	if errors.Is(err, common.ErrNotFound) {
		log.Info("Article no longer exists, skipping", "article_id", msg.ArticleID)
		return nil
	}
	if err != nil {
		return err
	}
	log.Debug("Clustered article", "article_id", msg.ArticleID, "outcome", res.Outcome, "story_id", res.StoryID)
	return nil
}

// ProcessSweep runs a sweep under the sweep lease. A sweep already in
// flight on another worker makes this one a no-op.
func (p *Processor) ProcessSweep(ctx context.Context, body []byte) error {
	msg, err := decode[SweepMsg](body)
	if err != nil {
		return err
	}
	err = p.Locker.WithLease(ctx, SweepLockKey, leaselock.Options{TTL: p.LockTTL}, func(ctx context.Context) error {
		res, err := p.Stories.ClusterSweep(ctx)
		if err != nil {
			return err
		}
		log.Info("Sweep done", "reason", msg.Reason, "scanned", res.Scanned, "clustered", res.Clustered)
		return nil
	})
	if errors.Is(err, leaselock.ErrBusy) {
		log.Info("Sweep already running, skipping", "reason", msg.Reason)
		return nil
	}
	return err
}

func (p *Processor) ProcessCaptureTrends(ctx context.Context, body []byte) error {
	msg, err := decode[CaptureTrendsMsg](body)
	if err != nil {
		return err
	}
	if !msg.PeriodType.Valid() {
		return fmt.Errorf("%w: unknown period type", ErrMalformed)
	}

	start := p.Trends.LastClosedPeriod(msg.PeriodType).Start
	if msg.PeriodStart != nil {
		start = *msg.PeriodStart
	}

	var captures []trend.Capture
	if msg.Kind == "" {
		captures, err = p.Trends.CaptureKinds(ctx, msg.PeriodType, start)
	} else {
		var c trend.Capture
		c, err = p.Trends.CaptureTrends(ctx, trend.Request{Kind: msg.Kind, PeriodType: msg.PeriodType, PeriodStart: start})
		captures = []trend.Capture{c}
	}
	if err != nil {
		return err
	}

	if p.Events != nil {
		for _, c := range captures {
			if err := p.Events.Captured(ctx, c); err != nil {
				log.Warn("Failed to publish capture event", "kind", c.Kind, "err", err)
			}
		}
	}
	return nil
}

func (p *Processor) ProcessCleanup(ctx context.Context, body []byte) error {
	if _, err := decode[CleanupMsg](body); err != nil {
		return err
	}
	_, err := p.Trends.Cleanup(ctx)
	return err
}

// Permanent reports whether retrying err cannot succeed.
func Permanent(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, common.ErrNotFound) ||
		common.IsConfigError(err)
}
