package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docpipeline/pkg/resilience"
)

// KafkaBroker publishes first deliveries to the extract topic and retries to
// the retry topic. Kafka has no delayed delivery, so the retry consumer
// holds each message until its NotBefore.
type KafkaBroker struct {
	cfg    config.KafkaConfig
	main   *kafka.Producer
	retry  *kafka.Producer
	now    func() time.Time
	logger *slog.Logger
}

// NewKafkaBroker creates producers for both topics. Consumers are created
// on Subscribe.
func NewKafkaBroker(cfg config.KafkaConfig) *KafkaBroker {
	return &KafkaBroker{
		cfg:    cfg,
		main:   kafka.NewProducer(cfg, cfg.Topics.Extract),
		retry:  kafka.NewProducer(cfg, cfg.Topics.ExtractRetry),
		now:    time.Now,
		logger: slog.Default().With("component", "kafka-broker"),
	}
}

func (b *KafkaBroker) Publish(ctx context.Context, job Job) error {
	return b.publish(ctx, b.main, job)
}

func (b *KafkaBroker) PublishRetry(ctx context.Context, job Job) error {
	return b.publish(ctx, b.retry, job)
}

func (b *KafkaBroker) publish(ctx context.Context, p *kafka.Producer, job Job) error {
	data, err := Encode(job)
	if err != nil {
		return err
	}
	return p.Publish(ctx, kafka.Message{
		Key:   job.Fingerprint,
		Value: data,
		Headers: map[string]string{
			"ce_id":          fmt.Sprintf("%s-%d", job.TaskID, job.Attempt),
			"correlation_id": job.CorrelationID,
		},
	})
}

// Subscribe runs Concurrency consumers on each topic in one consumer group
// and returns when ctx is cancelled or a consumer fails.
func (b *KafkaBroker) Subscribe(ctx context.Context, h Handler) error {
	n := b.cfg.Concurrency
	if n < 1 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		extract := kafka.NewConsumer(b.cfg, b.cfg.Topics.Extract, b.decodeAndHandle(h, false))
		retry := kafka.NewConsumer(b.cfg, b.cfg.Topics.ExtractRetry, b.decodeAndHandle(h, true))
		g.Go(func() error { return extract.Start(gctx) })
		g.Go(func() error { return retry.Start(gctx) })
	}
	b.logger.Info("subscribed",
		"extract_topic", b.cfg.Topics.Extract,
		"retry_topic", b.cfg.Topics.ExtractRetry,
		"consumers_per_topic", n,
	)
	return g.Wait()
}

func (b *KafkaBroker) decodeAndHandle(h Handler, delayed bool) kafka.MessageHandler {
	return func(ctx context.Context, key, value []byte) error {
		job, err := Decode(value)
		if err != nil {
			// redelivering a malformed message cannot help
			b.logger.Error("discarding undecodable message", "key", string(key), "error", err)
			return nil
		}
		if delayed && !job.NotBefore.IsZero() {
			if wait := job.NotBefore.Sub(b.now()); wait > 0 {
				b.logger.Debug("holding retry", "task_id", job.TaskID, "wait", wait)
				if err := resilience.SleepContext(ctx, wait); err != nil {
					return err
				}
			}
		}
		return h(ctx, job)
	}
}

// Ping dials the configured brokers.
func (b *KafkaBroker) Ping(ctx context.Context) error {
	return kafka.Ping(ctx, b.cfg.Brokers)
}

func (b *KafkaBroker) Close() error {
	err1 := b.main.Close()
	err2 := b.retry.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
