package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-backend/pkg/config"
	"github.com/angelmondragon/marketplace-backend/pkg/db/models"
	"github.com/angelmondragon/marketplace-backend/pkg/logger"
	"github.com/angelmondragon/marketplace-backend/pkg/metrics"
	"github.com/angelmondragon/marketplace-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollMs         = 500
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbClient
	PubSub           pubSubClient
	Repository       outboxRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Metrics          *metrics.RelayMetrics
	Now              func() time.Time
}

// Service relays committed outbox rows to Pub/Sub. Rows are claimed and
// marked inside one transaction per batch, so a crash between publish and
// commit re-sends rather than drops; subscribers dedupe on event_id.
type Service struct {
	logg         *logger.Logger
	db           dbClient
	repo         outboxRepository
	pubsub       pubSubClient
	registry     registryResolver
	publisherFor publisherFactory
	metrics      *metrics.RelayMetrics
	now          func() time.Time
	batchSize    int
	maxAttempts  int
	pollInterval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.PubSub == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	svc := &Service{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		pubsub:       params.PubSub,
		registry:     params.Registry,
		publisherFor: params.PublisherFactory,
		metrics:      params.Metrics,
		now:          params.Now,
		batchSize:    positiveOr(params.Config.Outbox.BatchSize, defaultBatchSize),
		maxAttempts:  positiveOr(params.Config.Outbox.MaxAttempts, defaultMaxAttempts),
		pollInterval: time.Duration(positiveOr(params.Config.Outbox.PollIntervalMS, defaultPollMs)) * time.Millisecond,
	}
	if svc.publisherFor == nil {
		svc.publisherFor = func(topic string) publisher {
			return newGCPPublisher(params.PubSub.Publisher(topic))
		}
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

func positiveOr(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{
		"database": s.db.Ping,
		"pubsub":   s.pubsub.Ping,
	} {
		if err := ping(ctx); err != nil {
			s.logg.Error(ctx, name+" ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

// Run polls until ctx is canceled. A full batch is followed immediately by the
// next one; an empty batch waits one poll interval; a failed batch backs off.
func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	wait := s.pollInterval
	for {
		if err := ctx.Err(); err != nil {
			s.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		claimed, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox relay batch failed", err)
			wait = nextBackoff(wait, s.pollInterval, maxBackoff)
		case claimed:
			wait = s.pollInterval
			continue
		default:
			wait = s.pollInterval
		}

		if err := sleepCtx(ctx, withJitter(wait)); err != nil {
			return err
		}
	}
}

// relayOutcome is what happened to one row within a batch.
type relayOutcome struct {
	status string
	topic  string
	err    error
}

func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := false
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		s.metrics.Batch(len(rows))
		if len(rows) == 0 {
			return nil
		}
		claimed = true

		for _, row := range rows {
			outcome := s.relay(ctx, row)
			if err := s.record(ctx, tx, row, outcome); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// relay resolves and publishes a single row and classifies the result.
func (s *Service) relay(ctx context.Context, row models.OutboxEvent) relayOutcome {
	resolved, err := s.registry.Resolve(row)
	if err != nil {
		return relayOutcome{status: metrics.RelayParked, err: err}
	}
	topic := resolved.Descriptor.Topic

	err = s.publish(ctx, row, resolved)
	var nonRetryable registry.NonRetryableError
	switch {
	case err == nil:
		return relayOutcome{status: metrics.RelayPublished, topic: topic}
	case errors.As(err, &nonRetryable):
		return relayOutcome{status: metrics.RelayParked, topic: topic, err: err}
	case row.AttemptCount+1 >= s.maxAttempts:
		return relayOutcome{status: metrics.RelayParked, topic: topic, err: fmt.Errorf("max publish attempts reached: %w", err)}
	default:
		return relayOutcome{status: metrics.RelayRetried, topic: topic, err: err}
	}
}

// record persists the outcome on the row. Parked rows keep their payload and
// last error in place with attempt_count at the ceiling, which removes them
// from every later claim.
func (s *Service) record(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, outcome relayOutcome) error {
	s.metrics.Row(string(row.EventType), outcome.status)
	logCtx := s.logg.WithFields(ctx, rowFields(row, outcome))

	switch outcome.status {
	case metrics.RelayPublished:
		if err := s.repo.MarkPublishedTx(tx, row.ID, s.now()); err != nil {
			return fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		s.logg.Info(logCtx, "outbox event published")
	case metrics.RelayRetried:
		s.logg.Warn(s.logg.WithField(logCtx, "error", outcome.err.Error()), "outbox publish failed; will retry")
		if err := s.repo.MarkFailedTx(tx, row.ID, outcome.err); err != nil {
			return fmt.Errorf("mark failure %s: %w", row.ID, err)
		}
	default:
		s.logg.Warn(s.logg.WithField(logCtx, "error", outcome.err.Error()), "outbox event parked")
		if err := s.repo.MarkTerminalTx(tx, row.ID, outcome.err, s.maxAttempts); err != nil {
			return fmt.Errorf("mark terminal %s: %w", row.ID, err)
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	pub := s.publisherFor(topic)
	if pub == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher not configured for topic %s", topic))
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	result := pub.Publish(publishCtx, &gcppubsub.Message{
		Data:        []byte(row.Payload),
		OrderingKey: string(row.AggregateType) + ":" + strconv.FormatUint(uint64(row.AggregateID), 10),
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   strconv.FormatUint(uint64(row.AggregateID), 10),
			"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
		},
	})
	if result == nil {
		return registry.NewNonRetryableError(fmt.Errorf("publisher returned nil for topic %s", topic))
	}
	_, err := result.Get(publishCtx)
	return err
}

func rowFields(row models.OutboxEvent, outcome relayOutcome) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID,
		"attempt_count":  row.AttemptCount,
		"outcome":        outcome.status,
	}
	if outcome.topic != "" {
		fields["topic"] = outcome.topic
	}
	return fields
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	if next := current * 2; next < max {
		return next
	}
	return max
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(jitterSource.Int63n(int64(jitterWindow)))
}

type gcpPublisher struct {
	p *gcppubsub.Publisher
}

func newGCPPublisher(p *gcppubsub.Publisher) publisher {
	if p == nil {
		return nil
	}
	return gcpPublisher{p: p}
}

func (g gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return g.p.Publish(ctx, msg)
}
