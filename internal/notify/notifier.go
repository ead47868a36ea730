// Package notify publishes completed evaluations to NATS so downstream
// worklist and reporting services can react to them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/mammography-findings-server/internal/domain"
)

// ErrUnavailable is returned while the publish circuit is open.
var ErrUnavailable = errors.New("notification channel unavailable")

// Publisher is the subset of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// EvaluationCompletedEvent is the message body published for each evaluation.
type EvaluationCompletedEvent struct {
	EventID         string                      `json:"event_id"`
	StudyID         string                      `json:"study_id"`
	OverallCategory domain.BIRADSCategory       `json:"overall_category"`
	HighestUrgency  domain.Urgency              `json:"highest_urgency,omitempty"`
	RiskScore       int                         `json:"risk_score"`
	RulesVersion    string                      `json:"rules_version"`
	Recommendations []domain.Recommendation     `json:"recommendations"`
	Explanations    []domain.PatientExplanation `json:"explanations"`
	OccurredAt      time.Time                   `json:"occurred_at"`
}

// Notifier publishes evaluation events through a circuit breaker.
type Notifier struct {
	pub     Publisher
	conn    *nats.Conn
	prefix  string
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
	now     func() time.Time
}

// Connect dials the configured NATS server and returns a notifier bound to it.
func Connect(config domain.NATSConfig, logger *logrus.Logger) (*Notifier, error) {
	timeout := config.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := nats.Connect(
		config.URL,
		nats.Name("mammography-findings-server"),
		nats.Timeout(timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	n := NewNotifier(conn, config, logger)
	n.conn = conn
	return n, nil
}

// NewNotifier wraps an existing publisher.
func NewNotifier(pub Publisher, config domain.NATSConfig, logger *logrus.Logger) *Notifier {
	maxFailures := config.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	openTimeout := config.OpenTimeout
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nats-publish",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &Notifier{
		pub:     pub,
		prefix:  config.SubjectPrefix,
		breaker: breaker,
		logger:  logger,
		now:     time.Now,
	}
}

// Subject returns the subject an evaluation with the given category is published on.
func (n *Notifier) Subject(category domain.BIRADSCategory) string {
	return fmt.Sprintf("%s.birads.%s", n.prefix, category)
}

// PublishEvaluation publishes an EvaluationCompletedEvent for eval.
func (n *Notifier) PublishEvaluation(ctx context.Context, eval *domain.Evaluation) error {
	if eval == nil {
		return errors.New("nil evaluation")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	event := EvaluationCompletedEvent{
		EventID:         uuid.NewString(),
		StudyID:         eval.StudyID,
		OverallCategory: eval.OverallAssessment.Category,
		HighestUrgency:  eval.HighestUrgency(),
		RiskScore:       eval.RiskAssessment.Score,
		RulesVersion:    eval.RulesVersion,
		Recommendations: eval.Recommendations,
		Explanations:    eval.Explanations,
		OccurredAt:      n.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal evaluation event: %w", err)
	}

	subject := n.Subject(event.OverallCategory)
	_, err = n.breaker.Execute(func() (interface{}, error) {
		if err := n.pub.Publish(subject, data); err != nil {
			return nil, fmt.Errorf("nats publish: %w", err)
		}
		return nil, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err != nil {
		return err
	}

	n.logger.WithFields(logrus.Fields{
		"study_id": event.StudyID,
		"subject":  subject,
		"event_id": event.EventID,
	}).Debug("Published evaluation event")
	return nil
}

// State reports the circuit breaker state for health checks.
func (n *Notifier) State() gobreaker.State {
	return n.breaker.State()
}

// Close drains the NATS connection when the notifier owns one.
func (n *Notifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

var _ domain.EvaluationPublisher = (*Notifier)(nil)
