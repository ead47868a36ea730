// Package worker evaluates batches of studies concurrently.
package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/mammography-findings-server/internal/domain"
)

// Evaluator runs one study evaluation.
type Evaluator interface {
	Evaluate(ctx context.Context, req *domain.EvaluationRequest) (*domain.Evaluation, error)
}

// BatchItem is the outcome for one request of a batch, in input order.
type BatchItem struct {
	StudyID    string             `json:"study_id"`
	Evaluation *domain.Evaluation `json:"evaluation,omitempty"`
	Err        error              `json:"-"`
	Error      string             `json:"error,omitempty"`
}

// BatchEvaluator fans requests out over a bounded set of goroutines.
type BatchEvaluator struct {
	evaluator Evaluator
	workers   int
	logger    *logrus.Logger
}

// NewBatchEvaluator creates a batch evaluator. Fewer than one worker runs
// requests one at a time.
func NewBatchEvaluator(evaluator Evaluator, workers int, logger *logrus.Logger) *BatchEvaluator {
	if workers <= 0 {
		workers = 1
	}
	return &BatchEvaluator{evaluator: evaluator, workers: workers, logger: logger}
}

// EvaluateAll evaluates every request. A failing study records its error in
// its item and the others still run. Cancelling ctx marks unstarted items
// with the context error.
func (b *BatchEvaluator) EvaluateAll(ctx context.Context, reqs []*domain.EvaluationRequest) []BatchItem {
	items := make([]BatchItem, len(reqs))
	start := time.Now()

	var g errgroup.Group
	g.SetLimit(b.workers)

	for i, req := range reqs {
		if req != nil {
			items[i].StudyID = req.Metadata.StudyID
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].setErr(err)
				return nil
			}
			eval, err := b.evaluator.Evaluate(ctx, req)
			if err != nil {
				items[i].setErr(err)
				return nil
			}
			items[i].Evaluation = eval
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	b.logger.WithFields(logrus.Fields{
		"studies":  len(reqs),
		"failed":   failed,
		"workers":  b.workers,
		"duration": time.Since(start).String(),
	}).Info("Batch evaluation completed")

	return items
}

func (it *BatchItem) setErr(err error) {
	it.Err = err
	it.Error = err.Error()
}
