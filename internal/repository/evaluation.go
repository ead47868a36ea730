package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/mammography-findings-server/internal/domain"
)

// EvaluationRepository persists study evaluations as append-only versions.
type EvaluationRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(db *pgxpool.Pool, logger *logrus.Logger) *EvaluationRepository {
	return &EvaluationRepository{
		db:  db,
		log: logger,
	}
}

// Create stores eval as the next version for its study. Earlier versions are
// never modified.
func (r *EvaluationRepository) Create(ctx context.Context, patientID string, eval *domain.Evaluation) (*domain.EvaluationRecord, error) {
	if eval == nil || eval.StudyID == "" {
		return nil, domain.NewInvalidInput("evaluation.study_id", "study ID is required")
	}
	if patientID == "" {
		return nil, domain.NewInvalidInput("patient_id", "patient ID is required")
	}

	evaluationJSON, err := json.Marshal(eval)
	if err != nil {
		return nil, fmt.Errorf("marshaling evaluation: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serializes version assignment per study.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, eval.StudyID); err != nil {
		return nil, fmt.Errorf("locking study: %w", err)
	}

	var version int
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM evaluations WHERE study_id = $1`,
		eval.StudyID,
	).Scan(&version)
	if err != nil {
		return nil, fmt.Errorf("determining version: %w", err)
	}

	id := uuid.New()
	record := &domain.EvaluationRecord{
		ID:         id.String(),
		StudyID:    eval.StudyID,
		PatientID:  patientID,
		Version:    version,
		Evaluation: eval,
	}

	query := `
		INSERT INTO evaluations (
			id, study_id, patient_id, version, study_date, laterality,
			overall_category, rules_version, engine_version, evaluation
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING created_at`

	err = tx.QueryRow(ctx, query,
		id,
		record.StudyID,
		record.PatientID,
		record.Version,
		eval.StudyDate,
		string(eval.Laterality),
		string(eval.OverallAssessment.Category),
		eval.RulesVersion,
		eval.EngineVersion,
		evaluationJSON,
	).Scan(&record.CreatedAt)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"study_id": record.StudyID,
			"version":  record.Version,
			"error":    err,
		}).Error("Failed to create evaluation record")
		return nil, fmt.Errorf("creating evaluation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing evaluation: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"record_id": record.ID,
		"study_id":  record.StudyID,
		"version":   record.Version,
		"birads":    eval.OverallAssessment.Category,
	}).Info("Evaluation record created")

	return record, nil
}

const recordColumns = `id::text, study_id, patient_id, version, evaluation, created_at`

func scanRecord(row pgx.Row) (*domain.EvaluationRecord, error) {
	var (
		record         domain.EvaluationRecord
		evaluationJSON []byte
	)
	if err := row.Scan(&record.ID, &record.StudyID, &record.PatientID, &record.Version, &evaluationJSON, &record.CreatedAt); err != nil {
		return nil, err
	}

	var eval domain.Evaluation
	if err := json.Unmarshal(evaluationJSON, &eval); err != nil {
		return nil, fmt.Errorf("unmarshaling evaluation: %w", err)
	}
	record.Evaluation = &eval
	return &record, nil
}

// GetLatest returns the highest version stored for a study.
func (r *EvaluationRepository) GetLatest(ctx context.Context, studyID string) (*domain.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM evaluations
		WHERE study_id = $1
		ORDER BY version DESC
		LIMIT 1`

	record, err := scanRecord(r.db.QueryRow(ctx, query, studyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("evaluation for study %s: %w", studyID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting latest evaluation: %w", err)
	}
	return record, nil
}

// ListVersions returns every stored version of a study, oldest first.
func (r *EvaluationRepository) ListVersions(ctx context.Context, studyID string) ([]*domain.EvaluationRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM evaluations
		WHERE study_id = $1
		ORDER BY version ASC`

	rows, err := r.db.Query(ctx, query, studyID)
	if err != nil {
		return nil, fmt.Errorf("listing evaluation versions: %w", err)
	}
	defer rows.Close()

	records := []*domain.EvaluationRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning evaluation: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating evaluations: %w", err)
	}
	return records, nil
}

// ListPriorStudies returns the latest evaluation of each of the patient's
// studies dated before the given time, newest study first.
func (r *EvaluationRepository) ListPriorStudies(ctx context.Context, patientID string, before time.Time) ([]domain.PriorStudy, error) {
	query := `
		SELECT evaluation FROM (
			SELECT DISTINCT ON (study_id) study_id, study_date, evaluation
			FROM evaluations
			WHERE patient_id = $1 AND study_date < $2
			ORDER BY study_id, version DESC
		) latest
		ORDER BY study_date DESC, study_id`

	rows, err := r.db.Query(ctx, query, patientID, before)
	if err != nil {
		return nil, fmt.Errorf("listing prior studies: %w", err)
	}
	defer rows.Close()

	priors := []domain.PriorStudy{}
	for rows.Next() {
		var evaluationJSON []byte
		if err := rows.Scan(&evaluationJSON); err != nil {
			return nil, fmt.Errorf("scanning prior study: %w", err)
		}
		var eval domain.Evaluation
		if err := json.Unmarshal(evaluationJSON, &eval); err != nil {
			return nil, fmt.Errorf("unmarshaling prior study: %w", err)
		}
		priors = append(priors, eval.AsPriorStudy())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating prior studies: %w", err)
	}

	r.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"before":     before.Format(time.RFC3339),
		"count":      len(priors),
	}).Debug("Loaded prior studies")

	return priors, nil
}

var _ domain.EvaluationRepository = (*EvaluationRepository)(nil)
