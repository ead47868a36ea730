package domain

import (
	"context"
	"time"
)

// EvaluationRepository defines the interface for versioned evaluation persistence.
// Records are append-only: a recomputation is stored as a new version.
type EvaluationRepository interface {
	Create(ctx context.Context, patientID string, eval *Evaluation) (*EvaluationRecord, error)
	GetLatest(ctx context.Context, studyID string) (*EvaluationRecord, error)
	ListVersions(ctx context.Context, studyID string) ([]*EvaluationRecord, error)
	ListPriorStudies(ctx context.Context, patientID string, before time.Time) ([]PriorStudy, error)
}

// ResultCache stores serialized evaluations keyed by a request digest.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EvaluationPublisher hands finished evaluations to the notification collaborator.
type EvaluationPublisher interface {
	PublishEvaluation(ctx context.Context, eval *Evaluation) error
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	GetEngineConfig() *EngineConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
