package store

import (
	"context"
	"time"

	"github.com/sells-group/restaurant-intel/internal/model"
	"github.com/sells-group/restaurant-intel/internal/resilience"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	TargetURL    string          `json:"target_url,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// ArtifactIndexEntry is the metadata row accompanying each blob the
// ArtifactStore writes; the blob itself lives at the backend named by
// URI, not in this table.
type ArtifactIndexEntry struct {
	URI            string    `json:"uri"`
	RunID          string    `json:"run_id"`
	MediaKind      string    `json:"media_kind"`
	ProducingPhase int       `json:"producing_phase"`
	Caption        string    `json:"caption,omitempty"`
	ContentHash    string    `json:"content_hash"`
	SizeBytes      int64     `json:"size_bytes"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Store defines the persistence interface for run/phase/artifact-index
// metadata, checkpoint/resume state, the answer-reuse cache, and the
// dead letter queue. It does not store artifact bytes themselves — that
// is the ArtifactStore's job (internal/artifactstore).
type Store interface {
	// Runs
	CreateRun(ctx context.Context, targetURL string) (*model.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status model.RunStatus) error
	CompleteRun(ctx context.Context, runID string, result *model.ExtractionMetadata) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Phases
	CreatePhase(ctx context.Context, runID string, phase int) (*model.RunPhaseRecord, error)
	CompletePhase(ctx context.Context, phaseID string, status model.PhaseStatus, cost, durationS float64, errMsg string) error

	// Artifact index
	RecordArtifact(ctx context.Context, entry ArtifactIndexEntry) error
	GetArtifactIndex(ctx context.Context, uri string) (*ArtifactIndexEntry, error)
	ListArtifactsForRun(ctx context.Context, runID string) ([]ArtifactIndexEntry, error)

	// Answer-reuse cache (skip re-extraction on high-confidence repeat runs)
	GetHighConfidenceAnswers(ctx context.Context, targetURL string, minConfidence float64) ([]model.AnswerCacheEntry, error)
	SetAnswer(ctx context.Context, entry model.AnswerCacheEntry) error

	// Checkpoint/resume
	SaveCheckpoint(ctx context.Context, runID string, phaseReached int, data []byte) error
	LoadCheckpoint(ctx context.Context, runID string) (*model.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, runID string) error

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
