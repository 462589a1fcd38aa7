package stores

import (
	"context"
	"database/sql"
	"time"
)

// RunStatus represents the status of a deployment run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunOperation distinguishes deploy runs from destroy runs.
type RunOperation string

const (
	RunOperationDeploy  RunOperation = "deploy"
	RunOperationDestroy RunOperation = "destroy"
)

// LayerPhase tracks how far a layer progressed inside a run.
type LayerPhase string

const (
	LayerPhaseInit                 LayerPhase = "init"
	LayerPhaseTfvarsGenerated      LayerPhase = "tfvars_generated"
	LayerPhaseToolApplied          LayerPhase = "tool_applied"
	LayerPhaseCodeDeployed         LayerPhase = "code_deployed"
	LayerPhasePostProvisioningDone LayerPhase = "post_provisioning_done"
	LayerPhaseFailed               LayerPhase = "failed"
	LayerPhaseDestroyed            LayerPhase = "destroyed"
)

// DeploymentRun represents one deploy or destroy invocation for a twin.
type DeploymentRun struct {
	ID          string       `json:"id"`
	TwinName    string       `json:"twin_name"`
	Operation   RunOperation `json:"operation"`
	Status      RunStatus    `json:"status"`
	ProviderMap string       `json:"provider_map"` // JSON blob, layer slug -> provider
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
	Error       *string      `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// LayerState represents the progress of one pipeline layer within a run.
type LayerState struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Layer       string     `json:"layer"`
	Provider    string     `json:"provider"`
	Phase       LayerPhase `json:"phase"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ResourceRecord is one ledger entry for a cloud resource created on
// behalf of a twin. The destroy sweep consumes these records to find
// leftovers after the reverse teardown.
type ResourceRecord struct {
	ID        string     `json:"id"`
	RunID     string     `json:"run_id"`
	TwinName  string     `json:"twin_name"`
	Provider  string     `json:"provider"`
	Service   string     `json:"service"`
	Name      string     `json:"name"`
	Layer     string     `json:"layer"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Store defines the persistence layer for deployment history.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Run operations
	CreateRun(ctx context.Context, run *DeploymentRun) error
	GetRun(ctx context.Context, id string) (*DeploymentRun, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, twinName string, limit, offset int) ([]*DeploymentRun, error)
	LatestRun(ctx context.Context, twinName string) (*DeploymentRun, error)

	// Layer state operations
	CreateLayerState(ctx context.Context, state *LayerState) error
	UpdateLayerPhase(ctx context.Context, id string, phase LayerPhase, err *string) error
	ListLayerStatesByRun(ctx context.Context, runID string) ([]*LayerState, error)

	// Resource ledger operations
	RecordResource(ctx context.Context, rec *ResourceRecord) error
	ListLiveResources(ctx context.Context, twinName string) ([]*ResourceRecord, error)
	MarkResourceDeleted(ctx context.Context, id string) error

	// Utility
	HealthCheck(ctx context.Context) error
}
