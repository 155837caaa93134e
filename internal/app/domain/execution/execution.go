package execution

import "time"

// Status is the lifecycle state of a flow execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is sticky.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// TriggerType records what started an execution.
type TriggerType string

const (
	TriggerManual   TriggerType = "manual"
	TriggerWebhook  TriggerType = "webhook"
	TriggerSchedule TriggerType = "schedule"
	TriggerDeploy   TriggerType = "deploy"
)

// Execution is one runtime instance of a flow version.
type Execution struct {
	ID           string         `json:"id"`
	FlowID       string         `json:"flow_id"`
	FlowVersion  int            `json:"flow_version"`
	Status       Status         `json:"status"`
	TriggerType  TriggerType    `json:"trigger_type"`
	TriggerData  map[string]any `json:"trigger_data,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   *int64         `json:"execution_time_ms,omitempty"`
}

// StepStatus is the lifecycle state of a per-node step.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is the per-node runtime record within an execution. (execution_id,
// node_id) is unique.
type Step struct {
	ID           string         `json:"id"`
	ExecutionID  string         `json:"execution_id"`
	NodeID       string         `json:"node_id"`
	NodeType     string         `json:"node_type"`
	NodeKind     string         `json:"node_kind,omitempty"`
	Status       StepStatus     `json:"status"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	InputData    map[string]any `json:"input_data,omitempty"`
	OutputData   map[string]any `json:"output_data,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	DurationMS   *int64         `json:"execution_time_ms,omitempty"`
	RetryCount   int            `json:"retry_count"`
}

// LogLevel classifies an execution log line.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// Log is one line of the execution log stream.
type Log struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	StepID      string         `json:"step_id,omitempty"`
	Level       LogLevel       `json:"level"`
	Message     string         `json:"message"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
