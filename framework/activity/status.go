package activity

import "time"

// RunState состояние запуска
type RunState string

const (
	RunPending   RunState = "pending"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
)

// IsTerminal проверяет, завершен ли запуск
func (s RunState) IsTerminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// ActivityState состояние выполнения узла
type ActivityState string

const (
	ActivityRunning   ActivityState = "running"
	ActivityCompleted ActivityState = "completed"
	ActivityFailed    ActivityState = "failed"
	ActivitySkipped   ActivityState = "skipped"
)

// ActivityStatus запись журнала выполнения узла
type ActivityStatus struct {
	Path       string        `json:"path" bson:"path"`
	Selector   string        `json:"selector" bson:"selector"`
	Kind       Kind          `json:"kind" bson:"kind"`
	State      ActivityState `json:"state" bson:"state"`
	StartedAt  time.Time     `json:"started_at" bson:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
	Error      string        `json:"error,omitempty" bson:"error,omitempty"`
}

// Duration возвращает длительность выполнения узла
func (s ActivityStatus) Duration() time.Duration {
	if s.FinishedAt == nil {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
