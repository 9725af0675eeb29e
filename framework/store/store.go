// Package store предоставляет хранилища записей о запусках: в памяти,
// PostgreSQL, Redis и MongoDB.
package store

import (
	"context"
	"time"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/core"
)

// RunRecord сохраняемое состояние запуска
type RunRecord struct {
	ID         string                    `json:"id" bson:"_id"`
	Workflow   string                    `json:"workflow" bson:"workflow"`
	State      activity.RunState         `json:"state" bson:"state"`
	Trigger    string                    `json:"trigger,omitempty" bson:"trigger,omitempty"`
	Input      any                       `json:"input,omitempty" bson:"input,omitempty"`
	Result     any                       `json:"result,omitempty" bson:"result,omitempty"`
	Error      string                    `json:"error,omitempty" bson:"error,omitempty"`
	Variables  map[string]any            `json:"variables,omitempty" bson:"variables,omitempty"`
	Statuses   []activity.ActivityStatus `json:"statuses,omitempty" bson:"statuses,omitempty"`
	CreatedAt  time.Time                 `json:"created_at" bson:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at" bson:"updated_at"`
	StartedAt  *time.Time                `json:"started_at,omitempty" bson:"started_at,omitempty"`
	FinishedAt *time.Time                `json:"finished_at,omitempty" bson:"finished_at,omitempty"`
}

// Clone возвращает копию записи. Значения input, result и переменных разделяются.
func (r *RunRecord) Clone() *RunRecord {
	if r == nil {
		return nil
	}
	out := *r
	if r.Variables != nil {
		out.Variables = make(map[string]any, len(r.Variables))
		for k, v := range r.Variables {
			out.Variables[k] = v
		}
	}
	out.Statuses = append([]activity.ActivityStatus(nil), r.Statuses...)
	return &out
}

// Filter условия выборки запусков
type Filter struct {
	Workflow string
	State    activity.RunState
	Limit    int
	Offset   int
}

// Match проверяет запись на соответствие фильтру без учета Limit и Offset
func (f Filter) Match(r *RunRecord) bool {
	if f.Workflow != "" && r.Workflow != f.Workflow {
		return false
	}
	if f.State != "" && r.State != f.State {
		return false
	}
	return true
}

// RunStore хранилище запусков
type RunStore interface {
	// Save создает или обновляет запись
	Save(ctx context.Context, record *RunRecord) error
	// Get возвращает запись по идентификатору
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List возвращает записи от новых к старым
	List(ctx context.Context, filter Filter) ([]*RunRecord, error)
	// Delete удаляет запись
	Delete(ctx context.Context, id string) error
	// HealthCheck проверяет доступность хранилища
	HealthCheck(ctx context.Context) error
	// Close освобождает соединения
	Close(ctx context.Context) error
}

// NotFound возвращает ошибку отсутствующего запуска
func NotFound(id string) error {
	return core.Errorf(core.ErrRunNotFound, "run %s not found", id)
}

// IsNotFound проверяет, что ошибка означает отсутствие запуска
func IsNotFound(err error) bool {
	return core.HasCode(err, core.ErrRunNotFound)
}

// page применяет Offset и Limit к отсортированной выборке
func page(records []*RunRecord, f Filter) []*RunRecord {
	if f.Offset > 0 {
		if f.Offset >= len(records) {
			return []*RunRecord{}
		}
		records = records[f.Offset:]
	}
	if f.Limit > 0 && len(records) > f.Limit {
		records = records[:f.Limit]
	}
	return records
}
