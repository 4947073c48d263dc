package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tazhate/taskseries/internal/domain"
	"github.com/tazhate/taskseries/internal/storage"
)

// TaskService manages standalone, non-recurring tasks.
type TaskService struct {
	storage *storage.Storage
	clock   Clock
}

func NewTaskService(s *storage.Storage, clock Clock) *TaskService {
	if clock == nil {
		clock = SystemClock{}
	}
	return &TaskService{storage: s, clock: clock}
}

func (s *TaskService) Create(ctx context.Context, title string, start, end time.Time) (*domain.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, &domain.ValidationError{Field: "title", Reason: "cannot be empty"}
	}
	if start.IsZero() {
		return nil, &domain.ValidationError{Field: "start_at", Reason: "is required"}
	}
	if !end.IsZero() && end.Before(start) {
		return nil, &domain.ValidationError{Field: "end_at", Reason: "is before start_at"}
	}

	task := &domain.Task{
		Title:   title,
		Status:  domain.StatusPending,
		StartAt: start,
		EndAt:   end,
	}
	if err := s.storage.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Get loads any task by id: a standalone task, a series or an instance.
func (s *TaskService) Get(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := s.storage.GetTask(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil {
		return nil, fmt.Errorf("task %d: %w", id, domain.ErrNotFound)
	}
	return task, nil
}

// SetStatus records progress on a standalone task. Instances go through
// SeriesService.SetInstanceStatus.
func (s *TaskService) SetStatus(ctx context.Context, id int64, status domain.TaskStatus) error {
	switch status {
	case domain.StatusPending, domain.StatusInProgress, domain.StatusCompleted:
	default:
		return &domain.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if err := s.storage.UpdateTaskStatus(ctx, id, status); err != nil {
		return fmt.Errorf("task %d: %w", id, err)
	}
	return nil
}

// IsOverdue evaluates the task at the current time. Series and weekly or
// monthly instances are never overdue.
func (s *TaskService) IsOverdue(ctx context.Context, id int64) (bool, error) {
	task, err := s.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return domain.IsOverdue(task, s.clock.Now()), nil
}
