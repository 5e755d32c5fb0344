package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/bitcodr/waplane/internal/domain"
)

// TaskRunner executes one scheduler task. The returned message is stored as
// the scheduler's last result message.
type TaskRunner func(ctx context.Context, sched *domain.BizScheduler) (string, error)

// RegisterTask binds a runner to a scheduler task type. Registration happens
// at wiring time in main, before StartBackgroundJobs.
func (a *Application) RegisterTask(taskType string, runner TaskRunner) {
	a.taskRunners[taskType] = runner
}

// StartSchedulerService runs enabled schedulers periodically
func (a *Application) StartSchedulerService(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.runSchedulers(ctx)
			}
		}
	}()
}

// runSchedulers executes enabled schedulers whose next run time has passed
func (a *Application) runSchedulers(ctx context.Context) {
	var schedulers []domain.BizScheduler
	a.gormDB.Where("status = ?", "enabled").Find(&schedulers)
	now := time.Now()
	for i := range schedulers {
		sched := schedulers[i]
		if !sched.NextRunAt.IsZero() && now.Before(sched.NextRunAt) {
			continue
		}
		a.runScheduler(ctx, &sched)
		a.gormDB.Model(&domain.BizScheduler{}).Where("id = ?", sched.ID).
			Update("next_run_at", now.Add(time.Duration(sched.Interval)*time.Second))
	}
}

func (a *Application) runScheduler(ctx context.Context, sched *domain.BizScheduler) {
	runner, ok := a.taskRunners[sched.TaskType]
	if !ok {
		zap.L().Warn("scheduler: no runner for task type",
			zap.String("task_type", sched.TaskType), zap.Int64("scheduler_id", sched.ID))
		return
	}

	result := "success"
	message, err := runner(ctx, sched)
	if err != nil {
		result = "failed"
		message = err.Error()
		zap.L().Error("scheduler: task failed",
			zap.String("task_type", sched.TaskType), zap.Error(err))
	}

	a.gormDB.Model(&domain.BizScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at":  time.Now(),
		"last_result":  result,
		"last_message": message,
	})
}

// RunSchedulerNow triggers a scheduler execution immediately by ID
func (a *Application) RunSchedulerNow(id int64) error {
	var sched domain.BizScheduler
	if err := a.gormDB.First(&sched, id).Error; err != nil {
		return err
	}

	a.runScheduler(context.Background(), &sched)

	now := time.Now()
	a.gormDB.Model(&domain.BizScheduler{}).Where("id = ?", sched.ID).Updates(map[string]interface{}{
		"last_run_at": now,
		"next_run_at": now.Add(time.Duration(sched.Interval) * time.Second),
	})
	return nil
}
