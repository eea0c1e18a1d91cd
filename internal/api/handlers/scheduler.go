// Package handlers holds HTTP handlers that wrap a single dependency.
package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/scheduler"
)

// TaskRunner is the housekeeping scheduler as seen by the API.
type TaskRunner interface {
	ListTasks() []scheduler.TaskInfo
	GetTask(taskID string) (*scheduler.TaskInfo, error)
	RunNow(taskID string) error
}

// SchedulerHandler serves housekeeping task state. A nil runner means the
// housekeeping scheduler runs in another process.
type SchedulerHandler struct {
	tasks TaskRunner
}

// NewSchedulerHandler creates a new scheduler handler.
func NewSchedulerHandler(tasks TaskRunner) *SchedulerHandler {
	return &SchedulerHandler{tasks: tasks}
}

// RegisterRoutes registers the scheduler routes.
func (h *SchedulerHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/tasks", h.ListTasks)
	g.GET("/tasks/:id", h.GetTask)
	g.POST("/tasks/:id/run", h.RunTask)
}

// ListTasks returns all housekeeping tasks.
// GET /api/v1/scheduler/tasks
func (h *SchedulerHandler) ListTasks(c echo.Context) error {
	if h.tasks == nil {
		return c.JSON(http.StatusOK, []scheduler.TaskInfo{})
	}
	return c.JSON(http.StatusOK, h.tasks.ListTasks())
}

// GetTask returns one task.
// GET /api/v1/scheduler/tasks/:id
func (h *SchedulerHandler) GetTask(c echo.Context) error {
	if h.tasks == nil {
		return echo.NewHTTPError(http.StatusNotFound, "scheduler not running in this process")
	}
	task, err := h.tasks.GetTask(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, task)
}

// RunTask triggers a task immediately.
// POST /api/v1/scheduler/tasks/:id/run
func (h *SchedulerHandler) RunTask(c echo.Context) error {
	if h.tasks == nil {
		return echo.NewHTTPError(http.StatusNotFound, "scheduler not running in this process")
	}
	taskID := c.Param("id")
	if err := h.tasks.RunNow(taskID); err != nil {
		switch {
		case errors.Is(err, scheduler.ErrTaskNotFound):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, scheduler.ErrTaskRunning):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"message": "Task started",
		"taskId":  taskID,
	})
}
