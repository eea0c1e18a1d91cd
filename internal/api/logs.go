package api

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/DanielVNZ/Trakt2EmbySync/internal/logger"
)

// LogsProvider provides access to log data.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
	GetLogFilePath() string
}

// LogsHandlers handles log-related HTTP endpoints.
type LogsHandlers struct {
	provider LogsProvider
}

// NewLogsHandlers creates a new logs handlers instance.
func NewLogsHandlers(provider LogsProvider) *LogsHandlers {
	return &LogsHandlers{provider: provider}
}

// RegisterRoutes registers log routes on the given group.
func (h *LogsHandlers) RegisterRoutes(g *echo.Group) {
	g.GET("", h.GetRecentLogs)
	g.GET("/download", h.DownloadLogFile)
}

// GetRecentLogs returns buffered entries, oldest first. Optional filters:
// level (minimum level), component, and limit (newest N).
// GET /api/v1/logs
func (h *LogsHandlers) GetRecentLogs(c echo.Context) error {
	logs := []logger.LogEntry{}
	if h.provider != nil {
		logs = append(logs, h.provider.GetRecentLogs()...)
	}

	if level := c.QueryParam("level"); level != "" {
		min := levelRank(level)
		filtered := logs[:0]
		for _, e := range logs {
			if levelRank(e.Level) >= min {
				filtered = append(filtered, e)
			}
		}
		logs = filtered
	}
	if component := c.QueryParam("component"); component != "" {
		filtered := logs[:0]
		for _, e := range logs {
			if e.Component == component {
				filtered = append(filtered, e)
			}
		}
		logs = filtered
	}
	if n, err := strconv.Atoi(c.QueryParam("limit")); err == nil && n > 0 && n < len(logs) {
		logs = logs[len(logs)-n:]
	}

	return c.JSON(http.StatusOK, logs)
}

// DownloadLogFile serves the current log file.
// GET /api/v1/logs/download
func (h *LogsHandlers) DownloadLogFile(c echo.Context) error {
	if h.provider == nil || h.provider.GetLogFilePath() == "" {
		return echo.NewHTTPError(http.StatusNotFound, "no log file configured")
	}
	logPath := h.provider.GetLogFilePath()
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	}
	return c.Attachment(logPath, "trakt2emby.log")
}

func levelRank(level string) int {
	switch strings.ToLower(level) {
	case "trace":
		return 0
	case "debug":
		return 1
	case "info":
		return 2
	case "warn", "warning":
		return 3
	case "error":
		return 4
	case "fatal", "panic":
		return 5
	}
	return 2
}
