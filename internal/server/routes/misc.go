package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/task"
)

func RegisterMisc(injector *do.Injector, e *echo.Echo) {
	e.GET("/api/health", func(c echo.Context) error {
		processor := do.MustInvoke[task.Processor](injector)
		if !processor.Healthcheck(c.Request().Context()) {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	e.GET("/api/tasks/metrics", func(c echo.Context) error {
		processor := do.MustInvoke[task.Processor](injector)
		return c.JSON(http.StatusOK, processor.Metrics())
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
