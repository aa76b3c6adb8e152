package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/usecase"
)

func RegisterRestAPI(injector *do.Injector, e *echo.Echo) {
	api := e.Group("/api")

	api.POST("/deployments", func(c echo.Context) error {
		type request struct {
			Name          string                    `json:"name"`
			RepoURL       string                    `json:"repo_url"`
			Branch        string                    `json:"branch"`
			Kind          string                    `json:"kind"`
			Runtime       *entity.RuntimeDescriptor `json:"runtime,omitempty"`
			SSLEnabled    bool                      `json:"ssl_enabled"`
			HealthChecks  bool                      `json:"health_checks"`
			Notifications bool                      `json:"notifications"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		dep := &entity.Deployment{
			Name:          req.Name,
			RepoURL:       req.RepoURL,
			Branch:        req.Branch,
			Kind:          entity.DeploymentKind(req.Kind),
			SSLEnabled:    req.SSLEnabled,
			HealthChecks:  req.HealthChecks,
			Notifications: req.Notifications,
		}
		if req.Runtime != nil {
			dep.Runtime = *req.Runtime
		}

		usecase := do.MustInvoke[usecase.CreateDeploymentUsecase](injector)
		result, err := usecase.Execute(c.Request().Context(), dep)
		if err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusCreated, result)
	})

	api.GET("/deployments", func(c echo.Context) error {
		usecase := do.MustInvoke[usecase.ListDeploymentsUsecase](injector)
		deps, err := usecase.Execute(c.Request().Context())
		if err != nil {
			return mapError(c, err)
		}

		type response struct {
			Deployments []*entity.Deployment `json:"deployments"`
		}
		return c.JSON(http.StatusOK, &response{Deployments: deps})
	})

	api.GET("/deployments/:id", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		usecase := do.MustInvoke[usecase.GetDeploymentUsecase](injector)
		detail, err := usecase.Execute(c.Request().Context(), id)
		if err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusOK, detail)
	})

	api.POST("/deployments/:id/deploy", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		usecase := do.MustInvoke[usecase.DeployDeploymentUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id); err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
	})

	api.POST("/deployments/:id/stop", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		usecase := do.MustInvoke[usecase.StopDeploymentUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id); err != nil {
			return mapError(c, err)
		}
		return c.NoContent(http.StatusOK)
	})

	api.POST("/deployments/:id/restart", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		usecase := do.MustInvoke[usecase.RestartDeploymentUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id); err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"status": "queued"})
	})

	api.DELETE("/deployments/:id", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		usecase := do.MustInvoke[usecase.DeleteDeploymentUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id); err != nil {
			return mapError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	})

	api.PUT("/deployments/:id/restart-policy", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		type request struct {
			Type               string  `json:"type"`
			Enabled            bool    `json:"enabled"`
			MaxRestarts        int     `json:"max_restarts"`
			TimeWindowSec      int64   `json:"time_window_sec"`
			InitialDelaySec    int64   `json:"initial_delay_sec"`
			MaxDelaySec        int64   `json:"max_delay_sec"`
			Multiplier         float64 `json:"multiplier"`
			CooldownSec        int64   `json:"cooldown_sec"`
			RequireHealthCheck bool    `json:"require_health_check"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		usecase := do.MustInvoke[usecase.SetRestartPolicyUsecase](injector)
		policy, err := usecase.Execute(c.Request().Context(), &entity.RestartPolicy{
			DeploymentID:       id,
			Type:               entity.RestartPolicyType(req.Type),
			Enabled:            req.Enabled,
			MaxRestarts:        req.MaxRestarts,
			TimeWindow:         time.Duration(req.TimeWindowSec) * time.Second,
			InitialDelay:       time.Duration(req.InitialDelaySec) * time.Second,
			MaxDelay:           time.Duration(req.MaxDelaySec) * time.Second,
			Multiplier:         req.Multiplier,
			Cooldown:           time.Duration(req.CooldownSec) * time.Second,
			RequireHealthCheck: req.RequireHealthCheck,
		})
		if err != nil {
			return mapError(c, err)
		}
		return c.JSON(http.StatusOK, policy)
	})

	api.PUT("/deployments/:id/env", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}
		type request struct {
			Env map[string]string `json:"env"`
		}
		var req request
		if err := c.Bind(&req); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		usecase := do.MustInvoke[usecase.SetDeploymentEnvUsecase](injector)
		if err := usecase.Execute(c.Request().Context(), id, req.Env); err != nil {
			return mapError(c, err)
		}
		return c.NoContent(http.StatusOK)
	})
}

func mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound) || errors.Is(err, entity.ErrNotFound):
		return c.NoContent(http.StatusNotFound)
	case errors.Is(err, entity.ErrInvalid) || errors.Is(err, entity.ErrValidation) ||
		errors.Is(err, entity.ErrInvalidTransition):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, entity.ErrConflict):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		return c.NoContent(http.StatusInternalServerError)
	}
}
