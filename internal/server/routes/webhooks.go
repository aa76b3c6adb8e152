package routes

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/metrics"
	"github.com/DagiiM/webops-sub005/internal/repository"
	"github.com/DagiiM/webops-sub005/internal/usecase"
)

func RegisterWebhooks(injector *do.Injector, e *echo.Echo) {
	e.POST("/webhooks/:secret", func(c echo.Context) error {
		payload, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return c.NoContent(http.StatusBadRequest)
		}

		usecase := do.MustInvoke[usecase.HandleWebhookUsecase](injector)
		result, err := usecase.Execute(
			c.Request().Context(),
			c.Param("secret"),
			payload,
			c.Request().Header.Get("X-Hub-Signature-256"),
			c.Request().Header.Get("X-GitHub-Event"),
		)
		if err != nil {
			// Unknown secret and bad signature look identical from outside.
			switch {
			case errors.Is(err, entity.ErrNotFound) || errors.Is(err, repository.ErrNotFound) ||
				errors.Is(err, entity.ErrSignatureValidation):
				return c.NoContent(http.StatusNotFound)
			case errors.Is(err, entity.ErrValidation):
				return c.NoContent(http.StatusBadRequest)
			default:
				return c.NoContent(http.StatusInternalServerError)
			}
		}

		do.MustInvoke[*metrics.Metrics](injector).RecordWebhookDelivery(result.Accepted)
		return c.JSON(http.StatusOK, result)
	})

	e.GET("/webhooks/:secret/test", func(c echo.Context) error {
		hooks := do.MustInvoke[repository.WebhookRepository](injector)
		hook, err := hooks.GetBySecret(c.Request().Context(), c.Param("secret"))
		if err != nil {
			return c.NoContent(http.StatusNotFound)
		}

		type response struct {
			DeploymentID string `json:"deployment_id"`
			BranchFilter string `json:"branch_filter"`
			Enabled      bool   `json:"enabled"`
		}
		return c.JSON(http.StatusOK, &response{
			DeploymentID: hook.DeploymentID.String(),
			BranchFilter: hook.BranchFilter,
			Enabled:      hook.Enabled,
		})
	})
}
