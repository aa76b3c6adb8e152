package routes

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/do"

	"github.com/DagiiM/webops-sub005/internal/entity"
	"github.com/DagiiM/webops-sub005/internal/metrics"
	"github.com/DagiiM/webops-sub005/internal/usecase"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func RegisterLogs(injector *do.Injector, e *echo.Echo) {
	e.GET("/api/deployments/:id/logs", func(c echo.Context) error {
		id, err := entity.ParseID(c.Param("id"))
		if err != nil {
			return mapError(c, err)
		}

		streamLogs := do.MustInvoke[usecase.StreamLogsUsecase](injector)
		chunks, cancel, err := streamLogs.Execute(c.Request().Context(), id)
		if err != nil {
			return mapError(c, err)
		}
		defer cancel()

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		log := zerolog.Ctx(c.Request().Context())
		m := do.MustInvoke[*metrics.Metrics](injector)

		// Reads only serve to notice the client going away.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-closed:
				return nil
			case chunk, ok := <-chunks:
				if !ok {
					return nil
				}
				if err := conn.WriteJSON(chunk); err != nil {
					log.Debug().Err(err).Str("deployment_id", id.String()).Msg("log stream closed")
					return nil
				}
				m.RecordLogChunk(id.String())
			}
		}
	})
}
