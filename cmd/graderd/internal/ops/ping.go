package ops

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/classgrade/gradepipe/internal/models"
)

// Ping responds with a static value
//
//	@Summary		Test authentication creds and network connectivity
//	@Description	Test authentication creds and network connectivity
//	@Tags			ping
//	@Accept			json
//	@Produce		json
//
//	@Security		BasicAuth
//
//	@Success		200	{object}	PingResponse
//
//	@Failure		401	{object}	types.Error
//	@Failure		500	{object}	types.Error
//
//	@Router			/v1/ping/ [get]
func (h *Handler) Ping(c echo.Context) error {
	_, span := tracer.Start(c.Request().Context(), "Ping")
	defer span.End()

	key, ok := c.Get("auth").(*models.OperatorKey)
	if !ok {
		span.RecordError(errTypeAssertMismatch)
		span.SetStatus(codes.Error, fmt.Sprintf("auth: %s", errTypeAssertMismatch))
		return internalServerError
	}

	span.SetAttributes(
		attribute.String("auth.note", key.Note),
		attribute.String("auth.id", key.ID.String()),
	)

	span.AddEvent("received ping")

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "")
	return c.JSON(http.StatusOK, PingResponse{Status: "ready"})
}
