package ops

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/classgrade/gradepipe/internal/audit"
	"github.com/classgrade/gradepipe/internal/models"
	"github.com/classgrade/gradepipe/internal/types"
)

// ListAttention returns the operator attention set
//
//	@Summary		List attention items
//	@Description	failures the pipeline gave up on, oldest first. Resolved items are excluded unless resolved=true.
//	@Tags			attention
//	@Accept			json
//	@Produce		json
//
//	@Security		BasicAuth
//
//	@Param			resolved	query		bool	false	"include resolved items"
//
//	@Success		200			{array}		AttentionItemResponse
//
//	@Failure		400			{object}	types.Error
//	@Failure		401			{object}	types.Error
//	@Failure		500			{object}	types.Error
//
//	@Router			/v1/attention/ [get]
func (h *Handler) ListAttention(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ListAttention")
	defer span.End()

	type requestData struct {
		Resolved bool `query:"resolved"`
	}
	var rdata requestData

	span.AddEvent("parsing request data")
	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse request data")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("failed to parse request data"),
		)
	}

	span.SetAttributes(attribute.Bool("include_resolved", rdata.Resolved))

	span.AddEvent("listing attention items")
	items, err := h.store.ListAttention(ctx, rdata.Resolved)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list attention items")
		return internalServerError
	}

	resp := make([]AttentionItemResponse, 0, len(items))
	for i := range items {
		resp = append(resp, attentionItemResponse(&items[i]))
	}

	span.SetAttributes(attribute.Int("count", len(resp)))
	span.RecordError(nil)
	span.SetStatus(codes.Ok, "listed attention items")
	return c.JSON(http.StatusOK, resp)
}

// ResolveAttention marks an attention item handled
//
//	@Summary		Resolve an attention item
//	@Description	mark a failure as handled so it drops out of the default listing. Resolving twice is a no-op.
//	@Tags			attention
//	@Accept			json
//	@Produce		json
//
//	@Security		BasicAuth
//
//	@Param			id	path		string	true	"Attention Item ID"	Format(uuid)
//
//	@Success		200	{object}	AttentionItemResponse
//
//	@Failure		400	{object}	types.Error
//	@Failure		401	{object}	types.Error
//	@Failure		404	{object}	types.Error
//	@Failure		500	{object}	types.Error
//
//	@Router			/v1/attention/{id}/resolve/ [post]
func (h *Handler) ResolveAttention(c echo.Context) error {
	ctx, span := tracer.Start(c.Request().Context(), "ResolveAttention")
	defer span.End()

	type requestData struct {
		ID string `param:"id" validate:"required,uuid_rfc4122"`
	}
	var rdata requestData

	span.AddEvent("parsing request data")
	err := c.Bind(&rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse request data")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("failed to parse request data"),
		)
	}

	span.AddEvent("validating request data")
	err = c.Validate(rdata)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to validate request data")
		span.RecordError(err)
		return echo.NewHTTPError(http.StatusBadRequest, types.ValidationError(err))
	}

	id, err := uuid.Parse(rdata.ID)
	if err != nil {
		span.SetStatus(codes.Ok, "failed to parse id as a uuid")
		span.RecordError(err)
		return echo.NewHTTPError(
			http.StatusBadRequest,
			types.StringError("id must be a uuid"),
		)
	}

	span.SetAttributes(attribute.String("attention.id", id.String()))

	span.AddEvent("fetching attention item")
	item, err := h.store.AttentionFor(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch attention item")
		return internalServerError
	}
	if item == nil {
		span.SetStatus(codes.Ok, "attention item not found")
		span.RecordError(nil)
		return notFoundError
	}

	span.AddEvent("resolving attention item")
	err = h.store.ResolveAttention(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			span.SetStatus(codes.Ok, "attention item not found")
			span.RecordError(err)
			return notFoundError
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to resolve attention item")
		return internalServerError
	}

	audit.LogAttentionResolved(
		audit.Context{CourseID: h.config.Course.ID},
		id.String(),
		item.Stage,
	)

	item.Resolved = models.NewNullFromData(true)

	span.RecordError(nil)
	span.SetStatus(codes.Ok, "resolved attention item")
	return c.JSON(http.StatusOK, attentionItemResponse(item))
}
