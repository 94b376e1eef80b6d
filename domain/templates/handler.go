package templates

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/veridoc-ai/veridoc/pkg/apperror"
	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Handler handles mapping template HTTP requests
type Handler struct {
	svc *Service
	log *slog.Logger
}

// NewHandler creates a new templates handler
func NewHandler(svc *Service, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log.With(logger.Scope("templates.handler")),
	}
}

// Create registers a new mapping template.
//
// @Summary      Create a mapping template
// @Description  Validates and stores a template definition. Column order is preserved and becomes the export column order.
// @Tags         templates
// @Accept       json
// @Produce      json
// @Param        request body CreateTemplateRequest true "Template definition"
// @Success      201 {object} MappingTemplate
// @Failure      400 {object} apperror.Error "Bad request"
// @Router       /templates [post]
func (h *Handler) Create(c echo.Context) error {
	var req CreateTemplateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.ErrBadRequest.WithMessage("invalid request body")
	}

	t, err := h.svc.Create(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, t)
}

// List returns all templates, optionally filtered by document type.
//
// @Summary      List mapping templates
// @Description  Returns templates with built-ins first, newest first within each group.
// @Tags         templates
// @Produce      json
// @Param        document_type query string false "Only templates for this document type"
// @Success      200 {array} MappingTemplate
// @Router       /templates [get]
func (h *Handler) List(c echo.Context) error {
	templates, err := h.svc.List(c.Request().Context(), c.QueryParam("document_type"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, templates)
}

// Get returns a single template.
//
// @Summary      Get a mapping template
// @Tags         templates
// @Produce      json
// @Param        id path string true "Template ID"
// @Success      200 {object} MappingTemplate
// @Failure      404 {object} apperror.Error "Not found"
// @Router       /templates/{id} [get]
func (h *Handler) Get(c echo.Context) error {
	t, err := h.svc.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, t)
}

// Delete removes a user template.
//
// @Summary      Delete a mapping template
// @Description  Built-in templates cannot be deleted.
// @Tags         templates
// @Param        id path string true "Template ID"
// @Success      204 "Deleted"
// @Failure      400 {object} apperror.Error "Built-in template"
// @Failure      404 {object} apperror.Error "Not found"
// @Router       /templates/{id} [delete]
func (h *Handler) Delete(c echo.Context) error {
	if err := h.svc.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Apply resolves a template against a job's extracted fields.
//
// @Summary      Apply a template to a job
// @Description  Returns the mapping report: which columns resolved to which fields, with scores, plus unmapped columns and warnings. Does not modify anything.
// @Tags         templates
// @Produce      json
// @Param        jobId path string true "Bulk job ID"
// @Param        template_id query string true "Template ID"
// @Success      200 {object} Resolution
// @Failure      400 {object} apperror.Error "Missing template_id"
// @Failure      404 {object} apperror.Error "Job or template not found"
// @Router       /templates/apply/{jobId} [post]
func (h *Handler) Apply(c echo.Context) error {
	templateID := c.QueryParam("template_id")
	if templateID == "" {
		return apperror.ErrBadRequest.WithMessage("template_id is required")
	}

	res, err := h.svc.Apply(c.Request().Context(), c.Param("jobId"), templateID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, res)
}
