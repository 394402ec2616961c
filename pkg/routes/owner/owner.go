package owner

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/owner"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

var validate = validator.New()

// Register registers owner routes
func Register(g *echo.Group) {
	g.GET("", List)
	g.POST("", Create)
	g.GET("/:owner_key", Get)
	g.DELETE("/:owner_key", Delete)
}

// CreateOwnerRequest is the payload for creating an owner
type CreateOwnerRequest struct {
	Key         string `json:"key" validate:"required"`
	DisplayName string `json:"displayName" validate:"required"`
}

// List returns all owners
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "owner_handler.List")
	defer span.End()

	ctx, repo, err := ectoinject.GetContext[*owner.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	owners, err := repo.List(ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list owners")
	}

	return c.JSON(http.StatusOK, owners)
}

// Create creates a new owner
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "owner_handler.Create")
	defer span.End()

	var req CreateOwnerRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, repo, err := ectoinject.GetContext[*owner.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	existing, err := repo.GetByKey(ctx, req.Key)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to check existing owner")
	}
	if existing != nil {
		return httperror.NewHTTPError(http.StatusConflict, "owner with this key already exists")
	}

	result, err := repo.Create(ctx, req.Key, req.DisplayName)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to create owner")
	}

	return c.JSON(http.StatusCreated, result)
}

// Get returns a single owner by key
func Get(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "owner_handler.Get")
	defer span.End()

	key := c.Param("owner_key")

	ctx, repo, err := ectoinject.GetContext[*owner.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	result, err := repo.GetByKey(ctx, key)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get owner")
	}
	if result == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "owner not found")
	}

	return c.JSON(http.StatusOK, result)
}

// Delete soft deletes an owner
func Delete(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "owner_handler.Delete")
	defer span.End()

	key := c.Param("owner_key")

	ctx, repo, err := ectoinject.GetContext[*owner.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	existing, err := repo.GetByKey(ctx, key)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get owner")
	}
	if existing == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "owner not found")
	}

	if err := repo.Delete(ctx, existing.ID); err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to delete owner")
	}

	return c.NoContent(http.StatusNoContent)
}
