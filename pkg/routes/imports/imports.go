package imports

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/importrecord"
	"github.com/Ramsey-B/fern/internal/repositories/owner"
	"github.com/Ramsey-B/fern/pkg/importing"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers manifest import routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.GET("", List)
}

// Create uploads and applies a manifest archive for the owner. Conflicts can
// be overridden with repeated force query parameters naming the conflict
// kinds to bypass.
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "imports_handler.Create")
	defer span.End()

	ownerKey := c.Param("owner_key")
	if ownerKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "owner_key is required")
	}

	overrides, err := models.ParseConflictOverrides(forceTokens(c))
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	file, err := c.FormFile("import")
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "import file is required")
	}

	src, err := file.Open()
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to open import file")
	}
	defer src.Close()

	ctx, importer, err := ectoinject.GetContext[*importing.Importer](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get importer")
	}

	record, err := importer.Import(ctx, ownerKey, src, file.Filename, overrides)
	if err != nil {
		if conflictErr, ok := importing.AsConflictError(err); ok {
			return c.JSON(http.StatusConflict, conflictResponse{
				DisplayMessage: conflictErr.Error(),
				Conflicts:      conflictErr.Kinds(),
			})
		}
		if formatErr, ok := importing.AsDataFormatError(err); ok {
			return httperror.NewHTTPError(http.StatusBadRequest, formatErr.Error())
		}
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to import manifest")
	}

	return c.JSON(http.StatusOK, record)
}

// List returns the import history for the owner, newest first
func List(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "imports_handler.List")
	defer span.End()

	ownerKey := c.Param("owner_key")
	if ownerKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "owner_key is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	ctx, owners, err := ectoinject.GetContext[*owner.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	ownerRecord, err := owners.GetByKey(ctx, ownerKey)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get owner")
	}
	if ownerRecord == nil {
		return httperror.NewHTTPError(http.StatusNotFound, "owner not found")
	}

	ctx, repo, err := ectoinject.GetContext[*importrecord.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get repository")
	}

	records, totalCount, err := repo.ListByOwnerID(ctx, ownerRecord.ID, page, pageSize)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to list import records")
	}

	return c.JSON(http.StatusOK, listResponse{
		Items:      records,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	})
}

// forceTokens collects conflict override tokens from the repeated force query
// parameter, splitting comma separated values.
func forceTokens(c echo.Context) []string {
	var tokens []string
	for _, raw := range c.QueryParams()["force"] {
		for _, token := range strings.Split(raw, ",") {
			token = strings.TrimSpace(token)
			if token != "" {
				tokens = append(tokens, token)
			}
		}
	}
	return tokens
}

type conflictResponse struct {
	DisplayMessage string               `json:"displayMessage"`
	Conflicts      []models.ConflictKind `json:"conflicts"`
}

type listResponse struct {
	Items      []models.ImportRecord `json:"items"`
	TotalCount int                   `json:"total_count"`
	Page       int                   `json:"page"`
	PageSize   int                   `json:"page_size"`
}
