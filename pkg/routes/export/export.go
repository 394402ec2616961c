package export

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/exporting"
	"github.com/Ramsey-B/fern/pkg/requestcontext"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// Register registers manifest export routes
func Register(g *echo.Group) {
	g.POST("", Create)
	g.POST("/certificates", Certificates)
}

// Create builds a full signed manifest for the owner and streams it back as a
// zip attachment.
func Create(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "export_handler.Create")
	defer span.End()

	ownerKey := c.Param("owner_key")
	if ownerKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "owner_key is required")
	}
	consumerUUID := c.QueryParam("consumer_uuid")
	if consumerUUID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "consumer_uuid is required")
	}
	principal := c.QueryParam("principal")
	if principal == "" {
		principal = requestcontext.GetPrincipal(ctx)
	}

	ctx, exporter, err := ectoinject.GetContext[*exporting.Exporter](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get exporter")
	}

	var buf bytes.Buffer
	if err := exporter.Export(ctx, ownerKey, consumerUUID, principal, &buf); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to export manifest")
	}

	return writeArchive(c, consumerUUID, &buf)
}

// Certificates builds a reduced manifest carrying only the entitlement
// certificates named by the repeated serials query parameter. No serials
// exports every certificate.
func Certificates(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "export_handler.Certificates")
	defer span.End()

	ownerKey := c.Param("owner_key")
	if ownerKey == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "owner_key is required")
	}
	consumerUUID := c.QueryParam("consumer_uuid")
	if consumerUUID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "consumer_uuid is required")
	}
	principal := c.QueryParam("principal")
	if principal == "" {
		principal = requestcontext.GetPrincipal(ctx)
	}

	serials, err := serialTokens(c)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, exporter, err := ectoinject.GetContext[*exporting.Exporter](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get exporter")
	}

	var buf bytes.Buffer
	if err := exporter.ExportCertificates(ctx, ownerKey, consumerUUID, principal, serials, &buf); err != nil {
		if httperror.IsHTTPError(err) {
			return err
		}
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to export certificates")
	}

	return writeArchive(c, consumerUUID, &buf)
}

func writeArchive(c echo.Context, consumerUUID string, buf *bytes.Buffer) error {
	fileName := fmt.Sprintf("%s-export.zip", consumerUUID)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", fileName))
	return c.Blob(http.StatusOK, "application/zip", buf.Bytes())
}

func serialTokens(c echo.Context) ([]int64, error) {
	var serials []int64
	for _, raw := range c.QueryParams()["serials"] {
		for _, token := range strings.Split(raw, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			serial, err := strconv.ParseInt(token, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid certificate serial %q", token)
			}
			serials = append(serials, serial)
		}
	}
	return serials, nil
}
