package api

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"pricing-service/internal/repository"
	"pricing-service/internal/service"
	"pricing-service/internal/tenant"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Str("component", "api").Logger()

func statusOf(err error) int {
	var httpErr *echo.HTTPError
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.Is(err, service.ErrInvalidRule), errors.Is(err, service.ErrInvalidDocument):
		return http.StatusBadRequest
	case errors.Is(err, repository.ErrRuleNotFound), errors.Is(err, repository.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDocumentNotDraft), errors.Is(err, service.ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, service.ErrIdempotentKeyReused):
		return http.StatusUnprocessableEntity
	case errors.Is(err, tenant.ErrMissingTenant), errors.Is(err, tenant.ErrUnknownTenant):
		return http.StatusForbidden
	case errors.Is(err, service.ErrRulesUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorJSON writes err as {"error": msg}. Internal errors are logged and not echoed.
func errorJSON(c echo.Context, err error) error {
	status := statusOf(err)
	message := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		message = fmt.Sprint(httpErr.Message)
	}
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Msgf("%s %s", c.Request().Method, c.Path())
		message = "internal server error"
	}
	return c.JSON(status, map[string]string{"error": message})
}

func paramID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid ID")
	}
	return id, nil
}
