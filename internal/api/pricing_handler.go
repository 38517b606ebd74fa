package api

import (
	"net/http"
	"pricing-service/internal/entity"
	"pricing-service/internal/service"
	"time"

	"github.com/labstack/echo/v4"
)

// PricingHandler handles pricing evaluation requests.
type PricingHandler struct {
	pricingService *service.PricingService
}

// NewPricingHandler creates a new PricingHandler instance.
func NewPricingHandler(pricingService *service.PricingService) *PricingHandler {
	return &PricingHandler{pricingService: pricingService}
}

type EvaluateRequest struct {
	Items  []entity.LineItem    `json:"items" validate:"required,min=1,dive"`
	Client entity.ClientContext `json:"client"`
	AsOf   *time.Time           `json:"as_of"`
}

// Evaluate prices a cart for the caller's store --> POST /api/v1/pricing/evaluate
func (h *PricingHandler) Evaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request payload"})
	}
	if err := c.Validate(&req); err != nil {
		return errorJSON(c, err)
	}

	var asOf time.Time
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	result, err := h.pricingService.Evaluate(c.Request().Context(), claimsFrom(c).StoreID, req.Items, req.Client, asOf)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
