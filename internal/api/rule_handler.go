package api

import (
	"io"
	"net/http"
	"pricing-service/internal/entity"
	"pricing-service/internal/service"
	"strconv"

	"github.com/labstack/echo/v4"
)

type RuleHandler struct {
	ruleService *service.RuleService
}

// NewRuleHandler creates a new instance of RuleHandler
func NewRuleHandler(ruleService *service.RuleService) *RuleHandler {
	return &RuleHandler{ruleService: ruleService}
}

// ListRules --> GET /api/v1/pricing-rules?include_inactive=true
func (h *RuleHandler) ListRules(c echo.Context) error {
	includeInactive, _ := strconv.ParseBool(c.QueryParam("include_inactive"))
	rules, err := h.ruleService.List(c.Request().Context(), claimsFrom(c).StoreID, includeInactive)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, rules)
}

// GetRule --> GET /api/v1/pricing-rules/:id
func (h *RuleHandler) GetRule(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	rule, err := h.ruleService.Get(c.Request().Context(), claimsFrom(c).StoreID, id)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, rule)
}

// CreateRule --> POST /api/v1/pricing-rules
func (h *RuleHandler) CreateRule(c echo.Context) error {
	rule := entity.PricingRule{}
	if err := c.Bind(&rule); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	rule.StoreID = claimsFrom(c).StoreID

	created, err := h.ruleService.Create(c.Request().Context(), &rule)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

// UpdateRule --> PUT /api/v1/pricing-rules/:id
func (h *RuleHandler) UpdateRule(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	rule := entity.PricingRule{}
	if err := c.Bind(&rule); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}
	rule.ID = id
	rule.StoreID = claimsFrom(c).StoreID

	updated, err := h.ruleService.Update(c.Request().Context(), &rule)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

// PatchRule applies a JSON Patch document --> PATCH /api/v1/pricing-rules/:id
func (h *RuleHandler) PatchRule(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	patch, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request payload"})
	}

	patched, err := h.ruleService.Patch(c.Request().Context(), claimsFrom(c).StoreID, id, patch)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(http.StatusOK, patched)
}

// DeactivateRule --> DELETE /api/v1/pricing-rules/:id
func (h *RuleHandler) DeactivateRule(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return errorJSON(c, err)
	}
	if err := h.ruleService.Deactivate(c.Request().Context(), claimsFrom(c).StoreID, id); err != nil {
		return errorJSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
