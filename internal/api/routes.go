package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type Handlers struct {
	Pricing   *PricingHandler
	Rules     *RuleHandler
	Documents *DocumentHandler
}

// Register mounts the health check and the authenticated /api/v1 routes on e.
func Register(e *echo.Echo, jwtSecret string, tenants TenantSet, h Handlers) {
	e.Validator = NewValidator()

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "pricing-service",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	v1 := e.Group("/api/v1", JWTMiddleware(jwtSecret), TenantMiddleware(tenants))
	admin := RequireRole("admin", "manager")

	v1.POST("/pricing/evaluate", h.Pricing.Evaluate)

	v1.GET("/pricing-rules", h.Rules.ListRules)
	v1.GET("/pricing-rules/:id", h.Rules.GetRule)
	v1.POST("/pricing-rules", h.Rules.CreateRule, admin)
	v1.PUT("/pricing-rules/:id", h.Rules.UpdateRule, admin)
	v1.PATCH("/pricing-rules/:id", h.Rules.PatchRule, admin)
	v1.DELETE("/pricing-rules/:id", h.Rules.DeactivateRule, admin)

	v1.POST("/documents", h.Documents.CreateDocument)
	v1.GET("/documents/:id", h.Documents.GetDocument)
	v1.PUT("/documents/:id", h.Documents.UpdateDocument)
	v1.POST("/documents/:id/finalize", h.Documents.FinalizeDocument)
	v1.POST("/documents/:id/cancel", h.Documents.CancelDocument)
}
