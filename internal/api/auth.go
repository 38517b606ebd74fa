package api

import (
	"net/http"
	"pricing-service/internal/tenant"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const claimsKey = "claims"

// JwtCustomClaims identify the caller, the tenant and the store they act for.
type JwtCustomClaims struct {
	UserID  int64  `json:"user_id"`
	Tenant  string `json:"tenant"`
	StoreID int64  `json:"store_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// TenantSet reports whether a tenant is served by this instance.
type TenantSet interface {
	Has(key string) bool
}

func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(secret),
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(JwtCustomClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
		},
	})
}

// TenantMiddleware moves the tenant of the token onto the request context.
func TenantMiddleware(tenants TenantSet) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or missing token"})
			}
			claims, ok := token.Claims.(*JwtCustomClaims)
			if !ok || claims.StoreID <= 0 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid token claims"})
			}
			if !tenants.Has(claims.Tenant) {
				return c.JSON(http.StatusForbidden, map[string]string{"error": "unknown tenant"})
			}

			ctx := tenant.WithTenant(c.Request().Context(), claims.Tenant)
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims := claimsFrom(c)
			for _, role := range roles {
				if claims != nil && claims.Role == role {
					return next(c)
				}
			}
			return c.JSON(http.StatusForbidden, map[string]string{"error": "insufficient role"})
		}
	}
}

func claimsFrom(c echo.Context) *JwtCustomClaims {
	claims, _ := c.Get(claimsKey).(*JwtCustomClaims)
	return claims
}
