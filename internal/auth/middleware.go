package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const claimsKey = "auth.claims"

// Middleware пропускает только запросы с действительным bearer-токеном и
// кладет его Claims в контекст echo.
func Middleware(issuer *Issuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := issuer.Verify(BearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
			if err != nil {
				return c.JSON(http.StatusUnauthorized, map[string]any{
					"error": map[string]string{
						"code":    "UNAUTHORIZED",
						"message": "not authorized, token failed",
					},
				})
			}
			c.Set(claimsKey, claims)
			return next(c)
		}
	}
}

// FromContext возвращает Claims текущего запроса
func FromContext(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(claimsKey).(*Claims)
	return claims, ok
}
