package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/yapeepee/phone-music-tracker-sub000/internal/models"
	"github.com/yapeepee/phone-music-tracker-sub000/pkg/utils"
)

// AuthJWTMiddleware verifies bearer tokens minted by the external session
// service and puts the caller into the request context. No user store lookup
// happens here; the token claims are the identity.
func (mw *MiddlewareManager) AuthJWTMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			bearerHeader := c.Request().Header.Get("Authorization")
			if bearerHeader == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			headerParts := strings.Split(bearerHeader, " ")
			if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "Bearer") {
				mw.logger.Errorf("auth middleware: malformed Authorization header, RequestID: %s", utils.GetRequestID(c))
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			claims, err := utils.ValidateToken(headerParts[1], mw.cfg.Server.JwtSecretKey)
			if err != nil {
				mw.logger.Errorf("auth middleware: %v, RequestID: %s", err, utils.GetRequestID(c))
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			userID, err := uuid.Parse(claims.UserID)
			if err != nil {
				mw.logger.Errorf("auth middleware: invalid user id claim: %v", err)
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			}

			user := &models.User{
				UserID:   userID,
				Username: claims.Username,
			}
			ctx := context.WithValue(c.Request().Context(), utils.UserCtxKey{}, user)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
