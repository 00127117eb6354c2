package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// extractToken Authorization 헤더 또는 access_token 쿠키에서 토큰 추출
func extractToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		token := c.Cookies("access_token")
		return token, token != ""
	}

	// Bearer 토큰 파싱
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// AuthMiddleware JWT 인증 미들웨어
func AuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := extractToken(c)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing or malformed authorization token",
				"code":  "UNAUTHENTICATED",
			})
		}

		// 토큰 검증
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			if err == ErrExpiredToken {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"error": "token expired",
					"code":  "TOKEN_EXPIRED",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid token",
				"code":  "UNAUTHENTICATED",
			})
		}

		// 사용자 정보를 컨텍스트에 저장
		c.Locals("userID", claims.UserID())
		c.Locals("claims", claims)

		return c.Next()
	}
}

// UserIDFromContext 컨텍스트의 사용자 ID (없으면 빈 문자열)
func UserIDFromContext(c *fiber.Ctx) string {
	if userID, ok := c.Locals("userID").(string); ok {
		return userID
	}
	return ""
}

// GetClaimsFromContext 컨텍스트의 JWT 클레임
func GetClaimsFromContext(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok || claims == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// WebSocketAuthMiddleware WebSocket 업그레이드용 인증
// 브라우저는 헤더를 못 붙이므로 ?token= 쿼리도 허용하고, 실패 시 JSON 대신 상태 코드만 반환한다.
func WebSocketAuthMiddleware(jwtManager *JWTManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := extractToken(c)
		if !ok {
			token = c.Query("token")
		}
		if token == "" {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}

		c.Locals("userID", claims.UserID())
		c.Locals("claims", claims)
		return c.Next()
	}
}
