package http

import (
	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	lecturerTokenKey = "lecturerToken"
	// StudentHeader carries the student-session ID on student calls.
	StudentHeader = "X-Student-Session-ID"
)

// LecturerClaims are issued by the auth service; this service only verifies them.
type LecturerClaims struct {
	jwt.StandardClaims
	Roles []string `json:"roles,omitempty"`
}

func (c *LecturerClaims) hasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func lecturerJWT(secret string) echo.MiddlewareFunc {
	return middleware.JWTWithConfig(middleware.JWTConfig{
		SigningKey:    []byte(secret),
		SigningMethod: middleware.AlgorithmHS256,
		ContextKey:    lecturerTokenKey,
		Claims:        &LecturerClaims{},
	})
}

// requireRole rejects tokens that lack the lecturer role.
func requireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := contextClaims(c)
			if err != nil {
				return err
			}
			if role != "" && !claims.hasRole(role) {
				return errForbidden
			}
			return next(c)
		}
	}
}

func contextClaims(c echo.Context) (*LecturerClaims, error) {
	if token, ok := c.Get(lecturerTokenKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*LecturerClaims); ok && claims.Subject != "" {
			return claims, nil
		}
	}
	return nil, errUnauthorized
}

func lecturerID(c echo.Context) (string, error) {
	claims, err := contextClaims(c)
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func studentID(c echo.Context) (string, error) {
	id := c.Request().Header.Get(StudentHeader)
	if id == "" {
		return "", errMissingStudent
	}
	return id, nil
}
