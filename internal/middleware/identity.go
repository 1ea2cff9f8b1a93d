package middleware

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

// UserID returns the authenticated staff member stored by JWTAuth.  The
// subject claim may arrive as a JSON number or a numeric string.
func UserID(c echo.Context) (uint64, bool) {
	return uintClaim(c.Get("user_id"))
}

// ComplexID returns the complex an OWNER token is bound to.
func ComplexID(c echo.Context) (uint64, bool) {
	return uintClaim(c.Get("complex_id"))
}

// CanAccessComplex reports whether the caller may act on complexID.  ADMIN
// reaches every complex; OWNER only the one named in its token.
func CanAccessComplex(c echo.Context, complexID uint64) bool {
	switch c.Get("role") {
	case RoleAdmin:
		return true
	case RoleOwner:
		own, ok := ComplexID(c)
		return ok && own != 0 && own == complexID
	}
	return false
}

func uintClaim(v any) (uint64, bool) {
	switch t := v.(type) {
	case uint64:
		return t, t > 0
	case int64:
		return uint64(t), t > 0
	case float64:
		return uint64(t), t > 0
	case string:
		n, err := strconv.ParseUint(t, 10, 64)
		return n, err == nil && n > 0
	}
	return 0, false
}
