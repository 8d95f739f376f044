package middleware

// identity.go provides the client identity used by rate limiting and
// caching keys: the authenticated user ID when present, otherwise
// "guest".

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

// userID returns the authenticated user's ID from the context as a
// string.  JWT numeric claims arrive as float64; other shapes fall back
// to "guest" so anonymous traffic shares one bucket.
func userID(c echo.Context) string {
	switch v := c.Get("user_id").(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return fmt.Sprintf("%.0f", v)
	case uint64:
		return fmt.Sprintf("%d", v)
	}
	return "guest"
}
