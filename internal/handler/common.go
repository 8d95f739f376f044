package handler

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

// sendSuccess and sendError write the JSON envelope every endpoint
// shares: {success, message, data} on the happy path and
// {success, message, errors} on rejection, with errors keyed by the
// offending field.
func sendSuccess(c echo.Context, status int, data any, message string) error {
	body := echo.Map{"success": true, "data": data}
	if message != "" {
		body["message"] = message
	}
	return c.JSON(status, body)
}

func sendError(c echo.Context, status int, message string, fieldErrors any) error {
	body := echo.Map{"success": false, "message": message}
	if fieldErrors != nil {
		body["errors"] = fieldErrors
	}
	return c.JSON(status, body)
}

// getUserID extracts the authenticated user's ID from the context, where
// the JWT middleware stored it.  JWT numeric claims decode as float64.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		return uint64(t), nil
	case string:
		if n, err := strconv.ParseUint(t, 10, 64); err == nil {
			return n, nil
		}
	}
	return 0, errors.New("invalid user_id in context")
}

// getRole returns the authenticated role, empty when absent.
func getRole(c echo.Context) string {
	if r, ok := c.Get("role").(string); ok {
		return r
	}
	return ""
}
