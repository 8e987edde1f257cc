package middleware

import "github.com/labstack/echo/v4"

// Subject returns the authenticated caller, or "anon" when the request
// carried no token.
func Subject(c echo.Context) string {
	if s, ok := c.Get(ctxUserID).(string); ok && s != "" {
		return s
	}
	return "anon"
}

// Role returns the caller's role claim in upper case, or "".
func Role(c echo.Context) string {
	s, _ := c.Get(ctxRole).(string)
	return s
}
