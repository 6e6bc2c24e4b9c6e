package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks and the anonymous
// stock search and emergency board.
var publicPaths = map[string]bool{
	"/health":                           true,
	"/health/db":                        true,
	"/api/v1/public/search":             true,
	"/api/v1/public/requests/emergency": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

func IsPublicPath(path string) bool {
	return publicPaths[strings.TrimRight(path, "/")]
}
