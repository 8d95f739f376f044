package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"

	"github.com/adavenue/ticketing/internal/handler"
	"github.com/adavenue/ticketing/internal/middleware"
	"github.com/adavenue/ticketing/internal/model"
)

// RegisterRoutes registers routes that do not require authentication on
// the provided Echo instance.  Currently it exposes only a health check.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
}

// RegisterAuth registers the authentication routes and the protected
// profile endpoint.  Unauthenticated operations live under /v1/auth,
// while protected endpoints live under /v1.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Refresh rotates the refresh token; the old one is revoked.
	g.POST("/refresh", a.Refresh)
	// Logout works with either a bearer token (all sessions) or a
	// refresh token in the body (one session), so no JWT middleware here.
	g.POST("/logout", a.Logout)

	auth := e.Group("/v1")
	auth.Use(middleware.JWTAuth(jwtSecret))
	auth.Use(middleware.RequireRole(model.RoleUser, model.RoleOrganizer, model.RoleAdmin))
	auth.GET("/me", a.Me)
}

// RegisterEvents registers the public catalog routes and the admin
// management routes.  Public reads go through the response cache;
// mutations require an admin token.
func RegisterEvents(e *echo.Echo, h *handler.EventHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	pub := e.Group("/v1/events")
	if cache != nil {
		pub.Use(cache)
	}
	pub.GET("", h.List)
	pub.GET("/:id", h.Get)

	admin := e.Group("/v1/events")
	admin.Use(middleware.JWTAuth(jwtSecret))
	admin.Use(middleware.RequireRole(model.RoleAdmin))
	admin.POST("", h.Create)
	admin.PUT("/:id", h.Update)
	admin.DELETE("/:id", h.Delete)
}

// RegisterBookings registers the booking routes.  Every route requires a
// valid access token; the rate limiter runs first so bursts are shed
// before hitting the database.
func RegisterBookings(e *echo.Echo, h *handler.BookingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group("/v1/bookings")
	if limiter != nil {
		g.Use(limiter)
	}
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(model.RoleUser, model.RoleOrganizer, model.RoleAdmin))
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Cancel)
}
