// Package router registers the HTTP routes of the reservation API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/court-reservation/internal/handler"
	"github.com/iliyamo/court-reservation/internal/middleware"
)

// Deps carries everything the routes need.  Sandbox is nil unless the
// in-process gateway is active; RateLimit may be nil to disable throttling.
type Deps struct {
	Booking   *handler.BookingHandler
	Admin     *handler.AdminHandler
	Sandbox   *handler.SandboxHandler
	Ready     echo.HandlerFunc
	RateLimit echo.MiddlewareFunc
	JWTSecret string
}

// RegisterRoutes mounts the probes, the public checkout under /v1 and the
// staff API under /v1/admin.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health)
	if d.Ready != nil {
		e.GET("/readyz", d.Ready)
	}

	limit := d.RateLimit
	if limit == nil {
		limit = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}

	v1 := e.Group("/v1")
	v1.GET("/courts/:id/availability", d.Booking.Availability)
	v1.POST("/holds", d.Booking.CreateHold, limit)
	v1.GET("/holds/:id", d.Booking.GetHold)
	v1.POST("/holds/:id/renew", d.Booking.RenewHold, limit)
	v1.DELETE("/holds/:id", d.Booking.ReleaseHold)
	v1.POST("/holds/:id/payments", d.Booking.BeginPayment, limit)
	v1.GET("/payments/return", d.Booking.PaymentReturn)
	v1.POST("/payments/return", d.Booking.PaymentReturn)
	v1.GET("/payments/:token", d.Booking.PaymentStatus)
	v1.POST("/payments/:token/complete", d.Booking.CompletePayment, limit)
	v1.GET("/reservations/:code", d.Booking.GetReservation)

	// Per-complex routes check the OWNER's complex in the handler.  Routes
	// that span complexes or move money are ADMIN only.
	admin := e.Group("/v1/admin")
	admin.Use(middleware.JWTAuth(d.JWTSecret))
	admin.Use(middleware.RequireRole(middleware.RoleOwner, middleware.RoleAdmin))
	admin.POST("/reservations", d.Admin.BookDirect)
	admin.POST("/reservations/:code/cancel", d.Admin.CancelReservation)
	admin.GET("/reservations/:code/payments", d.Admin.PaymentHistory)
	admin.GET("/complexes/:id/deposits/:date", d.Admin.GetDeposit)
	admin.POST("/complexes/:id/deposits/:date", d.Admin.GenerateDeposit)
	admin.GET("/complexes/:id/ledger", d.Admin.LedgerEntries)
	admin.PUT("/ledger/reservations/:id/:kind", d.Admin.CorrectLedger)

	adminOnly := middleware.RequireRole(middleware.RoleAdmin)
	admin.GET("/anomalies", d.Admin.ListAnomalies, adminOnly)
	admin.POST("/payments/:order_id/recover", d.Admin.RecoverPayment, adminOnly)
	admin.POST("/payments/:order_id/refund", d.Admin.RefundPayment, adminOnly)
	admin.POST("/deposits/:date/generate", d.Admin.GenerateDeposits, adminOnly)
	admin.POST("/deposits/:id/paid", d.Admin.MarkDepositPaid, adminOnly)
	admin.POST("/ledger/backfill", d.Admin.BackfillLedger, adminOnly)

	if d.Sandbox != nil {
		e.GET("/sandbox/pay", d.Sandbox.Pay)
	}
}
