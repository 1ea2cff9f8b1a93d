package handler

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/court-reservation/internal/gateway"
)

// SandboxHandler stands in for the gateway's payment page when the server
// runs against the in-process gateway.  The customer is redirected here,
// picks an outcome and is sent on to the regular return URL.
type SandboxHandler struct {
	gw        *gateway.Fake
	returnURL string
}

// NewSandboxHandler returns a SandboxHandler.
func NewSandboxHandler(gw *gateway.Fake, returnURL string) *SandboxHandler {
	return &SandboxHandler{gw: gw, returnURL: returnURL}
}

// Pay handles GET /sandbox/pay?token_ws=...&decision=approve|decline.
// Without a decision it describes the choices.
func (h *SandboxHandler) Pay(c echo.Context) error {
	token := c.QueryParam("token_ws")
	if token == "" {
		return badRequest(c, "missing token_ws")
	}
	var err error
	switch c.QueryParam("decision") {
	case "approve":
		err = h.gw.Approve(token)
	case "decline":
		err = h.gw.Decline(token)
	case "":
		self := c.Request().URL.Path + "?token_ws=" + url.QueryEscape(token)
		return c.JSON(http.StatusOK, echo.Map{
			"token":   token,
			"approve": self + "&decision=approve",
			"decline": self + "&decision=decline",
		})
	default:
		return badRequest(c, "decision must be approve or decline")
	}
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	}
	return c.Redirect(http.StatusSeeOther, h.returnURL+"?token_ws="+url.QueryEscape(token))
}
