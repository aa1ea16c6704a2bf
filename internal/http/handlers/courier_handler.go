// README: Courier handlers: browse, claim, confirm delivery, history.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/http/middleware"
	"foodcourt/internal/modules/order"
	"foodcourt/internal/types"
)

type CourierHandler struct {
	order *order.Service
}

func NewCourierHandler(svc *order.Service) *CourierHandler {
	return &CourierHandler{order: svc}
}

type availableView struct {
	shopOrderView
	ShopName   string  `json:"shop_name"`
	DistanceKm float64 `json:"distance_km"`
}

// ListAvailable shows dispatched unclaimed shop orders near the courier's
// last-reported position.
func (h *CourierHandler) ListAvailable(c *gin.Context) {
	courierID := types.ID(middleware.CallerUID(c))
	open, err := h.order.AvailableFor(c.Request.Context(), courierID)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	views := make([]availableView, 0, len(open))
	for i := range open {
		views = append(views, availableView{
			shopOrderView: viewShopOrder(&open[i].ShopOrder, false),
			ShopName:      open[i].ShopName,
			DistanceKm:    open[i].DistanceKm,
		})
	}
	writeJSON(c, http.StatusOK, gin.H{"shop_orders": views})
}

func (h *CourierHandler) Claim(c *gin.Context) {
	so, err := h.order.Claim(c.Request.Context(), order.ClaimCommand{
		OrderID:     types.ID(c.Param("id")),
		ShopOrderID: types.ID(c.Param("sid")),
		CourierID:   types.ID(middleware.CallerUID(c)),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewShopOrder(so, false))
}

type verifyOTPReq struct {
	OTP string `json:"otp"`
}

func (h *CourierHandler) VerifyOTP(c *gin.Context) {
	var req verifyOTPReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	so, err := h.order.VerifyOTP(c.Request.Context(), order.VerifyOTPCommand{
		OrderID:     types.ID(c.Param("id")),
		ShopOrderID: types.ID(c.Param("sid")),
		CourierID:   types.ID(middleware.CallerUID(c)),
		OTP:         req.OTP,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewShopOrder(so, false))
}

func (h *CourierHandler) Active(c *gin.Context) {
	so, err := h.order.ActiveDelivery(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, viewShopOrder(so, false))
}

func (h *CourierHandler) Delivered(c *gin.Context) {
	sos, err := h.order.DeliveredFor(c.Request.Context(), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	views := make([]shopOrderView, 0, len(sos))
	for i := range sos {
		views = append(views, viewShopOrder(&sos[i], false))
	}
	writeJSON(c, http.StatusOK, gin.H{"shop_orders": views})
}
