// README: Payment gateway callback handler.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/modules/order"
	"foodcourt/internal/types"
)

type PaymentHandler struct {
	order *order.Service
}

func NewPaymentHandler(svc *order.Service) *PaymentHandler {
	return &PaymentHandler{order: svc}
}

type paymentCallbackReq struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
}

// Callback marks the order settled when the gateway reports success. Failed
// payments are acknowledged without a state change; the order stays payable
// on delivery.
func (h *PaymentHandler) Callback(c *gin.Context) {
	var req paymentCallbackReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if req.OrderID == "" {
		writeError(c, http.StatusBadRequest, "missing order_id")
		return
	}
	if req.Status != "success" {
		writeJSON(c, http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := h.order.SettlePayment(c.Request.Context(), types.ID(req.OrderID)); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "settled"})
}
