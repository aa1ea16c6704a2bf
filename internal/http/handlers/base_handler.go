// README: Shared handler utilities: JSON views and error mapping.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/modules/location"
	"foodcourt/internal/modules/order"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrOTPMismatch):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState),
		errors.Is(err, order.ErrConflict),
		errors.Is(err, order.ErrCourierBusy),
		errors.Is(err, order.ErrAlreadyClaimed):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrBadPosition):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// Views. The delivery code is exposed to the customer only; owners and
// couriers never see it over the API.

type lineItemView struct {
	ItemID    string `json:"item_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note,omitempty"`
}

type shopOrderView struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	ShopID         string         `json:"shop_id"`
	SubTotal       int64          `json:"sub_total"`
	DeliveryFee    int64          `json:"delivery_fee"`
	PaymentSettled bool           `json:"payment_settled"`
	DeliveryOTP    string         `json:"delivery_otp,omitempty"`
	CourierID      string         `json:"courier_id,omitempty"`
	Status         order.Status   `json:"status"`
	CancelReason   string         `json:"cancel_reason,omitempty"`
	DeliveredAt    *time.Time     `json:"delivered_at,omitempty"`
	Items          []lineItemView `json:"items"`
}

type orderView struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customer_id"`
	PaymentMethod    order.PaymentMethod `json:"payment_method"`
	AddressID        string              `json:"address_id"`
	TotalItemsPrice  int64               `json:"total_items_price"`
	TotalDeliveryFee int64               `json:"total_delivery_fee"`
	TotalAmount      int64               `json:"total_amount"`
	CreatedAt        time.Time           `json:"created_at"`
	ShopOrders       []shopOrderView     `json:"shop_orders"`
}

func viewShopOrder(so *order.ShopOrder, includeOTP bool) shopOrderView {
	v := shopOrderView{
		ID:             string(so.ID),
		OrderID:        string(so.OrderID),
		ShopID:         string(so.ShopID),
		SubTotal:       so.SubTotal,
		DeliveryFee:    so.DeliveryFee,
		PaymentSettled: so.PaymentSettled,
		Status:         so.Status,
		DeliveredAt:    so.DeliveredAt,
	}
	if includeOTP {
		v.DeliveryOTP = so.DeliveryOTP
	}
	if so.CourierID != nil {
		v.CourierID = string(*so.CourierID)
	}
	if so.CancelReason != nil {
		v.CancelReason = *so.CancelReason
	}
	for _, it := range so.Items {
		v.Items = append(v.Items, lineItemView{
			ItemID:    string(it.ItemID),
			Name:      it.Name,
			UnitPrice: it.UnitPrice,
			Quantity:  it.Quantity,
			Note:      it.Note,
		})
	}
	return v
}

func viewOrder(o *order.Order, includeOTP bool) orderView {
	v := orderView{
		ID:               string(o.ID),
		CustomerID:       string(o.CustomerID),
		PaymentMethod:    o.PaymentMethod,
		AddressID:        string(o.AddressID),
		TotalItemsPrice:  o.TotalItemsPrice,
		TotalDeliveryFee: o.TotalDeliveryFee,
		TotalAmount:      o.TotalAmount,
		CreatedAt:        o.CreatedAt,
	}
	for i := range o.ShopOrders {
		v.ShopOrders = append(v.ShopOrders, viewShopOrder(&o.ShopOrders[i], includeOTP))
	}
	return v
}
