// README: Customer order handlers: place, list, get, cancel, owner status update.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/http/middleware"
	"foodcourt/internal/modules/order"
	"foodcourt/internal/types"
)

type OrderHandler struct {
	order *order.Service
}

func NewOrderHandler(svc *order.Service) *OrderHandler {
	return &OrderHandler{order: svc}
}

type cartLineReq struct {
	ItemID    string `json:"item_id"`
	ShopID    string `json:"shop_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	Note      string `json:"note"`
}

type placeOrderReq struct {
	PaymentMethod string        `json:"payment_method"`
	AddressID     string        `json:"address_id"`
	Lines         []cartLineReq `json:"lines"`
}

func (h *OrderHandler) Place(c *gin.Context) {
	var req placeOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	lines := make([]order.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, order.CartLine{
			ItemID:    types.ID(l.ItemID),
			ShopID:    types.ID(l.ShopID),
			Name:      l.Name,
			UnitPrice: l.UnitPrice,
			Quantity:  l.Quantity,
			Note:      l.Note,
		})
	}
	o, err := h.order.Place(c.Request.Context(), order.PlaceCommand{
		CustomerID:    types.ID(middleware.CallerUID(c)),
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		AddressID:     types.ID(req.AddressID),
		Lines:         lines,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, viewOrder(o, true))
}

func (h *OrderHandler) Get(c *gin.Context) {
	o, err := h.order.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	caller := middleware.CallerUID(c)
	if string(o.CustomerID) != caller && !ownsShopOrder(o, caller) {
		writeError(c, http.StatusNotFound, order.ErrNotFound.Error())
		return
	}
	writeJSON(c, http.StatusOK, viewOrder(o, string(o.CustomerID) == caller))
}

// List is role-dependent: customers see their orders, owners their shop orders.
func (h *OrderHandler) List(c *gin.Context) {
	caller := types.ID(middleware.CallerUID(c))

	if middleware.CallerRole(c) == middleware.RoleOwner {
		sos, err := h.order.ListByOwner(c.Request.Context(), caller)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		views := make([]shopOrderView, 0, len(sos))
		for i := range sos {
			views = append(views, viewShopOrder(&sos[i], false))
		}
		writeJSON(c, http.StatusOK, gin.H{"shop_orders": views})
		return
	}

	orders, err := h.order.ListByCustomer(c.Request.Context(), caller)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	views := make([]orderView, 0, len(orders))
	for i := range orders {
		views = append(views, viewOrder(&orders[i], true))
	}
	writeJSON(c, http.StatusOK, gin.H{"orders": views})
}

type cancelReq struct {
	Reason string `json:"reason"`
}

func (h *OrderHandler) Cancel(c *gin.Context) {
	var req cancelReq
	_ = c.ShouldBindJSON(&req)

	err := h.order.Cancel(c.Request.Context(), order.CancelCommand{
		OrderID:     types.ID(c.Param("id")),
		ShopOrderID: types.ID(c.Param("sid")),
		CustomerID:  types.ID(middleware.CallerUID(c)),
		Reason:      req.Reason,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": order.StatusCancelled})
}

type updateStatusReq struct {
	Status string `json:"status"`
}

// matchView identifies a courier offered the delivery. Contact details are
// shared only after a claim; the dispatch echo carries identity and distance.
type matchView struct {
	CourierID  string  `json:"courier_id"`
	Name       string  `json:"name"`
	DistanceKm float64 `json:"distance_km"`
}

func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.order.UpdateStatus(c.Request.Context(), order.UpdateStatusCommand{
		OrderID:     types.ID(c.Param("id")),
		ShopOrderID: types.ID(c.Param("sid")),
		OwnerID:     types.ID(middleware.CallerUID(c)),
		NewStatus:   order.Status(req.Status),
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}

	resp := gin.H{"status": res.Status}
	if res.Dispatched {
		matches := make([]matchView, 0, len(res.Matches))
		for _, m := range res.Matches {
			matches = append(matches, matchView{
				CourierID:  string(m.Courier.ID),
				Name:       m.Courier.Name,
				DistanceKm: m.DistanceKm,
			})
		}
		resp["couriers_notified"] = len(matches)
		resp["couriers"] = matches
	}
	writeJSON(c, http.StatusOK, resp)
}

func ownsShopOrder(o *order.Order, ownerID string) bool {
	for i := range o.ShopOrders {
		if string(o.ShopOrders[i].OwnerID) == ownerID {
			return true
		}
	}
	return false
}
