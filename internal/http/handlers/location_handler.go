// README: Courier location ping and offline handlers.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"foodcourt/internal/http/middleware"
	"foodcourt/internal/modules/location"
	"foodcourt/internal/types"
)

type LocationHandler struct {
	location *location.Service
}

func NewLocationHandler(svc *location.Service) *LocationHandler {
	return &LocationHandler{location: svc}
}

type locationUpdateReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	var req locationUpdateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}

	courierID := types.ID(middleware.CallerUID(c))
	err := h.location.Update(c.Request.Context(), courierID, types.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

func (h *LocationHandler) Offline(c *gin.Context) {
	courierID := types.ID(middleware.CallerUID(c))
	if err := h.location.GoOffline(c.Request.Context(), courierID); err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
