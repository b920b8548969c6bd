package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/po-workflow/internal/application/service"
	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
)

// ViewResponseLink handles GET /api/v1/public/responses/:token
func (h *Handlers) ViewResponseLink(c *gin.Context) {
	h.viewLink(c, entity.TokenPurposeResponse)
}

// ViewDeliveryLink handles GET /api/v1/public/deliveries/:token
func (h *Handlers) ViewDeliveryLink(c *gin.Context) {
	h.viewLink(c, entity.TokenPurposeFulfillment)
}

// SubmitResponse handles POST /api/v1/public/responses/:token
func (h *Handlers) SubmitResponse(c *gin.Context) {
	var in service.SupplierResponseInput
	if !h.bind(c, &in) {
		return
	}
	po, err := h.services.Responses.RespondWithToken(c.Request.Context(), c.Param("token"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, publicOrder(po))
}

// SubmitDelivery handles POST /api/v1/public/deliveries/:token
func (h *Handlers) SubmitDelivery(c *gin.Context) {
	var in service.DeliveryInput
	if !h.bind(c, &in) {
		return
	}
	po, err := h.services.Deliveries.FulfillWithToken(c.Request.Context(), c.Param("token"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, publicOrder(po))
}

func (h *Handlers) viewLink(c *gin.Context, purpose entity.TokenPurpose) {
	view, err := h.services.Orders.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if view.Purpose != purpose {
		h.fail(c, apperr.ErrTokenInvalid)
		return
	}
	view.Order = publicOrder(view.Order)
	ok(c, http.StatusOK, view)
}

// publicOrder strips internal fields before an order is shown to a supplier
func publicOrder(po *entity.PurchaseOrder) *entity.PurchaseOrder {
	if po == nil {
		return nil
	}
	out := po.Clone()
	out.CreatedBy = ""
	out.SuggestedReason = ""
	out.ModificationApprovedBy = ""
	return out
}
