package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/po-workflow/internal/domain/apperr"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
	domainwf "github.com/garyjia/po-workflow/internal/domain/workflow"
)

const deliveryNote = "https://files.example.com/delivery/dn-1001.pdf"

func (h *harness) acceptedSingle(t *testing.T) *entity.PurchaseOrder {
	t.Helper()
	po := h.createSingle(t)
	got, err := h.responses.Accept(context.Background(), po.ID, supplierActor, AcceptInput{})
	require.NoError(t, err)
	return got
}

func historyActions(h *harness, orderID int64) []string {
	var out []string
	for _, rec := range h.db.history {
		if rec.PurchaseOrderID == orderID {
			out = append(out, rec.ActionType)
		}
	}
	return out
}

func TestConfirmDelivery_RequiresDeliveryNote(t *testing.T) {
	h := newHarness()
	po := h.acceptedSingle(t)

	_, err := h.delivery.ConfirmDelivery(context.Background(), po.ID, ownerActor, DeliveryInput{DeliveryNoteFileURL: "  "})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.materials.calls)

	stored := h.stored(po.ID)
	assert.Equal(t, domainwf.StateOrderAccepted, stored.Status)
	assert.False(t, stored.HasDeliveryEvidence())
}

func TestConfirmDelivery_CreatesMaterialsAndFulfils(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	po := h.acceptedSingle(t)

	got, err := h.delivery.ConfirmDelivery(ctx, po.ID, ownerActor, DeliveryInput{
		DeliveryNoteFileURL:     deliveryNote,
		ActualQuantityDelivered: decp("9.5"),
		Notes:                   "one bundle short",
	})
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateDelivered, got.Status)
	assert.Equal(t, entity.FinancialFulfilled, got.FinancialStatus)
	assert.NotNil(t, got.FulfilledAt)
	assert.Equal(t, deliveryNote, got.DeliveryNoteFileURL)
	assert.Equal(t, entity.ConfirmationOwnerPMManual, got.DeliveryConfirmationMethod)
	assert.Equal(t, "owner-1", got.DeliveryConfirmedBy)
	assert.Equal(t, "mat-1-mr-1", got.LinkedMaterialID)
	assert.Equal(t, "mat-1-mr-1", got.Items[0].LinkedMaterialID)

	require.Len(t, h.materials.calls, 1)
	call := h.materials.calls[0]
	assert.False(t, call.IsAutomatic)
	require.NotNil(t, call.ActualQuantityReceived)
	assert.True(t, call.ActualQuantityReceived.Equal(dec("9.5")))
	assert.Equal(t, "one bundle short", call.Notes)

	assert.Equal(t, entity.FinancialFulfilled, h.db.commitments[po.ID].status)
	assert.Equal(t, 1, h.events.count(event.TypeOrderDelivered))
	assert.Equal(t, 1, h.events.count(event.TypeMaterialCreated))
	assert.Equal(t, []string{"create", "accept", "confirm_delivery_recorded", "confirm_delivery"}, historyActions(h, po.ID))
}

func TestFulfillWithToken_ThenClerkVerifies(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	po := h.acceptedSingle(t)
	tok := h.token(t, po.ID, entity.TokenPurposeFulfillment)

	ready, err := h.delivery.FulfillWithToken(ctx, tok, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateReadyForDelivery, ready.Status)
	assert.Equal(t, entity.FinancialFulfilled, ready.FinancialStatus)
	assert.Equal(t, entity.ConfirmationSupplierFulfill, ready.DeliveryConfirmationMethod)
	require.Len(t, h.materials.calls, 1)
	assert.True(t, h.materials.calls[0].IsAutomatic)
	assert.Equal(t, 1, h.events.count(event.TypeReadyForDelivery))

	_, err = h.delivery.FulfillWithToken(ctx, tok, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	assert.ErrorIs(t, err, apperr.ErrTokenAlreadyUsed)

	_, err = h.delivery.VerifyReceipt(ctx, po.ID, pmActor, "")
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	got, err := h.delivery.VerifyReceipt(ctx, po.ID, clerkActor, "all bundles counted")
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDelivered, got.Status)
	assert.Equal(t, "all bundles counted", got.DeliveryNotes)
	assert.Len(t, h.materials.calls, 1, "verification must not create materials again")
}

func TestConfirmDelivery_MaterialFailureKeepsEvidence(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	po := h.acceptedSingle(t)
	h.materials.err = errors.New("inventory service unavailable")

	_, err := h.delivery.ConfirmDelivery(ctx, po.ID, pmActor, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	assert.ErrorIs(t, err, apperr.ErrMaterialCreationFailed)

	stored := h.stored(po.ID)
	assert.Equal(t, domainwf.StateOrderAccepted, stored.Status)
	assert.Equal(t, entity.FinancialCommitted, stored.FinancialStatus)
	assert.True(t, stored.HasDeliveryEvidence())
	assert.False(t, stored.HasLinkedMaterial())

	failed := h.events.last(event.TypeMaterialFailed)
	require.NotNil(t, failed)
	assert.Equal(t, "inventory service unavailable", failed.GetPayloadString("error"))

	h.materials.err = nil
	got, err := h.delivery.CreateMaterial(ctx, po.ID, pmActor)
	require.NoError(t, err)

	assert.Equal(t, domainwf.StateDelivered, got.Status)
	assert.Equal(t, entity.FinancialFulfilled, got.FinancialStatus)
	assert.True(t, got.HasLinkedMaterial())

	_, err = h.delivery.CreateMaterial(ctx, po.ID, pmActor)
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
}

func TestCreateMaterial_AfterSupplierFulfilFailure(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	po := h.acceptedSingle(t)
	h.materials.err = errors.New("timeout")

	_, err := h.delivery.Fulfill(ctx, po.ID, supplierActor, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	assert.ErrorIs(t, err, apperr.ErrMaterialCreationFailed)

	h.materials.err = nil
	got, err := h.delivery.CreateMaterial(ctx, po.ID, entity.SystemActor())
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateReadyForDelivery, got.Status)
	assert.True(t, h.materials.calls[1].IsAutomatic)
}

func TestCreateMaterial_WithoutEvidence(t *testing.T) {
	h := newHarness()
	po := h.acceptedSingle(t)

	_, err := h.delivery.CreateMaterial(context.Background(), po.ID, ownerActor)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.materials.calls)
}

func TestConfirmDelivery_BulkPerMaterialQuantities(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	po := h.createBulk(t, 2)
	_, err := h.responses.RespondBulk(ctx, po.ID, supplierActor, BulkResponseInput{Materials: acceptAll([]string{"mr-1", "mr-2"})})
	require.NoError(t, err)

	_, err = h.delivery.ConfirmDelivery(ctx, po.ID, ownerActor, DeliveryInput{
		DeliveryNoteFileURL: deliveryNote,
		MaterialQuantities:  map[string]decimal.Decimal{"mr-9": dec("1")},
	})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, h.materials.calls)

	got, err := h.delivery.ConfirmDelivery(ctx, po.ID, ownerActor, DeliveryInput{
		DeliveryNoteFileURL: deliveryNote,
		MaterialQuantities:  map[string]decimal.Decimal{"mr-1": dec("8")},
		MaterialUnitCosts:   map[string]decimal.Decimal{"mr-2": dec("97.5")},
	})
	require.NoError(t, err)
	assert.Equal(t, domainwf.StateDelivered, got.Status)
	assert.Len(t, got.LinkedMaterials, 2)
	assert.Empty(t, got.LinkedMaterialID)

	call := h.materials.calls[0]
	assert.True(t, call.MaterialQuantities["mr-1"].Equal(dec("8")))
	assert.True(t, call.MaterialUnitCosts["mr-2"].Equal(dec("97.5")))
	require.NotNil(t, got.Items[0].DeliveredQuantity)
	assert.True(t, got.Items[0].DeliveredQuantity.Equal(dec("8")))
}

func TestConfirmDelivery_ChecksRoleAndStatus(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	accepted := h.acceptedSingle(t)
	_, err := h.delivery.ConfirmDelivery(ctx, accepted.ID, clerkActor, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	assert.ErrorIs(t, err, apperr.ErrPermissionDenied)

	sent := h.createSingle(t)
	_, err = h.delivery.ConfirmDelivery(ctx, sent.ID, ownerActor, DeliveryInput{DeliveryNoteFileURL: deliveryNote})
	assert.ErrorIs(t, err, domainwf.ErrInvalidTransition)
	assert.False(t, h.stored(sent.ID).HasDeliveryEvidence())
	assert.Empty(t, h.materials.calls)
}
