package workflow

// Trigger represents an action that can cause a state transition
type Trigger string

const (
	TriggerAccept                    Trigger = "accept"
	TriggerReject                    Trigger = "reject"
	TriggerModify                    Trigger = "modify"
	TriggerPartialResponse           Trigger = "partial_response"
	TriggerApproveModification       Trigger = "approve_modification"
	TriggerApproveModificationResend Trigger = "approve_modification_resend"
	TriggerRejectModification        Trigger = "reject_modification"
	TriggerRejectModificationClose   Trigger = "reject_modification_close"
	TriggerCommitPartial             Trigger = "commit_partial"
	TriggerFulfill                   Trigger = "fulfill"
	TriggerConfirmDelivery           Trigger = "confirm_delivery"
	TriggerCreateMaterial            Trigger = "create_material"
	TriggerVerifyReceipt             Trigger = "verify_receipt"
	TriggerRetry                     Trigger = "retry"
	TriggerSendAlternatives          Trigger = "send_alternatives"
	TriggerCancel                    Trigger = "cancel"
)

// AllTriggers lists every trigger the lifecycle knows
func AllTriggers() []Trigger {
	return []Trigger{
		TriggerAccept,
		TriggerReject,
		TriggerModify,
		TriggerPartialResponse,
		TriggerApproveModification,
		TriggerApproveModificationResend,
		TriggerRejectModification,
		TriggerRejectModificationClose,
		TriggerCommitPartial,
		TriggerFulfill,
		TriggerConfirmDelivery,
		TriggerCreateMaterial,
		TriggerVerifyReceipt,
		TriggerRetry,
		TriggerSendAlternatives,
		TriggerCancel,
	}
}

func (t Trigger) String() string {
	return string(t)
}

// IsSupplierResponse reports whether the trigger records a supplier decision
func (t Trigger) IsSupplierResponse() bool {
	switch t {
	case TriggerAccept, TriggerReject, TriggerModify, TriggerPartialResponse:
		return true
	}
	return false
}
