package entity

// RejectionReason is the taxonomy category a supplier picks when rejecting
type RejectionReason string

const (
	ReasonPriceTooHigh    RejectionReason = "price_too_high"
	ReasonUnavailable     RejectionReason = "unavailable"
	ReasonTimeline        RejectionReason = "timeline"
	ReasonSpecification   RejectionReason = "specification"
	ReasonQuantity        RejectionReason = "quantity"
	ReasonPolicy          RejectionReason = "policy"
	ReasonExternalFactors RejectionReason = "external_factors"
	ReasonOther           RejectionReason = "other"
)

// RejectionPolicy is what the taxonomy says about a reason
type RejectionPolicy struct {
	Label             string
	Retryable         bool
	NeedsReassignment bool
	Recommendation    string
	Subcategories     []string
}

var rejectionPolicies = map[RejectionReason]RejectionPolicy{
	ReasonPriceTooHigh: {
		Label:          "Price too high",
		Retryable:      true,
		Recommendation: "Retry with the same supplier at an adjusted unit cost or negotiate a volume discount.",
		Subcategories:  []string{"above_market_rate", "cost_increase", "margin_too_low", "volume_discount_expected"},
	},
	ReasonUnavailable: {
		Label:             "Material unavailable",
		NeedsReassignment: true,
		Recommendation:    "Reassign the material to an alternative supplier; the current supplier cannot source it.",
		Subcategories:     []string{"out_of_stock", "discontinued", "not_carried", "supplier_capacity"},
	},
	ReasonTimeline: {
		Label:          "Delivery timeline",
		Retryable:      true,
		Recommendation: "Retry with a later delivery date or split the order into phased deliveries.",
		Subcategories:  []string{"lead_time_too_short", "logistics_constraint", "production_backlog"},
	},
	ReasonSpecification: {
		Label:          "Specification mismatch",
		Retryable:      true,
		Recommendation: "Clarify or adjust the specification in the terms and resend.",
		Subcategories:  []string{"unclear_specification", "grade_mismatch", "dimension_mismatch", "certification_missing"},
	},
	ReasonQuantity: {
		Label:          "Quantity issue",
		Retryable:      true,
		Recommendation: "Retry with an adjusted quantity, or split the quantity across suppliers.",
		Subcategories:  []string{"below_minimum_order", "above_capacity", "packaging_multiple"},
	},
	ReasonPolicy: {
		Label:             "Business policy",
		NeedsReassignment: true,
		Recommendation:    "The supplier declined on policy grounds; send the order to an alternative supplier.",
		Subcategories:     []string{"credit_terms", "payment_history", "region_not_served", "contract_terms"},
	},
	ReasonExternalFactors: {
		Label:          "External factors",
		Retryable:      true,
		Recommendation: "Retry once the external condition clears, adjusting the delivery date if needed.",
		Subcategories:  []string{"weather", "regulatory", "transport_disruption", "force_majeure"},
	},
	ReasonOther: {
		Label:          "Other",
		Retryable:      true,
		Recommendation: "Review the supplier notes manually before retrying or reassigning.",
	},
}

// AllRejectionReasons lists the taxonomy in display order
func AllRejectionReasons() []RejectionReason {
	return []RejectionReason{
		ReasonPriceTooHigh,
		ReasonUnavailable,
		ReasonTimeline,
		ReasonSpecification,
		ReasonQuantity,
		ReasonPolicy,
		ReasonExternalFactors,
		ReasonOther,
	}
}

// IsValid reports whether the reason is part of the taxonomy
func (r RejectionReason) IsValid() bool {
	_, ok := rejectionPolicies[r]
	return ok
}

// Policy returns the taxonomy entry. Unknown reasons are treated like other.
func (r RejectionReason) Policy() RejectionPolicy {
	if p, ok := rejectionPolicies[r]; ok {
		return p
	}
	return rejectionPolicies[ReasonOther]
}

// IsRetryable reports whether adjusting terms with the same supplier may succeed
func (r RejectionReason) IsRetryable() bool {
	return r.Policy().Retryable
}

// AllowsSubcategory reports whether the subcategory belongs to the reason.
// An empty subcategory is always allowed, and other accepts free text.
func (r RejectionReason) AllowsSubcategory(sub string) bool {
	if sub == "" || r == ReasonOther {
		return true
	}
	for _, s := range r.Policy().Subcategories {
		if s == sub {
			return true
		}
	}
	return false
}

func (r RejectionReason) String() string {
	return string(r)
}
