package entity

// Role groups permissions
type Role string

const (
	RoleOwner    Role = "owner"
	RolePM       Role = "pm"
	RoleClerk    Role = "clerk"
	RoleSupplier Role = "supplier"
	RoleSystem   Role = "system"
)

// IsValid reports whether the role is known
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RolePM, RoleClerk, RoleSupplier, RoleSystem:
		return true
	}
	return false
}

// Permission names checked before state-changing actions
const (
	PermCreatePurchaseOrder     = "create_purchase_order"
	PermViewPurchaseOrder       = "view_purchase_order"
	PermEditPurchaseOrder       = "edit_purchase_order"
	PermCancelPurchaseOrder     = "cancel_purchase_order"
	PermDeletePurchaseOrder     = "delete_purchase_order"
	PermAcceptPurchaseOrder     = "accept_purchase_order"
	PermRejectPurchaseOrder     = "reject_purchase_order"
	PermModifyPurchaseOrder     = "modify_purchase_order"
	PermFulfillPurchaseOrder    = "fulfill_purchase_order"
	PermConfirmDelivery         = "confirm_delivery"
	PermVerifyDelivery          = "verify_delivery"
	PermCreateMaterialFromOrder = "create_material_from_order"
	PermManageSuppliers         = "manage_suppliers"
	PermManageBudgets           = "manage_budgets"
	PermViewAnalytics           = "view_analytics"
)

// User is a person or service account acting on orders
type User struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Role       Role   `json:"role"`
	LarkOpenID string `json:"larkOpenId,omitempty"`
	SupplierID string `json:"supplierId,omitempty"`
}

// Actor identifies who performs an action
type Actor struct {
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
	Role   Role   `json:"role"`
	// ViaToken is set when a supplier acts through a public response link
	ViaToken bool `json:"viaToken,omitempty"`
}

// SystemActor is used for automatic actions
func SystemActor() Actor {
	return Actor{UserID: "system", Name: "system", Role: RoleSystem}
}

// SupplierTokenActor is used for actions submitted through a response link
func SupplierTokenActor(supplierID string) Actor {
	return Actor{UserID: "supplier:" + supplierID, Role: RoleSupplier, ViaToken: true}
}
