package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/po-workflow/internal/application/port"
	"github.com/garyjia/po-workflow/internal/domain/entity"
	"github.com/garyjia/po-workflow/internal/domain/event"
)

// NotificationService turns order events into in-app, chat, email and SMS messages
type NotificationService interface {
	// NotifyOrderEvent informs the order's internal stakeholders
	NotifyOrderEvent(ctx context.Context, evt *event.Event) error

	// SendSupplierLink emails a newly issued link and texts delivery links to opted-in suppliers
	SendSupplierLink(ctx context.Context, evt *event.Event) error

	// ClassifyRejection suggests a taxonomy reason for rejections filed as "other"
	ClassifyRejection(ctx context.Context, evt *event.Event) error

	// RemindSupplier re-sends the response link of an order still waiting for the supplier
	RemindSupplier(ctx context.Context, po *entity.PurchaseOrder, token string) error
}

// NotificationSettings configures supplier links
type NotificationSettings struct {
	PublicBaseURL string
}

type notificationServiceImpl struct {
	notifications port.NotificationCreator
	users         port.UserRepository
	suppliers     port.SupplierRepository
	orders        port.PurchaseOrderRepository
	mailer        port.SupplierMailer
	sms           port.SMSSender
	chat          port.ChatMessenger
	classifier    port.RejectionClassifier
	settings      NotificationSettings
	logger        Logger
}

// NewNotificationService creates a new NotificationService.
// mailer, sms, chat and classifier may be nil when the channel is disabled.
func NewNotificationService(
	notifications port.NotificationCreator,
	users port.UserRepository,
	suppliers port.SupplierRepository,
	orders port.PurchaseOrderRepository,
	mailer port.SupplierMailer,
	sms port.SMSSender,
	chat port.ChatMessenger,
	classifier port.RejectionClassifier,
	settings NotificationSettings,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		notifications: notifications,
		users:         users,
		suppliers:     suppliers,
		orders:        orders,
		mailer:        mailer,
		sms:           sms,
		chat:          chat,
		classifier:    classifier,
		settings:      settings,
		logger:        logger,
	}
}

// DeliveryConfirmationSMS is the text sent to suppliers who opted in to SMS
func DeliveryConfirmationSMS(orderNumber, supplierName, link string) string {
	return fmt.Sprintf("Hi %s, purchase order %s is confirmed. When the goods are delivered, upload the delivery note here: %s",
		supplierName, orderNumber, link)
}

type notice struct {
	kind    string
	title   string
	message string
	roles   []entity.Role
}

func buildNotice(evt *event.Event, po *entity.PurchaseOrder) (notice, bool) {
	number := po.PurchaseOrderNumber
	managers := []entity.Role{entity.RoleOwner, entity.RolePM}

	switch evt.Type {
	case event.TypeOrderAccepted:
		return notice{entity.NotificationOrderAccepted, "Purchase order accepted",
			fmt.Sprintf("%s accepted purchase order %s (total %s).", po.SupplierName, number, po.TotalCost.StringFixed(2)), managers}, true
	case event.TypeOrderRejected:
		msg := fmt.Sprintf("%s rejected purchase order %s", po.SupplierName, number)
		if po.RejectionReason != "" {
			msg += ": " + po.RejectionReason.Policy().Label
		}
		if po.RetryRecommendation != "" {
			msg += ". " + po.RetryRecommendation
		}
		return notice{entity.NotificationOrderRejected, "Purchase order rejected", msg + ".", managers}, true
	case event.TypeOrderModified:
		return notice{entity.NotificationOrderModified, "Supplier proposed changes",
			fmt.Sprintf("%s proposed changes to purchase order %s. Review them to continue.", po.SupplierName, number), managers}, true
	case event.TypeOrderPartiallyReplied:
		return notice{entity.NotificationOrderPartial, "Bulk order partially accepted",
			fmt.Sprintf("%s answered bulk order %s with mixed decisions.", po.SupplierName, number), managers}, true
	case event.TypeModificationReviewed:
		verdict := "rejected"
		if po.ModificationApproved != nil && *po.ModificationApproved {
			verdict = "approved"
		}
		return notice{entity.NotificationModificationReviewed, "Modification reviewed",
			fmt.Sprintf("The proposed changes to purchase order %s were %s.", number, verdict), managers}, true
	case event.TypeReadyForDelivery:
		return notice{entity.NotificationReadyForDelivery, "Delivery awaiting verification",
			fmt.Sprintf("%s uploaded a delivery note for purchase order %s.", po.SupplierName, number),
			[]entity.Role{entity.RoleOwner, entity.RolePM, entity.RoleClerk}}, true
	case event.TypeOrderDelivered:
		return notice{entity.NotificationDelivered, "Purchase order delivered",
			fmt.Sprintf("Purchase order %s was delivered.", number), managers}, true
	case event.TypeOrderCancelled:
		return notice{entity.NotificationCancelled, "Purchase order cancelled",
			fmt.Sprintf("Purchase order %s was cancelled.", number), managers}, true
	case event.TypeMaterialFailed:
		return notice{entity.NotificationMaterialCreationError, "Material creation failed",
			fmt.Sprintf("Delivery of purchase order %s was recorded but material creation failed: %s. Retry from the order page.",
				number, evt.GetPayloadString("error")), managers}, true
	}
	return notice{}, false
}

func (s *notificationServiceImpl) NotifyOrderEvent(ctx context.Context, evt *event.Event) error {
	po := evt.Order()
	if po == nil {
		return nil
	}
	n, ok := buildNotice(evt, po)
	if !ok {
		return nil
	}

	recipients, err := s.recipients(ctx, po, evt.Actor, n.roles)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return nil
	}

	now := time.Now()
	batch := make([]*entity.Notification, 0, len(recipients))
	for _, u := range recipients {
		batch = append(batch, &entity.Notification{
			UserID:       u.ID,
			Type:         n.kind,
			Title:        n.title,
			Message:      n.message,
			RelatedModel: "purchase_order",
			RelatedID:    fmt.Sprintf("%d", po.ID),
			ProjectID:    po.ProjectID,
			CreatedBy:    evt.Actor.UserID,
			CreatedAt:    now,
		})
	}
	if err := s.notifications.CreateNotifications(ctx, batch); err != nil {
		return fmt.Errorf("create notifications: %w", err)
	}

	if s.chat != nil {
		for _, u := range recipients {
			if u.LarkOpenID == "" {
				continue
			}
			if err := s.chat.SendText(ctx, u.LarkOpenID, n.title+"\n"+n.message); err != nil {
				s.logger.Error("Failed to send chat message", "error", err, "user_id", u.ID, "order_id", po.ID)
			}
		}
	}

	s.logger.Info("Notifications sent",
		"order_id", po.ID,
		"event_type", evt.Type,
		"recipients", len(recipients),
	)
	return nil
}

// recipients is the order creator plus users holding the given roles, without the actor
func (s *notificationServiceImpl) recipients(ctx context.Context, po *entity.PurchaseOrder, actor entity.Actor, roles []entity.Role) ([]*entity.User, error) {
	users, err := s.users.ListByRole(ctx, roles...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}

	seen := map[string]bool{actor.UserID: true}
	var out []*entity.User
	if po.CreatedBy != "" && !seen[po.CreatedBy] {
		creator, err := s.users.GetByID(ctx, po.CreatedBy)
		if err != nil {
			return nil, fmt.Errorf("get creator: %w", err)
		}
		if creator != nil {
			out = append(out, creator)
		}
		seen[po.CreatedBy] = true
	}
	for _, u := range users {
		if !seen[u.ID] {
			seen[u.ID] = true
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *notificationServiceImpl) link(purpose entity.TokenPurpose, token string) string {
	path := "/respond/"
	if purpose == entity.TokenPurposeFulfillment {
		path = "/deliver/"
	}
	return strings.TrimRight(s.settings.PublicBaseURL, "/") + path + token
}

func (s *notificationServiceImpl) SendSupplierLink(ctx context.Context, evt *event.Event) error {
	po := evt.Order()
	token := evt.GetPayloadString("token")
	if po == nil || token == "" {
		return nil
	}
	purpose := entity.TokenPurpose(evt.GetPayloadString("purpose"))
	link := s.link(purpose, token)

	var errs []error

	if s.mailer != nil && po.SupplierEmail != "" {
		msg := port.SupplierEmail{
			To:           po.SupplierEmail,
			SupplierName: po.SupplierName,
			OrderNumber:  po.PurchaseOrderNumber,
			Link:         link,
		}
		if purpose == entity.TokenPurposeFulfillment {
			msg.Subject = fmt.Sprintf("Purchase order %s confirmed: delivery link", po.PurchaseOrderNumber)
			msg.Body = "Thank you for accepting this order. Use the link below to upload the delivery note once the goods arrive."
		} else {
			msg.Subject = fmt.Sprintf("New purchase order %s", po.PurchaseOrderNumber)
			msg.Body = fmt.Sprintf("You have received purchase order %s for %s, due %s. Use the link below to accept, reject or propose changes.",
				po.PurchaseOrderNumber, po.TotalCost.StringFixed(2), po.DeliveryDate.Format("2006-01-02"))
		}
		if err := s.mailer.SendOrderEmail(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("send email: %w", err))
		}
	}

	if s.sms != nil && purpose == entity.TokenPurposeFulfillment {
		sup, err := s.suppliers.GetByID(ctx, po.SupplierID)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("get supplier: %w", err))
		case sup != nil && sup.SMSOptIn && sup.Phone != "":
			if err := s.sms.SendSMS(ctx, sup.Phone, DeliveryConfirmationSMS(po.PurchaseOrderNumber, sup.Name, link)); err != nil {
				errs = append(errs, fmt.Errorf("send sms: %w", err))
			}
		}
	}

	if len(errs) == 0 {
		s.logger.Info("Supplier link sent", "order_id", po.ID, "purpose", purpose)
	}
	return errors.Join(errs...)
}

func (s *notificationServiceImpl) RemindSupplier(ctx context.Context, po *entity.PurchaseOrder, token string) error {
	if s.mailer == nil || po == nil || po.SupplierEmail == "" || token == "" {
		return nil
	}

	sentOn := ""
	if po.SentAt != nil {
		sentOn = " on " + po.SentAt.Format("2006-01-02")
	}
	msg := port.SupplierEmail{
		To:           po.SupplierEmail,
		SupplierName: po.SupplierName,
		OrderNumber:  po.PurchaseOrderNumber,
		Link:         s.link(entity.TokenPurposeResponse, token),
		Subject:      fmt.Sprintf("Reminder: purchase order %s awaits your response", po.PurchaseOrderNumber),
		Body: fmt.Sprintf("Purchase order %s was sent to you%s and is still waiting for a response. Use the link below to accept, reject or propose changes.",
			po.PurchaseOrderNumber, sentOn),
	}
	if err := s.mailer.SendOrderEmail(ctx, msg); err != nil {
		return fmt.Errorf("send reminder: %w", err)
	}

	s.logger.Info("Supplier reminded", "order_id", po.ID, "order_number", po.PurchaseOrderNumber)
	return nil
}

func (s *notificationServiceImpl) ClassifyRejection(ctx context.Context, evt *event.Event) error {
	po := evt.Order()
	if s.classifier == nil || po == nil || po.SuggestedReason != "" {
		return nil
	}

	notes := ""
	if po.RejectionReason == entity.ReasonOther {
		notes = po.SupplierNotes
	}
	for _, r := range po.MaterialResponses {
		if notes == "" && r.Action == entity.ActionReject && r.RejectionReason == entity.ReasonOther {
			notes = r.Notes
		}
	}
	if strings.TrimSpace(notes) == "" {
		return nil
	}

	reason, err := s.classifier.Classify(ctx, notes)
	if err != nil {
		return fmt.Errorf("classify rejection: %w", err)
	}
	if !reason.IsValid() || reason == entity.ReasonOther {
		return nil
	}
	if err := s.orders.SetSuggestedReason(ctx, po.ID, reason); err != nil {
		return fmt.Errorf("save suggested reason: %w", err)
	}

	s.logger.Info("Rejection classified", "order_id", po.ID, "suggested_reason", reason)
	return nil
}
