package service

import (
	"context"
	"fmt"

	"DeskPilot/internal/modules/assistant/domain/assistant"
	"DeskPilot/internal/modules/assistant/domain/collaborator"
	"DeskPilot/internal/modules/assistant/domain/notification"
)

// 业务通知工厂，来源统一标记为对应业务模块

func (s *notificationServiceImpl) NotifyCustomerCreated(ctx context.Context, userID string, customer collaborator.Customer) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:      userID,
		Category:    notification.CategoryCustomer,
		Priority:    notification.PriorityNormal,
		Title:       "New customer",
		Message:     fmt.Sprintf("%s was added to your clients", customer.Name),
		RelatedID:   customer.ID,
		RelatedType: "customer",
		Source:      "crm",
		Type:        "customer_created",
		Actions: []assistant.Action{
			{Type: assistant.ActionOpenCustomer, Label: "Open " + customer.Name, Params: map[string]interface{}{"customerId": customer.ID}},
		},
	})
}

// NotifyAppointmentReminder id 由日程 id 推导，重复提醒会被去重
func (s *notificationServiceImpl) NotifyAppointmentReminder(ctx context.Context, userID string, appt collaborator.Appointment) (*notification.Notification, error) {
	who := appt.CustomerName
	if who == "" {
		who = appt.Title
	}
	return s.CreateNotification(ctx, NotificationInput{
		ID:          "appointment-reminder-" + appt.ID,
		UserID:      userID,
		Category:    notification.CategoryAppointment,
		Priority:    notification.PriorityHigh,
		Title:       "Upcoming appointment",
		Message:     fmt.Sprintf("%s at %s", who, appt.StartAt.Format("Mon 15:04")),
		RelatedID:   appt.ID,
		RelatedType: "appointment",
		Source:      "calendar",
		Type:        "appointment_reminder",
		Metadata:    map[string]interface{}{"startAt": appt.StartAt, "location": appt.Location},
		Actions: []assistant.Action{
			{Type: assistant.ActionOpenAppointment, Label: "Open appointment", Params: map[string]interface{}{"appointmentId": appt.ID}},
			{Type: assistant.ActionOpenCalendar, Label: "Open calendar"},
		},
	})
}

func (s *notificationServiceImpl) NotifyListingPublished(ctx context.Context, userID, listingID, title string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:      userID,
		Category:    notification.CategoryProperty,
		Priority:    notification.PriorityNormal,
		Title:       "Listing published",
		Message:     fmt.Sprintf("%q is now live", title),
		RelatedID:   listingID,
		RelatedType: "listing",
		Source:      "listings",
		Type:        "listing_published",
		Actions:     []assistant.Action{{Type: assistant.ActionOpenListings, Label: "View listings"}},
	})
}

func (s *notificationServiceImpl) NotifyRequestReceived(ctx context.Context, userID, requestID, from string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:      userID,
		Category:    notification.CategoryRequest,
		Priority:    notification.PriorityHigh,
		Title:       "New request",
		Message:     fmt.Sprintf("%s sent you a request", from),
		RelatedID:   requestID,
		RelatedType: "request",
		Source:      "requests",
		Type:        "request_received",
	})
}

func (s *notificationServiceImpl) NotifyOfferReceived(ctx context.Context, userID, offerID, from, summary string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:      userID,
		Category:    notification.CategoryOffer,
		Priority:    notification.PriorityHigh,
		Title:       "New offer",
		Message:     fmt.Sprintf("%s: %s", from, summary),
		RelatedID:   offerID,
		RelatedType: "offer",
		Source:      "offers",
		Type:        "offer_received",
	})
}

func (s *notificationServiceImpl) NotifyBusinessCardViewed(ctx context.Context, userID, viewer string) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:   userID,
		Category: notification.CategoryBusinessCard,
		Priority: notification.PriorityLow,
		Title:    "Business card viewed",
		Message:  fmt.Sprintf("%s viewed your business card", orDefault(viewer, "Someone")),
		Source:   "business_card",
		Type:     "business_card_viewed",
	})
}

func (s *notificationServiceImpl) NotifySystem(ctx context.Context, userID, title, message string, priority notification.Priority) (*notification.Notification, error) {
	return s.CreateNotification(ctx, NotificationInput{
		UserID:   userID,
		Category: notification.CategorySystem,
		Priority: priority,
		Title:    title,
		Message:  message,
		Source:   "system",
		Type:     "system",
	})
}
