/**
 * @description
 * This file defines the lifecycle events published to the message broker
 * (RabbitMQ) for the notification system. These structs are the contract for
 * messages on the subscription events exchange; delivery of the resulting
 * emails is the notification system's responsibility, not this service's.
 */
package domain

import "time"

// EventsExchange is the topic exchange lifecycle events are published to.
const EventsExchange = "subscription.events"

// Routing keys for lifecycle events.
const (
	RoutingKeyActivated    = "subscription.activated"
	RoutingKeyRenewed      = "subscription.renewed"
	RoutingKeyCancelled    = "subscription.cancelled"
	RoutingKeyExpired      = "subscription.expired"
	RoutingKeyExpiringSoon = "subscription.expiring_soon"
)

// SubscriptionActivatedEvent is published when a pending subscription is
// activated after payment confirmation.
type SubscriptionActivatedEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	PlanName       string    `json:"plan_name,omitempty"`
	EndDate        time.Time `json:"end_date"`
}

// SubscriptionRenewedEvent is published when a subscription's period is
// extended.
type SubscriptionRenewedEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	PlanID         string    `json:"plan_id"`
	NewEndDate     time.Time `json:"new_end_date"`
}

// SubscriptionCancelledEvent is published on explicit cancellation.
type SubscriptionCancelledEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	Reason         string    `json:"reason,omitempty"`
	CancelledAt    time.Time `json:"cancelled_at"`
}

// SubscriptionExpiredEvent is published by the expiry sweep for each
// subscription it transitions.
type SubscriptionExpiredEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	ExpiredAt      time.Time `json:"expired_at"`
}

// SubscriptionExpiringSoonEvent is published ahead of expiry so the
// notification system can send a renewal reminder.
type SubscriptionExpiringSoonEvent struct {
	SubscriptionID string    `json:"subscription_id"`
	UserID         string    `json:"user_id"`
	EndDate        time.Time `json:"end_date"`
	DaysRemaining  int       `json:"days_remaining"`
	AutoRenew      bool      `json:"auto_renew"`
}
