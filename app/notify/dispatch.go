package notify

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-checkout/app/catalog"
	"github.com/vibast-solutions/ms-go-checkout/app/entity"
	"github.com/vibast-solutions/ms-go-checkout/app/factory"
	"github.com/vibast-solutions/ms-go-checkout/app/session"
)

var (
	notificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_notifications_sent_total",
		Help: "Downstream notifications actually sent, by kind",
	}, []string{"kind"})

	notificationsDeduped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_notifications_deduped_total",
		Help: "Dispatch requests short-circuited by a dedup marker, by kind",
	}, []string{"kind"})
)

// Surface is one place a dedup marker can live. The dispatcher treats a
// charge as notified when ANY surface says so, and marks ALL surfaces after
// a successful send. Markers are append-only: no surface ever unsets one.
type Surface interface {
	Sent(chargeID string, kind entity.NotificationKind) bool
	MarkSent(chargeID string, kind entity.NotificationKind)
}

// sessionSurface stores markers on the cached session credential for one
// token. It only answers for the charge recorded on that credential.
type sessionSurface struct {
	store session.Store
	token string
}

// SessionSurface builds a dedup surface over the session cache entry for
// the given token.
func SessionSurface(store session.Store, token string) Surface {
	return &sessionSurface{store: store, token: token}
}

func (s *sessionSurface) Sent(chargeID string, kind entity.NotificationKind) bool {
	if s.store == nil || s.token == "" {
		return false
	}
	cred := s.store.Get(s.token)
	if cred == nil || cred.ChargeID != chargeID {
		return false
	}
	return cred.Sent(kind)
}

func (s *sessionSurface) MarkSent(chargeID string, kind entity.NotificationKind) {
	if s.store == nil || s.token == "" {
		return
	}
	cred := s.store.Get(s.token)
	if cred == nil || cred.ChargeID != chargeID {
		return
	}
	cred.MarkSent(kind)
	s.store.Set(s.token, cred)
}

// WebhookDelivery carries everything needed to build the webhook payload.
type WebhookDelivery struct {
	ChargeID      string
	ReferenceID   string
	Product       catalog.Product
	CustomerEmail string
	CustomerName  string
	Timestamp     string // RFC 3339
}

// ConversionDelivery carries everything needed to build the conversion
// event. AdClickID gates the send: without it the traffic is organic and
// must never be attributed.
type ConversionDelivery struct {
	ChargeID    string
	ReferenceID string
	Product     catalog.Product
	AdClickID   string

	CustomerEmail  string
	ClientIP       string
	UserAgent      string
	EventSourceURL string
	EventTime      int64
}

// Dispatcher guarantees at-most-once delivery per (charge, kind) across the
// configured surfaces. The dedup check runs immediately before the send;
// two truly concurrent requests can both pass it, which is accepted because
// receivers deduplicate by event id as well.
type Dispatcher struct {
	webhook    *WebhookSender
	conversion *ConversionSender
	global     []Surface
	logger     logrus.FieldLogger
}

func NewDispatcher(webhook *WebhookSender, conversion *ConversionSender, global ...Surface) *Dispatcher {
	return &Dispatcher{
		webhook:    webhook,
		conversion: conversion,
		global:     global,
		logger:     factory.NewModuleLogger("notification-dispatcher"),
	}
}

// DispatchWebhook sends the business webhook unless a marker says it
// already went out. Returns true only when a send happened.
func (d *Dispatcher) DispatchWebhook(ctx context.Context, delivery *WebhookDelivery, extra ...Surface) bool {
	if delivery.Product.WebhookURL == "" {
		return false
	}

	return d.dispatchIfNeeded(ctx, delivery.ChargeID, entity.NotificationWebhook, extra, func(ctx context.Context) bool {
		payload := &WebhookPayload{
			Event:     "payment.succeeded",
			Timestamp: delivery.Timestamp,
		}
		payload.Product.Slug = delivery.Product.Slug
		payload.Product.Name = delivery.Product.Name
		payload.Product.Price = delivery.Product.Price
		payload.Product.Currency = delivery.Product.Currency
		payload.Customer.Email = delivery.CustomerEmail
		payload.Customer.Name = delivery.CustomerName
		payload.Transaction.ChargeID = delivery.ChargeID
		payload.Transaction.ReferenceID = delivery.ReferenceID
		payload.Transaction.Amount = delivery.Product.Price
		payload.Transaction.Currency = delivery.Product.Currency

		return d.webhook.Send(ctx, delivery.Product.WebhookURL, payload)
	})
}

// DispatchConversion sends the ad-platform purchase event. Organic traffic
// (no ad click id) is short-circuited before any dedup state is consulted.
func (d *Dispatcher) DispatchConversion(ctx context.Context, delivery *ConversionDelivery, extra ...Surface) bool {
	if delivery.AdClickID == "" {
		return false
	}

	return d.dispatchIfNeeded(ctx, delivery.ChargeID, entity.NotificationConversion, extra, func(ctx context.Context) bool {
		event := &ConversionEvent{
			EventID:        EventID(delivery.ReferenceID),
			EventTime:      delivery.EventTime,
			EventSourceURL: delivery.EventSourceURL,
			Email:          delivery.CustomerEmail,
			ClientIP:       delivery.ClientIP,
			UserAgent:      delivery.UserAgent,
			Value:          float64(delivery.Product.Price) / 100,
			Currency:       delivery.Product.Currency,
			ContentName:    delivery.Product.Name,
			ContentIDs:     []string{delivery.Product.Slug},
		}
		return d.conversion.Send(ctx, event)
	})
}

func (d *Dispatcher) dispatchIfNeeded(
	ctx context.Context,
	chargeID string,
	kind entity.NotificationKind,
	extra []Surface,
	send func(ctx context.Context) bool,
) bool {
	surfaces := make([]Surface, 0, len(d.global)+len(extra))
	surfaces = append(surfaces, d.global...)
	surfaces = append(surfaces, extra...)

	for _, surface := range surfaces {
		if surface != nil && surface.Sent(chargeID, kind) {
			notificationsDeduped.WithLabelValues(string(kind)).Inc()
			return false
		}
	}

	if !send(ctx) {
		// Failed sends leave no marker so a later entry point can retry.
		return false
	}

	for _, surface := range surfaces {
		if surface != nil {
			surface.MarkSent(chargeID, kind)
		}
	}
	notificationsSent.WithLabelValues(string(kind)).Inc()

	d.logger.WithFields(logrus.Fields{
		"charge_id": chargeID,
		"kind":      kind,
	}).Info("Notification dispatched")
	return true
}
