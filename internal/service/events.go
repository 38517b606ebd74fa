package service

import (
	"context"
	"encoding/json"
	"fmt"
	"pricing-service/internal/entity"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	RuleCreated     = "created"
	RuleUpdated     = "updated"
	RuleDeactivated = "deactivated"

	DocumentFinalized = "finalized"
	DocumentCancelled = "cancelled"
)

// RuleChangedEvent tells every instance to drop its cached rules for a store.
type RuleChangedEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Tenant     string    `json:"tenant"`
	StoreID    int64     `json:"store_id"`
	RuleID     int64     `json:"rule_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

type DocumentEvent struct {
	EventID    string           `json:"event_id"`
	Type       string           `json:"type"`
	Tenant     string           `json:"tenant"`
	Document   *entity.Document `json:"document"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// RuleChangedKey -> "pricing-rule.updated.<tenant>.<store>"
func RuleChangedKey(eventType, tenantKey string, storeID int64) string {
	return fmt.Sprintf("pricing-rule.%s.%s.%d", eventType, tenantKey, storeID)
}

func publishRuleChanged(ctx context.Context, w MessageWriter, tenantKey, eventType string, rule *entity.PricingRule) error {
	event := RuleChangedEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Tenant:     tenantKey,
		StoreID:    rule.StoreID,
		RuleID:     rule.ID,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(RuleChangedKey(eventType, tenantKey, rule.StoreID)),
		Value: value,
	})
}

func publishDocumentEvent(ctx context.Context, w MessageWriter, tenantKey, eventType string, doc *entity.Document) error {
	event := DocumentEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		Tenant:     tenantKey,
		Document:   doc,
		OccurredAt: time.Now().UTC(),
	}
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// document.finalized.acme.15
	return w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("document.%s.%s.%d", eventType, tenantKey, doc.ID)),
		Value: value,
	})
}
