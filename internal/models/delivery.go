package models

import "time"

type DeliveryStatus string

const (
	DeliveryStatusSent   DeliveryStatus = "sent"
	DeliveryStatusFailed DeliveryStatus = "failed"
)

// DeliveryReport is the outcome of one delivery job. It never carries the code itself.
type DeliveryReport struct {
	JobID             string         `json:"job_id" dynamodbav:"JobID"`
	PhoneNumber       string         `json:"phone_number" dynamodbav:"Phone"`
	Status            DeliveryStatus `json:"status" dynamodbav:"Status"`
	Provider          string         `json:"provider" dynamodbav:"Provider"`
	ProviderMessageID string         `json:"provider_message_id,omitempty" dynamodbav:"ProviderMessageID,omitempty"`
	Error             string         `json:"error,omitempty" dynamodbav:"Error,omitempty"`
	EnqueuedAt        time.Time      `json:"enqueued_at" dynamodbav:"EnqueuedAt"`
	CompletedAt       time.Time      `json:"completed_at" dynamodbav:"CompletedAt"`
	DurationMs        int64          `json:"duration_ms" dynamodbav:"DurationMs"`
}
