package models

import (
	"time"
)

// Channel is the delivery medium for a notification.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelInApp Channel = "in-app"
	ChannelPush  Channel = "push"
)

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelPush:
		return true
	}
	return false
}

// Channels lists every supported channel, in a stable order.
func Channels() []Channel {
	return []Channel{ChannelEmail, ChannelSMS, ChannelInApp, ChannelPush}
}

// ScheduledStatus is the lifecycle of a scheduled notification row.
// Transitions only move forward: pending -> queued -> sent|failed.
type ScheduledStatus string

const (
	ScheduledPending ScheduledStatus = "pending"
	ScheduledQueued  ScheduledStatus = "queued"
	ScheduledSent    ScheduledStatus = "sent"
	ScheduledFailed  ScheduledStatus = "failed"
)

// Rank orders statuses for the forward-only transition check.
func (s ScheduledStatus) Rank() int {
	switch s {
	case ScheduledPending:
		return 0
	case ScheduledQueued:
		return 1
	case ScheduledSent, ScheduledFailed:
		return 2
	}
	return -1
}

// LogStatus is the terminal outcome recorded per delivery attempt.
type LogStatus string

const (
	LogSuccess LogStatus = "success"
	LogFailed  LogStatus = "failed"
)

// JobStatus mirrors the broker-side state of a job for status queries.
type JobStatus string

const (
	JobWaiting    JobStatus = "waiting"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// AnalyticsField names one of the fixed per-day counters.
type AnalyticsField string

const (
	FieldSent      AnalyticsField = "sent"
	FieldDelivered AnalyticsField = "delivered"
	FieldFailed    AnalyticsField = "failed"
	FieldOpened    AnalyticsField = "opened"
)

// Job is the broker message body. It exists only between enqueue and
// ack; its outcome is persisted as a NotificationLog.
type Job struct {
	ID          string         `json:"id"`
	To          string         `json:"to"`
	Channel     Channel        `json:"channel"`
	Message     string         `json:"message"`
	Subject     string         `json:"subject,omitempty"`
	TemplateID  string         `json:"templateId,omitempty"`
	Variables   map[string]any `json:"variables,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	BatchID     string         `json:"batchId,omitempty"`
	ScheduledID string         `json:"scheduledId,omitempty"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"maxAttempts"`
}

// ScheduledNotification is a persisted request to deliver at a future
// time. The scheduler materializes it into a Job once due.
type ScheduledNotification struct {
	ID         string          `json:"id"`
	To         string          `json:"to"`
	Channel    Channel         `json:"channel"`
	Message    string          `json:"message"`
	Subject    string          `json:"subject,omitempty"`
	TemplateID string          `json:"templateId,omitempty"`
	SendAt     time.Time       `json:"sendAt"`
	Status     ScheduledStatus `json:"status"`
	UserID     string          `json:"userId,omitempty"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

// NotificationLog is an append-only record of one delivery attempt.
type NotificationLog struct {
	ID         string         `json:"id"`
	To         string         `json:"to"`
	Channel    Channel        `json:"channel"`
	Message    string         `json:"message"`
	Subject    string         `json:"subject,omitempty"`
	Status     LogStatus      `json:"status"`
	Error      string         `json:"error,omitempty"`
	UserID     string         `json:"userId,omitempty"`
	TemplateID string         `json:"templateId,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// Template is a stored message template. Read-only to the dispatch
// pipeline; rendering never mutates it.
type Template struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject,omitempty"`
	Body      string    `json:"body"`
	Channel   Channel   `json:"channel"`
	Variables []string  `json:"variables"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AnalyticsRecord holds the per-day per-channel counters.
type AnalyticsRecord struct {
	Date      string  `json:"date"`
	Channel   Channel `json:"channel"`
	Sent      int64   `json:"sent"`
	Delivered int64   `json:"delivered"`
	Failed    int64   `json:"failed"`
	Opened    int64   `json:"opened"`
}

// JobState is the queryable bookkeeping record for a broker job.
type JobState struct {
	ID        string    `json:"id"`
	BatchID   string    `json:"batchId,omitempty"`
	Status    JobStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NotifyRequest is the producer payload for a single notification.
type NotifyRequest struct {
	To         string         `json:"to" validate:"required"`
	Channel    Channel        `json:"channel" validate:"required,oneof=email sms in-app push"`
	Message    string         `json:"message" validate:"required"`
	Subject    string         `json:"subject,omitempty"`
	TemplateID string         `json:"templateId,omitempty"`
	SendAt     *time.Time     `json:"sendAt,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// BatchRequest is the producer payload for a multi-recipient send.
type BatchRequest struct {
	Name       string         `json:"name,omitempty"`
	Recipients []string       `json:"recipients" validate:"required,min=1,max=1000,dive,required"`
	Channel    Channel        `json:"channel" validate:"required,oneof=email sms in-app push"`
	Message    string         `json:"message" validate:"required"`
	Subject    string         `json:"subject,omitempty"`
	TemplateID string         `json:"templateId,omitempty"`
	SendAt     *time.Time     `json:"sendAt,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
	UserID     string         `json:"userId,omitempty"`
}

// CreateTemplateRequest is the producer payload for template creation.
type CreateTemplateRequest struct {
	Name      string   `json:"name" validate:"required"`
	Subject   string   `json:"subject,omitempty"`
	Body      string   `json:"body" validate:"required"`
	Channel   Channel  `json:"channel" validate:"required,oneof=email sms in-app push"`
	Variables []string `json:"variables,omitempty"`
}
