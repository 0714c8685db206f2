// Package notify delivers search-completion notifications to the desktop
// and to Slack.
package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

// NotificationType represents the type of notification
type NotificationType int

const (
	NotifyInfo NotificationType = iota
	NotifySuccess
	NotifyWarning
	NotifyError
)

// Field is one labeled result value rendered by notifiers that support
// structured layouts.
type Field struct {
	Label string
	Value string
}

// Notification represents a notification to be sent
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
	RunID   string // Optional search run reference
	Fields  []Field
}

// Notifier is the interface for sending notifications
type Notifier interface {
	Send(n Notification) error
}

// ForResult builds the completion notification for a finished search.
func ForResult(runID string, res *domain.SearchResult) Notification {
	typ := NotifySuccess
	if !res.GPUConfirmed || !res.TimeConfirmed {
		typ = NotifyWarning
	}
	trials := len(res.GPUTrace) + len(res.TimeTrace)
	elapsed := res.FinishedAt.Sub(res.StartedAt).Round(time.Second)

	fields := []Field{
		{Label: "GPUs", Value: strconv.Itoa(res.MaxAdmittedGPUs)},
		{Label: "Walltime", Value: domain.FormatCompact(res.MaxAdmittedTime)},
		{Label: "Probes", Value: strconv.Itoa(trials)},
		{Label: "Took", Value: elapsed.String()},
	}
	if !res.GPUConfirmed {
		fields = append(fields, Field{Label: "GPU bound", Value: "unconfirmed"})
	}
	if !res.TimeConfirmed {
		fields = append(fields, Field{Label: "Time bound", Value: "unconfirmed"})
	}

	return Notification{
		Title: "Search finished",
		Message: fmt.Sprintf("max %d GPUs for %s (%d probes, %s)",
			res.MaxAdmittedGPUs,
			domain.FormatCompact(res.MaxAdmittedTime),
			trials, elapsed),
		Type:   typ,
		RunID:  runID,
		Fields: fields,
	}
}

// ForAbort builds the notification for a search that aborted.
func ForAbort(runID string, err error) Notification {
	return Notification{
		Title:   "Search aborted",
		Message: err.Error(),
		Type:    NotifyError,
		RunID:   runID,
	}
}

// MultiNotifier sends to multiple notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that sends to all provided notifiers
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send sends the notification to all notifiers
func (m *MultiNotifier) Send(n Notification) error {
	var lastErr error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(n); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// NoopNotifier does nothing (for testing or disabled notifications)
type NoopNotifier struct{}

func (NoopNotifier) Send(n Notification) error { return nil }
