package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/osctools/gpuscout/internal/domain"
)

func TestBuildSlackMessage(t *testing.T) {
	n := Notification{
		Title:   "Search finished",
		Message: "max 4 GPUs for 1d12h",
		Type:    NotifySuccess,
		RunID:   "3f1c",
		Fields: []Field{
			{Label: "GPUs", Value: "4"},
			{Label: "Walltime", Value: "1d12h"},
		},
	}

	msg := BuildSlackMessage(n)
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Color != "good" || att.Title != "run 3f1c" || att.Footer != "gpuscout" {
		t.Errorf("attachment = %+v", att)
	}
	if len(att.Fields) != 2 || att.Fields[0].Title != "GPUs" || att.Fields[0].Value != "4" {
		t.Errorf("fields = %+v", att.Fields)
	}

	payload, err := msg.ToJSON()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(payload), `"fields"`) {
		t.Errorf("payload missing fields: %s", payload)
	}
}

func TestUrgency(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifyError, "critical"},
		{NotifyWarning, "normal"},
		{NotifySuccess, "low"},
		{NotifyInfo, "low"},
	}

	for _, tt := range tests {
		if got := Urgency(tt.typ); got != tt.want {
			t.Errorf("Urgency(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestSlackNotifier_Send(t *testing.T) {
	// Mock Slack server
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewSlackNotifier(server.URL)
	err := notifier.Send(Notification{
		Title:   "Test",
		Message: "Test message",
		Type:    NotifyInfo,
	})

	if err != nil {
		t.Errorf("Send failed: %v", err)
	}
}

func TestNotificationTypeColors(t *testing.T) {
	tests := []struct {
		typ  NotificationType
		want string
	}{
		{NotifySuccess, "good"},
		{NotifyWarning, "warning"},
		{NotifyError, "danger"},
		{NotifyInfo, "#439FE0"},
	}

	for _, tt := range tests {
		got := SlackColor(tt.typ)
		if got != tt.want {
			t.Errorf("SlackColor(%v) = %s, want %s", tt.typ, got, tt.want)
		}
	}
}

func TestForResult(t *testing.T) {
	now := time.Now()
	res := &domain.SearchResult{
		MaxAdmittedGPUs: 4,
		MaxAdmittedTime: 36 * time.Hour,
		GPUTrace:        domain.SearchTrace{{Outcome: domain.OutcomeAdmitted}},
		TimeTrace:       domain.SearchTrace{{Outcome: domain.OutcomeAdmitted}},
		GPUConfirmed:    true,
		TimeConfirmed:   true,
		StartedAt:       now.Add(-time.Minute),
		FinishedAt:      now,
	}

	n := ForResult("3f1c", res)
	if n.Type != NotifySuccess {
		t.Errorf("type = %v, want success", n.Type)
	}
	if !strings.Contains(n.Message, "max 4 GPUs") {
		t.Errorf("message missing gpu bound: %q", n.Message)
	}
	if !strings.Contains(n.Message, "1d12h") {
		t.Errorf("message missing time bound: %q", n.Message)
	}
	if n.RunID != "3f1c" {
		t.Errorf("run id = %q", n.RunID)
	}

	if len(n.Fields) != 4 || n.Fields[0].Value != "4" || n.Fields[1].Value != "1d12h" {
		t.Errorf("fields = %+v", n.Fields)
	}

	res.GPUConfirmed = false
	warned := ForResult("3f1c", res)
	if warned.Type != NotifyWarning {
		t.Error("unconfirmed bound should produce a warning")
	}
	if len(warned.Fields) != 5 || warned.Fields[4].Value != "unconfirmed" {
		t.Errorf("unconfirmed field missing: %+v", warned.Fields)
	}
}

func TestMultiNotifier(t *testing.T) {
	var called []string

	mock1 := &mockNotifier{name: "mock1", calls: &called}
	mock2 := &mockNotifier{name: "mock2", calls: &called}

	multi := NewMultiNotifier(mock1, mock2)
	multi.Send(Notification{Title: "Test"})

	if len(called) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(called))
	}
}

type mockNotifier struct {
	name  string
	calls *[]string
}

func (m *mockNotifier) Send(n Notification) error {
	*m.calls = append(*m.calls, m.name)
	return nil
}
