package notify

import (
	"os/exec"
	"runtime"
)

// DesktopNotifier shows search outcomes as native desktop notifications,
// via osascript on macOS and notify-send on Linux.
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Urgency maps a notification type to a notify-send urgency level. An
// aborted search should interrupt; a routine completion should not.
func Urgency(t NotificationType) string {
	switch t {
	case NotifyError:
		return "critical"
	case NotifyWarning:
		return "normal"
	default:
		return "low"
	}
}

// Send shows the notification on the local desktop. Unsupported platforms
// are a silent no-op so search completion never fails on delivery.
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
	if n.RunID != "" {
		script += ` subtitle "run ` + n.RunID + `"`
	}
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	args := []string{"-a", "gpuscout", "-u", Urgency(n.Type), n.Title, n.Message}
	return exec.Command("notify-send", args...).Run()
}
