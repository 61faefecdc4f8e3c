// Package audit records relay sessions, profile changes and logins in the
// audit_logs collection.
//
// Records are written server-side only (audit_logs has no client write
// rules), either directly or from the worker when the Redis queue is
// configured.
package audit

import (
	"log"
	"maps"

	"github.com/pocketbase/pocketbase/core"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Entry is one audit record. It is also the payload of the queued audit
// task, hence the json tags.
type Entry struct {
	// UserID is the actor's record ID ("unknown" when no auth was resolved).
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email,omitempty"`
	// Action is a dot-namespaced verb, e.g. "terminal.connect", "login.failed".
	Action       string `json:"action"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`
	ResourceName string `json:"resource_name,omitempty"`
	// SessionID ties connect and disconnect records of one relay together.
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	IP        string `json:"ip,omitempty"`
	// UserAgent is folded into detail on write.
	UserAgent string         `json:"user_agent,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Sink accepts audit entries. Record must not fail the caller.
type Sink interface {
	Record(entry Entry)
}

// Direct writes entries synchronously through App.
type Direct struct {
	App core.App
}

func (d Direct) Record(entry Entry) {
	Write(d.App, entry)
}

// Write saves entry to audit_logs, bypassing collection rules. Failures are
// logged and dropped.
func Write(app core.App, entry Entry) {
	if entry.Status != StatusSuccess && entry.Status != StatusFailed {
		log.Printf("audit: dropping %q with status %q", entry.Action, entry.Status)
		return
	}

	col, err := app.FindCachedCollectionByNameOrId("audit_logs")
	if err != nil {
		log.Printf("audit: %v", err)
		return
	}

	rec := core.NewRecord(col)
	rec.Load(map[string]any{
		"user_id":       entry.UserID,
		"user_email":    entry.UserEmail,
		"action":        entry.Action,
		"resource_type": entry.ResourceType,
		"resource_id":   entry.ResourceID,
		"resource_name": entry.ResourceName,
		"session_id":    entry.SessionID,
		"status":        entry.Status,
		"ip":            entry.IP,
	})
	if detail := detailOf(entry); detail != nil {
		rec.Set("detail", detail)
	}

	if err := app.Save(rec); err != nil {
		log.Printf("audit: save %q: %v", entry.Action, err)
	}
}

// detailOf returns a copy of entry.Detail with the user agent merged in.
func detailOf(entry Entry) map[string]any {
	if entry.UserAgent == "" {
		return entry.Detail
	}
	detail := make(map[string]any, len(entry.Detail)+1)
	maps.Copy(detail, entry.Detail)
	detail["user_agent"] = entry.UserAgent
	return detail
}
