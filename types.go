package menuguard

import (
	"time"

	"github.com/zinacoffee/menuguard/identity"
	"github.com/zinacoffee/menuguard/storage"
)

// Caller describes who is making a request. Identity is nil for anonymous
// callers.
type Caller struct {
	Identity  *identity.Identity
	IPAddress string
	UserAgent string
}

// MenuAction is a menu mutation
type MenuAction string

const (
	MenuActionCreate MenuAction = "create"
	MenuActionUpdate MenuAction = "update"
	MenuActionDelete MenuAction = "delete"
)

// MenuRequest is a menu mutation request
type MenuRequest struct {
	Action MenuAction     `json:"action"`
	ItemID string         `json:"itemId,omitempty"`
	Data   map[string]any `json:"itemData,omitempty"`

	// MasterKey is the shared master passphrase. It authorizes the request
	// without an administrator identity.
	MasterKey string `json:"masterKey,omitempty"`
}

// MenuResult is returned by a successful menu mutation
type MenuResult struct {
	Success bool   `json:"success"`
	ItemID  string `json:"id"`
}

// SignInResult is returned when an administrator signs in
type SignInResult struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`

	// ExpiresIn is the idle timeout of the session in seconds
	ExpiresIn int `json:"expiresIn"`
}

// SignOutResult is returned by SignOut
type SignOutResult struct {
	Success         bool `json:"success"`
	SessionsRemoved int  `json:"sessionsRemoved"`
}

// SessionStatus reports the idle state of a session
type SessionStatus struct {
	Active bool `json:"active"`

	// Warning is set when the session expires within the warning window
	Warning bool `json:"warning"`

	RemainingSeconds int `json:"remainingSeconds"`
}

// AuditRecord is the JSON view of an audit event
type AuditRecord struct {
	ID        string         `json:"id"`
	Action    string         `json:"action"`
	UserID    *string        `json:"userId"`
	Email     *string        `json:"email"`
	IPAddress *string        `json:"ipAddress"`
	Details   map[string]any `json:"details"`
	Timestamp time.Time      `json:"timestamp"`
}

// AuditPage is one page of the audit log, newest first
type AuditPage struct {
	Logs []AuditRecord `json:"logs"`

	// NextCursor is passed back to fetch the following page. Empty on the
	// last page.
	NextCursor string `json:"nextCursor,omitempty"`
}

// RestoreResult is returned after the default menu is seeded
type RestoreResult struct {
	Success bool `json:"success"`
	Count   int  `json:"count"`
}

// CleanupResult reports what a cleanup run removed
type CleanupResult struct {
	RateWindowsDeleted  int `json:"rateWindowsDeleted"`
	AuditEventsArchived int `json:"auditEventsArchived"`
}

// MenuItemView is the JSON view of a menu item
type MenuItemView struct {
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

func newAuditRecord(e *storage.AuditEvent) AuditRecord {
	return AuditRecord{
		ID:        e.ID,
		Action:    e.Action,
		UserID:    nullable(e.ActorID),
		Email:     nullable(e.ActorEmail),
		IPAddress: nullable(e.IPAddress),
		Details:   e.Details,
		Timestamp: e.OccurredAt,
	}
}

func newMenuItemView(m *storage.MenuItem) MenuItemView {
	return MenuItemView{
		ID:        m.ID,
		Fields:    m.Fields,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// nullable maps the empty string to JSON null
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
