package security

// Audit action constants. The values are stored verbatim in the audit log.
const (
	// CSRF token events

	// EventCSRFGenerated is logged when a CSRF token is issued to an administrator
	EventCSRFGenerated = "CSRF_GENERATED"

	// EventCSRFGenerationDenied is logged when an unauthorized caller asks for a CSRF token
	EventCSRFGenerationDenied = "CSRF_GENERATION_DENIED"

	// EventCSRFVerificationFailed is logged when a mutation carries a missing or invalid CSRF token
	EventCSRFVerificationFailed = "CSRF_VERIFICATION_FAILED"

	// Sign-in and session events

	// EventLoginSuccess is logged when an authorized administrator signs in
	EventLoginSuccess = "LOGIN_SUCCESS"

	// EventLoginUnauthorized is logged when a verified identity is not on the allow-list
	EventLoginUnauthorized = "LOGIN_UNAUTHORIZED"

	// EventLoginRateLimited is logged when sign-in attempts from an IP exceed the limit
	EventLoginRateLimited = "LOGIN_RATE_LIMITED"

	// EventLogout is logged when an administrator signs out
	EventLogout = "LOGOUT"

	// EventSessionExpired is logged when a session is found idle past the timeout
	EventSessionExpired = "SESSION_EXPIRED"

	// Menu events

	// EventMenuUpdateDenied is logged when a mutation is attempted without valid credentials
	EventMenuUpdateDenied = "MENU_UPDATE_DENIED"

	// EventMenuUpdateRateLimited is logged when menu mutations from an IP exceed the limit
	EventMenuUpdateRateLimited = "MENU_UPDATE_RATE_LIMITED"

	// EventMenuValidationFailed is logged when a menu item fails validation
	EventMenuValidationFailed = "MENU_VALIDATION_FAILED"

	// EventMenuThreatDetected is logged when a menu payload matches an injection signature
	EventMenuThreatDetected = "MENU_THREAT_DETECTED"

	// EventMenuItemCreated is logged after a menu item is created
	EventMenuItemCreated = "MENU_ITEM_CREATED"

	// EventMenuItemUpdated is logged after a menu item is updated
	EventMenuItemUpdated = "MENU_ITEM_UPDATED"

	// EventMenuItemDeleted is logged after a menu item is deleted
	EventMenuItemDeleted = "MENU_ITEM_DELETED"

	// EventMenuUpdateError is logged when a menu mutation fails in the store
	EventMenuUpdateError = "MENU_UPDATE_ERROR"

	// EventRestoreDenied is logged when a restore is attempted with a wrong passphrase
	EventRestoreDenied = "RESTORE_DENIED"

	// EventRestoreRateLimited is logged when restores from an IP exceed the menu update limit
	EventRestoreRateLimited = "RESTORE_RATE_LIMITED"

	// EventRestoreSuccess is logged after the default menu is seeded
	EventRestoreSuccess = "RESTORE_SUCCESS"

	// EventRestoreError is logged when seeding the default menu fails
	EventRestoreError = "RESTORE_ERROR"

	// Operational events

	// EventAPIRateLimited is logged when API calls from an IP exceed the limit
	EventAPIRateLimited = "API_RATE_LIMITED"

	// EventAuditLogDenied is logged when an unauthorized caller reads the audit log
	EventAuditLogDenied = "AUDIT_LOG_DENIED"

	// EventCleanupCompleted is logged after expired data has been removed
	EventCleanupCompleted = "CLEANUP_COMPLETED"
)

// Actor placeholders used when no authenticated subject is available
const (
	ActorAnonymous = "ANONYMOUS"
	ActorMasterKey = "MASTER_KEY_USER"
	ActorSystem    = "SYSTEM"
	EmailNone      = "none"
)
