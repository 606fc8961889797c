package models

import "time"

// AuditKind names a security-relevant event.
type AuditKind string

const (
	AuditKeyExport          AuditKind = "key_export"
	AuditKeyExportDenied    AuditKind = "key_export_denied"
	AuditKeyIntegrityFailed AuditKind = "key_integrity_failure"
)

// AuditEvent is an append-only security log row.
type AuditEvent struct {
	ID        string
	AccountID string
	Kind      AuditKind
	Detail    string
	CreatedAt time.Time
}
