// Package audit appends security events such as private key exports.
package audit

import (
	"context"

	"github.com/dmitrijs2005/walletkeeper/internal/server/models"
)

type Repository interface {
	Record(ctx context.Context, event *models.AuditEvent) error
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*models.AuditEvent, error)
}
