package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-substitution-api/internal/models"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// auditEntry describes one change to record in the audit trail.
type auditEntry struct {
	action     string
	resource   string
	resourceID string
	oldValues  interface{}
	newValues  interface{}
}

// emitAudit writes entry on behalf of actor. Failures are logged, never returned:
// the change itself has already been committed.
func emitAudit(ctx context.Context, audit auditLogger, logger *zap.Logger, actor *models.JWTClaims, entry auditEntry) {
	if audit == nil {
		return
	}
	log := &models.AuditLog{
		Action:   entry.action,
		Resource: entry.resource,
	}
	if entry.resourceID != "" {
		id := entry.resourceID
		log.ResourceID = &id
	}
	if actor != nil {
		userID := actor.UserID
		log.UserID = &userID
	}
	if entry.oldValues != nil {
		log.OldValues, _ = json.Marshal(entry.oldValues)
	}
	if entry.newValues != nil {
		log.NewValues, _ = json.Marshal(entry.newValues)
	}
	if err := audit.CreateAuditLog(ctx, log); err != nil {
		logger.Warn("failed to record audit log", zap.String("action", entry.action), zap.Error(err))
	}
}

func actorID(actor *models.JWTClaims) *string {
	if actor == nil || actor.UserID == "" {
		return nil
	}
	id := actor.UserID
	return &id
}
