package repository

import (
	"context"
	"time"

	"attendguard/internal/audit/domain"
)

// Repository defines durable persistence for audit entries. The in-memory
// chain remains the source of truth; this is the archival copy.
type Repository interface {
	Save(ctx context.Context, entry *domain.Entry) error
	GetByID(ctx context.Context, id string) (*domain.Entry, error)
	ListByUser(ctx context.Context, userID string, limit, offset int32) ([]*domain.Entry, error)
	ListSince(ctx context.Context, since time.Time, limit, offset int32) ([]*domain.Entry, error)
}
