package storage

import (
	"context"
	"math/big"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
)

type VARepo interface {
	Get(ctx context.Context, caSubjectKeyID string) (bool, *models.VARole, error)
	GetAll(ctx context.Context, req StorageListRequest[models.VARole]) (string, error)
	Update(ctx context.Context, role *models.VARole) (*models.VARole, error)
	Insert(ctx context.Context, role *models.VARole) (*models.VARole, error)
	// AdvanceCRLVersion atomically increments the latest CRL number of a
	// role, stamping the new validity window, and returns the reserved
	// number. Concurrent callers always obtain distinct numbers.
	AdvanceCRLVersion(ctx context.Context, caSubjectKeyID string, validFrom, validUntil time.Time) (*big.Int, error)
}
