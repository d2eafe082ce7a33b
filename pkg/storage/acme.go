package storage

import (
	"context"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
)

type ACMEAccountRepo interface {
	SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEAccount, error)
	SelectExistsByKeyThumbprint(ctx context.Context, thumbprint string) (bool, *models.ACMEAccount, error)
	Insert(ctx context.Context, account *models.ACMEAccount) (*models.ACMEAccount, error)
	Update(ctx context.Context, account *models.ACMEAccount) (*models.ACMEAccount, error)
}

type ACMEOrderRepo interface {
	SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEOrder, error)
	SelectByAccountID(ctx context.Context, accountID string, req StorageListRequest[models.ACMEOrder]) (string, error)
	Insert(ctx context.Context, order *models.ACMEOrder) (*models.ACMEOrder, error)
	Update(ctx context.Context, order *models.ACMEOrder) (*models.ACMEOrder, error)
	// TransitionStatus moves the order from one status to another in a
	// single conditional statement. It reports false when the order was
	// not in the expected status, so at most one caller wins the
	// transition.
	TransitionStatus(ctx context.Context, orderID string, from, to models.ACMEOrderStatus) (bool, error)
}

type ACMEAuthorizationRepo interface {
	SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEAuthorization, error)
	SelectByOrderID(ctx context.Context, orderID string, req StorageListRequest[models.ACMEAuthorization]) (string, error)
	SelectByAccountID(ctx context.Context, accountID string, req StorageListRequest[models.ACMEAuthorization]) (string, error)
	Insert(ctx context.Context, authz *models.ACMEAuthorization) (*models.ACMEAuthorization, error)
	Update(ctx context.Context, authz *models.ACMEAuthorization) (*models.ACMEAuthorization, error)
}

type ACMEChallengeRepo interface {
	SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEChallenge, error)
	SelectByAuthorizationID(ctx context.Context, authzID string, req StorageListRequest[models.ACMEChallenge]) (string, error)
	Insert(ctx context.Context, challenge *models.ACMEChallenge) (*models.ACMEChallenge, error)
	Update(ctx context.Context, challenge *models.ACMEChallenge) (*models.ACMEChallenge, error)
}

type ACMENonceRepo interface {
	Insert(ctx context.Context, nonce *models.ACMENonce) (*models.ACMENonce, error)
	// Consume deletes the nonce and reports whether it existed and was
	// unexpired. A nonce can be consumed at most once.
	Consume(ctx context.Context, value string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
