package gormstore

import (
	"context"
	"time"

	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/ocelotpki/ocelot/pkg/storage"
	"gorm.io/gorm"
)

const (
	acmeAccountTableName   = "acme_accounts"
	acmeOrderTableName     = "acme_orders"
	acmeAuthzTableName     = "acme_authorizations"
	acmeChallengeTableName = "acme_challenges"
	acmeNonceTableName     = "acme_nonces"
)

type GormACMEAccountStore struct {
	querier *gormDBQuerier[models.ACMEAccount]
}

func NewACMEAccountRepository(db *gorm.DB) (storage.ACMEAccountRepo, error) {
	querier, err := TableQuery(db, acmeAccountTableName, "id", models.ACMEAccount{})
	if err != nil {
		return nil, err
	}

	return &GormACMEAccountStore{querier: querier}, nil
}

func (db *GormACMEAccountStore) SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEAccount, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormACMEAccountStore) SelectExistsByKeyThumbprint(ctx context.Context, thumbprint string) (bool, *models.ACMEAccount, error) {
	queryCol := "jwk_thumbprint"
	return db.querier.SelectExists(ctx, thumbprint, &queryCol)
}

func (db *GormACMEAccountStore) Insert(ctx context.Context, account *models.ACMEAccount) (*models.ACMEAccount, error) {
	return db.querier.Insert(ctx, account)
}

func (db *GormACMEAccountStore) Update(ctx context.Context, account *models.ACMEAccount) (*models.ACMEAccount, error) {
	return db.querier.Update(ctx, account, account.ID)
}

type GormACMEOrderStore struct {
	db      *gorm.DB
	querier *gormDBQuerier[models.ACMEOrder]
}

func NewACMEOrderRepository(db *gorm.DB) (storage.ACMEOrderRepo, error) {
	querier, err := TableQuery(db, acmeOrderTableName, "id", models.ACMEOrder{})
	if err != nil {
		return nil, err
	}

	return &GormACMEOrderStore{db: db, querier: querier}, nil
}

func (db *GormACMEOrderStore) SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEOrder, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormACMEOrderStore) SelectByAccountID(ctx context.Context, accountID string, req storage.StorageListRequest[models.ACMEOrder]) (string, error) {
	opts := []gormWhereParams{
		{query: "account_id = ?", extraArgs: []any{accountID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormACMEOrderStore) Insert(ctx context.Context, order *models.ACMEOrder) (*models.ACMEOrder, error) {
	return db.querier.Insert(ctx, order)
}

func (db *GormACMEOrderStore) Update(ctx context.Context, order *models.ACMEOrder) (*models.ACMEOrder, error) {
	return db.querier.Update(ctx, order, order.ID)
}

// TransitionStatus issues a single conditional UPDATE. The WHERE clause
// on the current status makes the transition atomic: two concurrent
// callers racing on the same order see exactly one RowsAffected hit.
func (db *GormACMEOrderStore) TransitionStatus(ctx context.Context, orderID string, from, to models.ACMEOrderStatus) (bool, error) {
	tx := db.db.Table(acmeOrderTableName).WithContext(ctx).
		Where("id = ? AND status = ?", orderID, from).
		Update("status", to)
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

type GormACMEAuthorizationStore struct {
	querier *gormDBQuerier[models.ACMEAuthorization]
}

func NewACMEAuthorizationRepository(db *gorm.DB) (storage.ACMEAuthorizationRepo, error) {
	querier, err := TableQuery(db, acmeAuthzTableName, "id", models.ACMEAuthorization{})
	if err != nil {
		return nil, err
	}

	return &GormACMEAuthorizationStore{querier: querier}, nil
}

func (db *GormACMEAuthorizationStore) SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEAuthorization, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormACMEAuthorizationStore) SelectByOrderID(ctx context.Context, orderID string, req storage.StorageListRequest[models.ACMEAuthorization]) (string, error) {
	opts := []gormWhereParams{
		{query: "order_id = ?", extraArgs: []any{orderID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormACMEAuthorizationStore) SelectByAccountID(ctx context.Context, accountID string, req storage.StorageListRequest[models.ACMEAuthorization]) (string, error) {
	opts := []gormWhereParams{
		{query: "account_id = ?", extraArgs: []any{accountID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormACMEAuthorizationStore) Insert(ctx context.Context, authz *models.ACMEAuthorization) (*models.ACMEAuthorization, error) {
	return db.querier.Insert(ctx, authz)
}

func (db *GormACMEAuthorizationStore) Update(ctx context.Context, authz *models.ACMEAuthorization) (*models.ACMEAuthorization, error) {
	return db.querier.Update(ctx, authz, authz.ID)
}

type GormACMEChallengeStore struct {
	querier *gormDBQuerier[models.ACMEChallenge]
}

func NewACMEChallengeRepository(db *gorm.DB) (storage.ACMEChallengeRepo, error) {
	querier, err := TableQuery(db, acmeChallengeTableName, "id", models.ACMEChallenge{})
	if err != nil {
		return nil, err
	}

	return &GormACMEChallengeStore{querier: querier}, nil
}

func (db *GormACMEChallengeStore) SelectExistsByID(ctx context.Context, id string) (bool, *models.ACMEChallenge, error) {
	return db.querier.SelectExists(ctx, id, nil)
}

func (db *GormACMEChallengeStore) SelectByAuthorizationID(ctx context.Context, authzID string, req storage.StorageListRequest[models.ACMEChallenge]) (string, error) {
	opts := []gormWhereParams{
		{query: "authorization_id = ?", extraArgs: []any{authzID}},
	}
	return db.querier.SelectAll(ctx, req.QueryParams, opts, req.ExhaustiveRun, req.ApplyFunc)
}

func (db *GormACMEChallengeStore) Insert(ctx context.Context, challenge *models.ACMEChallenge) (*models.ACMEChallenge, error) {
	return db.querier.Insert(ctx, challenge)
}

func (db *GormACMEChallengeStore) Update(ctx context.Context, challenge *models.ACMEChallenge) (*models.ACMEChallenge, error) {
	return db.querier.Update(ctx, challenge, challenge.ID)
}

type GormACMENonceStore struct {
	db      *gorm.DB
	querier *gormDBQuerier[models.ACMENonce]
}

func NewACMENonceRepository(db *gorm.DB) (storage.ACMENonceRepo, error) {
	querier, err := TableQuery(db, acmeNonceTableName, "value", models.ACMENonce{})
	if err != nil {
		return nil, err
	}

	return &GormACMENonceStore{db: db, querier: querier}, nil
}

func (db *GormACMENonceStore) Insert(ctx context.Context, nonce *models.ACMENonce) (*models.ACMENonce, error) {
	return db.querier.Insert(ctx, nonce)
}

// Consume deletes the nonce row. The single DELETE makes consumption
// atomic: two concurrent requests with the same nonce cannot both succeed.
func (db *GormACMENonceStore) Consume(ctx context.Context, value string, now time.Time) (bool, error) {
	tx := db.db.Table(acmeNonceTableName).WithContext(ctx).
		Where("value = ? AND expires_at > ?", value, now).
		Delete(&models.ACMENonce{})
	if tx.Error != nil {
		return false, tx.Error
	}

	return tx.RowsAffected == 1, nil
}

func (db *GormACMENonceStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := db.db.Table(acmeNonceTableName).WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.ACMENonce{})
	if tx.Error != nil {
		return 0, tx.Error
	}

	return tx.RowsAffected, nil
}
