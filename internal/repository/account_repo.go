package repository

import (
	"context"
	"errors"

	"ledgerpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAccountNotFound = errors.New("资金池账户不存在")

// AccountRepository 资金池账户
type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) GetByType(ctx context.Context, tx *gorm.DB, poolType model.PoolType) (*model.FinanceAccount, error) {
	var account model.FinanceAccount
	err := conn(r.db, tx).WithContext(ctx).Where("account_type = ?", string(poolType)).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// GetByTypeForUpdate 锁定资金池账户行
func (r *AccountRepository) GetByTypeForUpdate(ctx context.Context, tx *gorm.DB, poolType model.PoolType) (*model.FinanceAccount, error) {
	var account model.FinanceAccount
	err := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_type = ?", string(poolType)).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

func (r *AccountRepository) List(ctx context.Context) ([]*model.FinanceAccount, error) {
	var accounts []*model.FinanceAccount
	err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error
	return accounts, err
}

// EnsurePools 初始化资金池，已存在的账户保持不变
func (r *AccountRepository) EnsurePools(ctx context.Context, pools []model.PoolType) error {
	for _, p := range pools {
		account := &model.FinanceAccount{
			AccountName: model.PoolName(p),
			AccountType: string(p),
		}
		err := r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "account_type"}},
				DoNothing: true,
			}).
			Create(account).Error
		if err != nil {
			return err
		}
	}
	return nil
}
