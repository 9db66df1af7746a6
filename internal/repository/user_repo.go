package repository

import (
	"context"
	"errors"
	"time"

	"ledgerpay/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound     = errors.New("用户不存在")
	ErrReferrerExists   = errors.New("推荐人已设置，不可修改")
	ErrMobileRegistered = errors.New("手机号已注册")
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// conn 事务优先，未传入事务时使用默认连接
func conn(db, tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return db
	}
	return tx
}

func (r *UserRepository) Create(ctx context.Context, tx *gorm.DB, user *model.User) error {
	return conn(r.db, tx).WithContext(ctx).Create(user).Error
}

func (r *UserRepository) GetByID(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	var user model.User
	err := conn(r.db, tx).WithContext(ctx).Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetByIDForUpdate 锁定用户行，同一用户的结算/提现/退款由此串行化
func (r *UserRepository) GetByIDForUpdate(ctx context.Context, tx *gorm.DB, id int64) (*model.User, error) {
	var user model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByMobile(ctx context.Context, mobile string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("mobile = ?", mobile).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.User{}).Where("referral_code = ?", code).Count(&count).Error
	return count > 0, err
}

func (r *UserRepository) GetByReferralCode(ctx context.Context, code string) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("referral_code = ?", code).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateLevel(ctx context.Context, tx *gorm.DB, id int64, level int) error {
	return conn(r.db, tx).WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"member_level":     level,
			"level_changed_at": time.Now(),
		}).Error
}

// PromoteDirector 只从普通状态晋升，重复调用不产生影响
func (r *UserRepository) PromoteDirector(ctx context.Context, id int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ? AND status = ?", id, model.UserStatusNormal).
		Update("status", model.UserStatusHonorDirector)
	return result.RowsAffected > 0, result.Error
}

func (r *UserRepository) ListByLevel(ctx context.Context, level int) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Where("member_level = ? AND status = ?", level, model.UserStatusNormal).
		Order("id ASC").
		Find(&users).Error
	return users, err
}

func (r *UserRepository) ListByIDs(ctx context.Context, ids []int64) ([]*model.User, error) {
	var users []*model.User
	if len(ids) == 0 {
		return users, nil
	}
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Order("id ASC").Find(&users).Error
	return users, err
}

// ListPointHolders 锁定并返回持有正积分的用户（会员积分或商家积分任一大于0）
func (r *UserRepository) ListPointHolders(ctx context.Context, tx *gorm.DB) ([]*model.User, error) {
	var users []*model.User
	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("member_points > 0 OR merchant_points > 0").
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// UserAssets 用户侧资产汇总
type UserAssets struct {
	MemberPoints     decimal.Decimal
	MerchantPoints   decimal.Decimal
	PromotionBalance decimal.Decimal
	MerchantBalance  decimal.Decimal
}

func (r *UserRepository) SumAssets(ctx context.Context) (*UserAssets, error) {
	users, err := r.listAll(ctx)
	if err != nil {
		return nil, err
	}
	assets := &UserAssets{}
	for _, u := range users {
		assets.MemberPoints = assets.MemberPoints.Add(u.MemberPoints)
		assets.MerchantPoints = assets.MerchantPoints.Add(u.MerchantPoints)
		assets.PromotionBalance = assets.PromotionBalance.Add(u.PromotionBalance)
		assets.MerchantBalance = assets.MerchantBalance.Add(u.MerchantBalance)
	}
	return assets, nil
}

func (r *UserRepository) listAll(ctx context.Context) ([]*model.User, error) {
	var users []*model.User
	err := r.db.WithContext(ctx).
		Select("id", "member_points", "merchant_points", "promotion_balance", "merchant_balance").
		Find(&users).Error
	return users, err
}

// ==================== 推荐关系 ====================

// GetReferrerID 查询直接推荐人，没有推荐人时返回 0
func (r *UserRepository) GetReferrerID(ctx context.Context, tx *gorm.DB, userID int64) (int64, error) {
	var ref model.UserReferral
	err := conn(r.db, tx).WithContext(ctx).Where("user_id = ?", userID).First(&ref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return ref.ReferrerID, nil
}

func (r *UserRepository) CreateReferral(ctx context.Context, tx *gorm.DB, userID, referrerID int64) error {
	result := conn(r.db, tx).WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UserReferral{UserID: userID, ReferrerID: referrerID})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrReferrerExists
	}
	return nil
}

// ListDirectReferrals 查询一批用户的直推下级
func (r *UserRepository) ListDirectReferrals(ctx context.Context, referrerIDs []int64) ([]*model.UserReferral, error) {
	var refs []*model.UserReferral
	if len(referrerIDs) == 0 {
		return refs, nil
	}
	err := r.db.WithContext(ctx).
		Where("referrer_id IN ?", referrerIDs).
		Order("user_id ASC").
		Find(&refs).Error
	return refs, err
}
