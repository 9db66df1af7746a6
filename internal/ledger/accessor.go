package ledger

import (
	"context"
	"errors"
	"fmt"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"
	"ledgerpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry 一次余额变动的审计信息
type Entry struct {
	Remark       string
	RelatedUser  int64
	OrderID      int64
	WithdrawalID int64
	Reversal     bool
}

// Accessor 余额读写入口
//
// 所有余额变动都必须经过 Add：一条原子的 balance = balance + ? 语句，
// 同一事务内回读变动后余额，再写入恰好一条 account_flow 或 points_log。
type Accessor struct {
	db       *gorm.DB
	accounts *repository.AccountRepository
	flows    *repository.FlowRepository
	rewards  *repository.RewardRepository
}

func NewAccessor(db *gorm.DB) *Accessor {
	return &Accessor{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		flows:    repository.NewFlowRepository(db),
		rewards:  repository.NewRewardRepository(db),
	}
}

type balanceRow struct {
	Balance decimal.Decimal
}

// Get 读取余额，账户或用户不存在时返回 0，只有基础设施错误才返回 error
func (a *Accessor) Get(ctx context.Context, tx *gorm.DB, ref AccountRef) (decimal.Decimal, error) {
	return a.read(ctx, tx, ref, false)
}

// GetForUpdate 同 Get，但对账户行加 FOR UPDATE 锁，先读后扣的场景必须使用
func (a *Accessor) GetForUpdate(ctx context.Context, tx *gorm.DB, ref AccountRef) (decimal.Decimal, error) {
	if tx == nil {
		return decimal.Zero, errors.New("加锁读取必须在事务中执行")
	}
	return a.read(ctx, tx, ref, true)
}

func (a *Accessor) read(ctx context.Context, tx *gorm.DB, ref AccountRef, forUpdate bool) (decimal.Decimal, error) {
	if !ref.valid() {
		return decimal.Zero, ErrUnknownAccount
	}
	db := a.db
	if tx != nil {
		db = tx
	}

	if ref.IsPool() {
		get := a.accounts.GetByType
		if forUpdate {
			get = a.accounts.GetByTypeForUpdate
		}
		account, err := get(ctx, db, ref.pool)
		if err != nil {
			if errors.Is(err, repository.ErrAccountNotFound) {
				return decimal.Zero, nil
			}
			return decimal.Zero, err
		}
		return account.Balance, nil
	}

	col, _ := ref.field.column()
	q := db.WithContext(ctx).Model(&model.User{})
	if forUpdate {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row balanceRow
	result := q.Select(col+" AS balance").
		Where("id = ?", ref.userID).
		Scan(&row)
	if result.Error != nil {
		return decimal.Zero, result.Error
	}
	return row.Balance, nil
}

// Check 扣减前置校验，在事务中调用时锁定账户行直到事务结束
func (a *Accessor) Check(ctx context.Context, tx *gorm.DB, ref AccountRef, required decimal.Decimal) error {
	balance, err := a.read(ctx, tx, ref, tx != nil)
	if err != nil {
		return err
	}
	if balance.LessThan(required) {
		return &InsufficientBalanceError{Account: ref.String(), Required: required, Available: balance}
	}
	return nil
}

// Add 变动余额并写审计记录，返回变动后余额
//
// 不做非负校验，扣减有限额度账户前调用方必须先 Check。delta 为 0 时不写任何记录。
func (a *Accessor) Add(ctx context.Context, tx *gorm.DB, ref AccountRef, delta decimal.Decimal, e Entry) (decimal.Decimal, error) {
	if tx == nil {
		return decimal.Zero, errors.New("余额变动必须在事务中执行")
	}
	if !ref.valid() {
		return decimal.Zero, ErrUnknownAccount
	}
	if delta.IsZero() {
		return a.Get(ctx, tx, ref)
	}

	var err error
	if ref.IsPool() {
		err = a.addPool(ctx, tx, ref.pool, delta)
	} else {
		err = a.addUserField(ctx, tx, ref, delta)
	}
	if err != nil {
		return decimal.Zero, err
	}

	after, err := a.Get(ctx, tx, ref)
	if err != nil {
		return decimal.Zero, err
	}

	if !ref.IsPool() && ref.field.IsPoints() {
		log := &model.PointsLog{
			UserID:       ref.userID,
			ChangeAmount: delta,
			BalanceAfter: after,
			Type:         ref.field.pointsType(),
			Reason:       e.Remark,
			RelatedOrder: optionalID(e.OrderID),
			IsReversal:   e.Reversal,
		}
		if err := a.flows.CreatePointsLog(ctx, tx, log); err != nil {
			return decimal.Zero, fmt.Errorf("写入积分流水失败: %w", err)
		}
		return after, nil
	}

	relatedUser := e.RelatedUser
	if !ref.IsPool() {
		relatedUser = ref.userID
	}
	flowType := model.FlowTypeIncome
	if delta.IsNegative() {
		flowType = model.FlowTypeExpense
	}
	flow := &model.AccountFlow{
		FlowNo:       idgen.GenerateFlowNo(),
		AccountType:  ref.AccountType(),
		RelatedUser:  optionalID(relatedUser),
		OrderID:      optionalID(e.OrderID),
		WithdrawalID: optionalID(e.WithdrawalID),
		ChangeAmount: delta,
		BalanceAfter: after,
		FlowType:     flowType,
		IsReversal:   e.Reversal,
		Remark:       e.Remark,
	}
	if err := a.flows.CreateFlow(ctx, tx, flow); err != nil {
		return decimal.Zero, fmt.Errorf("写入资金流水失败: %w", err)
	}
	return after, nil
}

// RecordCoupon 优惠券发放的叙事流水，不涉及金额变动，balance_after 为该用户未使用优惠券合计
func (a *Accessor) RecordCoupon(ctx context.Context, tx *gorm.DB, userID, couponID int64, amount decimal.Decimal, orderID int64, remark string) error {
	total, err := a.rewards.SumUnusedCoupons(ctx, tx, userID)
	if err != nil {
		return err
	}
	flow := &model.AccountFlow{
		FlowNo:       idgen.GenerateFlowNo(),
		AccountType:  model.AccountFlowCoupon,
		RelatedUser:  optionalID(userID),
		OrderID:      optionalID(orderID),
		ChangeAmount: decimal.Zero,
		BalanceAfter: total,
		FlowType:     model.FlowTypeCoupon,
		Remark:       fmt.Sprintf("%s: 优惠券#%d 面额%s", remark, couponID, amount.StringFixed(2)),
	}
	if err := a.flows.CreateFlow(ctx, tx, flow); err != nil {
		return fmt.Errorf("写入优惠券流水失败: %w", err)
	}
	return nil
}

func (a *Accessor) addPool(ctx context.Context, tx *gorm.DB, pool model.PoolType, delta decimal.Decimal) error {
	update := func() (int64, error) {
		result := tx.WithContext(ctx).
			Model(&model.FinanceAccount{}).
			Where("account_type = ?", string(pool)).
			Updates(map[string]interface{}{
				"balance": gorm.Expr("balance + CAST(? AS DECIMAL(18,4))", delta),
			})
		return result.RowsAffected, result.Error
	}

	affected, err := update()
	if err != nil {
		return fmt.Errorf("更新资金池 %s 失败: %w", pool, err)
	}
	if affected > 0 {
		return nil
	}

	// 资金池尚未初始化，首笔变动直接建账
	result := tx.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_type"}},
			DoNothing: true,
		}).
		Create(&model.FinanceAccount{
			AccountName: model.PoolName(pool),
			AccountType: string(pool),
			Balance:     delta,
		})
	if result.Error != nil {
		return fmt.Errorf("创建资金池 %s 失败: %w", pool, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	if _, err := update(); err != nil {
		return fmt.Errorf("更新资金池 %s 失败: %w", pool, err)
	}
	return nil
}

func (a *Accessor) addUserField(ctx context.Context, tx *gorm.DB, ref AccountRef, delta decimal.Decimal) error {
	col, _ := ref.field.column()
	result := tx.WithContext(ctx).
		Model(&model.User{}).
		Where("id = ?", ref.userID).
		Update(col, gorm.Expr(col+" + CAST(? AS DECIMAL(18,4))", delta))
	if result.Error != nil {
		return fmt.Errorf("更新用户 %d %s 失败: %w", ref.userID, col, result.Error)
	}
	if result.RowsAffected == 0 {
		return repository.ErrUserNotFound
	}
	return nil
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
