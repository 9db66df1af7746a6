package service

import (
	"context"
	"errors"
	"fmt"

	"ledgerpay/internal/config"
	"ledgerpay/internal/ledger"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"
	"ledgerpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WithdrawalService 提现申请与审核。申请时冻结（扣减）余额，个税计入公司余额
type WithdrawalService struct {
	db          *gorm.DB
	fin         *config.Finance
	topics      config.KafkaTopicConfig
	log         *zap.Logger
	ledger      *ledger.Accessor
	users       *repository.UserRepository
	withdrawals *repository.WithdrawalRepository
	flows       *repository.FlowRepository
	outbox      *repository.OutboxRepository
}

func NewWithdrawalService(d Deps) *WithdrawalService {
	return &WithdrawalService{
		db:          d.DB,
		fin:         d.Finance,
		topics:      d.Topics,
		log:         d.logger(),
		ledger:      ledger.NewAccessor(d.DB),
		users:       repository.NewUserRepository(d.DB),
		withdrawals: repository.NewWithdrawalRepository(d.DB),
		flows:       repository.NewFlowRepository(d.DB),
		outbox:      repository.NewOutboxRepository(d.DB),
	}
}

// balanceField user 提现走可提现余额，merchant 提现走商家余额
func balanceField(withdrawalType string) (ledger.Field, error) {
	switch withdrawalType {
	case model.WithdrawalTypeUser, "":
		return ledger.FieldPromotionBalance, nil
	case model.WithdrawalTypeMerchant:
		return ledger.FieldMerchantBalance, nil
	default:
		return "", fmt.Errorf("%w: 不支持的提现类型 %s", ErrInvalidParam, withdrawalType)
	}
}

type ApplyWithdrawalRequest struct {
	UserID         int64           `json:"user_id" binding:"required"`
	Amount         decimal.Decimal `json:"amount" binding:"required"`
	WithdrawalType string          `json:"withdrawal_type"`
}

func (s *WithdrawalService) ApplyWithdrawal(ctx context.Context, req *ApplyWithdrawalRequest) (*model.Withdrawal, error) {
	if !req.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if req.WithdrawalType == "" {
		req.WithdrawalType = model.WithdrawalTypeUser
	}
	field, err := balanceField(req.WithdrawalType)
	if err != nil {
		return nil, err
	}

	tax := req.Amount.Mul(s.fin.TaxRate).Round(4)
	w := &model.Withdrawal{
		WithdrawalNo:   idgen.GenerateWithdrawalNo(),
		UserID:         req.UserID,
		WithdrawalType: req.WithdrawalType,
		Amount:         req.Amount,
		TaxAmount:      tax,
		ActualAmount:   req.Amount.Sub(tax),
		Status:         model.WithdrawalStatusPendingAuto,
	}
	if req.Amount.GreaterThan(s.fin.WithdrawManualThreshold) {
		w.Status = model.WithdrawalStatusPendingManual
	}

	err = withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		w.ID = 0
		if _, err := s.users.GetByIDForUpdate(ctx, tx, req.UserID); err != nil {
			return err
		}

		account := ledger.UserAccount(req.UserID, field)
		if err := s.ledger.Check(ctx, tx, account, req.Amount); err != nil {
			return err
		}

		if err := s.withdrawals.Create(ctx, tx, w); err != nil {
			return fmt.Errorf("创建提现申请失败: %w", err)
		}

		if _, err := s.ledger.Add(ctx, tx, account, req.Amount.Neg(), ledger.Entry{
			Remark:       fmt.Sprintf("%s_提现申请冻结 %s", req.WithdrawalType, w.WithdrawalNo),
			WithdrawalID: w.ID,
		}); err != nil {
			return fmt.Errorf("冻结余额失败: %w", err)
		}

		if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolCompanyBalance), tax, ledger.Entry{
			Remark:       fmt.Sprintf("%s_提现个税 %s", req.WithdrawalType, w.WithdrawalNo),
			RelatedUser:  req.UserID,
			WithdrawalID: w.ID,
		}); err != nil {
			return fmt.Errorf("记入个税失败: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("提现申请成功",
		zap.String("withdrawal_no", w.WithdrawalNo),
		zap.Int64("user_id", w.UserID),
		zap.String("amount", w.Amount.String()),
		zap.String("tax", w.TaxAmount.String()),
		zap.String("status", w.Status))
	return w, nil
}

// AuditWithdrawal 审核提现
//
// 通过：记录出款流水；申请时的冻结流水缺失（历史数据或手工录入）时在此补扣。
// 拒绝：退回冻结金额，同时冲回已计入公司余额的个税。
func (s *WithdrawalService) AuditWithdrawal(ctx context.Context, id int64, approve bool, auditor string) (*model.Withdrawal, error) {
	if auditor == "" {
		auditor = "admin"
	}

	var w *model.Withdrawal
	err := withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		var err error
		w, err = s.withdrawals.GetByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if !w.IsPending() {
			return ErrWithdrawalState
		}

		field, err := balanceField(w.WithdrawalType)
		if err != nil {
			return err
		}
		account := ledger.UserAccount(w.UserID, field)

		status := model.WithdrawalStatusRejected
		if approve {
			status = model.WithdrawalStatusApproved
			if err := s.settleApproved(ctx, tx, w, account); err != nil {
				return err
			}
		} else {
			if err := s.refundRejected(ctx, tx, w, account); err != nil {
				return err
			}
		}

		if err := s.withdrawals.FinishAudit(ctx, tx, w.ID, status, auditor, auditor+"审核"); err != nil {
			return fmt.Errorf("更新提现状态失败: %w", err)
		}
		w.Status = status
		w.Auditor = auditor

		event := map[string]interface{}{
			"withdrawal_id":   w.ID,
			"withdrawal_no":   w.WithdrawalNo,
			"user_id":         w.UserID,
			"withdrawal_type": w.WithdrawalType,
			"amount":          w.Amount.String(),
			"actual_amount":   w.ActualAmount.String(),
			"status":          status,
			"auditor":         auditor,
		}
		return s.outbox.Enqueue(ctx, tx, model.EventWithdrawalAudited, s.topics.WithdrawalAudited, w.WithdrawalNo, event)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("提现审核完成",
		zap.Int64("withdrawal_id", w.ID),
		zap.Bool("approve", approve),
		zap.String("auditor", auditor))
	return w, nil
}

func (s *WithdrawalService) settleApproved(ctx context.Context, tx *gorm.DB, w *model.Withdrawal, account ledger.AccountRef) error {
	freeze, err := s.flows.FindWithdrawalFreeze(ctx, tx, w.ID, account.AccountType())
	if err != nil {
		return fmt.Errorf("查询冻结流水失败: %w", err)
	}
	if freeze == nil {
		s.log.Warn("提现冻结流水缺失，审核时补扣",
			zap.Int64("withdrawal_id", w.ID),
			zap.Int64("user_id", w.UserID),
			zap.String("amount", w.Amount.String()))
		if _, err := s.users.GetByIDForUpdate(ctx, tx, w.UserID); err != nil {
			return err
		}
		if err := s.ledger.Check(ctx, tx, account, w.Amount); err != nil {
			return err
		}
		if _, err := s.ledger.Add(ctx, tx, account, w.Amount.Neg(), ledger.Entry{
			Remark:       fmt.Sprintf("提现审核补扣 %s", w.WithdrawalNo),
			WithdrawalID: w.ID,
		}); err != nil {
			return fmt.Errorf("补扣余额失败: %w", err)
		}
	}

	if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolWithdrawalPaid), w.ActualAmount, ledger.Entry{
		Remark:       fmt.Sprintf("提现到账 %s", w.WithdrawalNo),
		RelatedUser:  w.UserID,
		WithdrawalID: w.ID,
	}); err != nil {
		return fmt.Errorf("记录出款失败: %w", err)
	}
	return nil
}

func (s *WithdrawalService) refundRejected(ctx context.Context, tx *gorm.DB, w *model.Withdrawal, account ledger.AccountRef) error {
	freeze, err := s.flows.FindWithdrawalFreeze(ctx, tx, w.ID, account.AccountType())
	if err != nil {
		return fmt.Errorf("查询冻结流水失败: %w", err)
	}
	// 从未冻结过的申请没有可退回的金额
	if freeze == nil {
		s.log.Warn("提现冻结流水缺失，拒绝时不退回", zap.Int64("withdrawal_id", w.ID))
		return nil
	}

	if _, err := s.ledger.Add(ctx, tx, account, w.Amount, ledger.Entry{
		Remark:       fmt.Sprintf("提现拒绝退回 %s", w.WithdrawalNo),
		WithdrawalID: w.ID,
		Reversal:     true,
	}); err != nil {
		return fmt.Errorf("退回余额失败: %w", err)
	}

	if w.TaxAmount.IsPositive() {
		if _, err := s.ledger.Add(ctx, tx, ledger.Pool(model.PoolCompanyBalance), w.TaxAmount.Neg(), ledger.Entry{
			Remark:       fmt.Sprintf("提现拒绝冲回个税 %s", w.WithdrawalNo),
			RelatedUser:  w.UserID,
			WithdrawalID: w.ID,
			Reversal:     true,
		}); err != nil {
			return fmt.Errorf("冲回个税失败: %w", err)
		}
	}
	return nil
}

func (s *WithdrawalService) ListWithdrawals(ctx context.Context, userID int64, status string, limit int) ([]*model.Withdrawal, error) {
	return s.withdrawals.List(ctx, userID, status, limit)
}

// IsBalanceError 余额不足类错误
func IsBalanceError(err error) bool {
	var insufficient *ledger.InsufficientBalanceError
	return errors.As(err, &insufficient)
}
