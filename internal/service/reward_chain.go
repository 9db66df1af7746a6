package service

import (
	"context"
	"errors"

	"ledgerpay/internal/config"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// rewardChain 会员升级后沿推荐链生成待审核奖励
type rewardChain struct {
	users   *repository.UserRepository
	rewards *repository.RewardRepository
	fin     *config.Finance
	log     *zap.Logger
}

func newRewardChain(users *repository.UserRepository, rewards *repository.RewardRepository, fin *config.Finance, log *zap.Logger) *rewardChain {
	return &rewardChain{users: users, rewards: rewards, fin: fin, log: log}
}

// createPendingRewards
//
//   - 首次升星（oldLevel == 0）且有推荐人：直推奖励
//   - 0 星升 1 星：不产生团队奖励
//   - 其余情况：沿推荐链向上恰好走 newLevel 层，该层推荐人等级 >= newLevel 时产生团队奖励，
//     链条提前断开则不产生
func (c *rewardChain) createPendingRewards(ctx context.Context, tx *gorm.DB, orderID, buyerID int64, oldLevel, newLevel int) ([]*model.PendingReward, error) {
	var created []*model.PendingReward
	amount := c.fin.MemberProductPrice.Mul(c.fin.RewardRate)

	if oldLevel == 0 {
		referrerID, err := c.users.GetReferrerID(ctx, tx, buyerID)
		if err != nil {
			return nil, err
		}
		if referrerID > 0 {
			reward := &model.PendingReward{
				UserID:     referrerID,
				RewardType: model.RewardTypeReferral,
				Amount:     amount,
				OrderID:    orderID,
				Status:     model.RewardStatusPending,
			}
			if err := c.rewards.Create(ctx, tx, reward); err != nil {
				return nil, err
			}
			created = append(created, reward)
			c.log.Info("推荐奖励待审核", zap.Int64("user_id", referrerID), zap.String("amount", amount.String()))
		}
	}

	if oldLevel == 0 && newLevel == 1 {
		return created, nil
	}

	targetLayer := newLevel
	if targetLayer > c.fin.MaxTeamLayer {
		targetLayer = c.fin.MaxTeamLayer
	}
	if targetLayer <= 0 {
		return created, nil
	}

	current := buyerID
	var target int64
	for hop := 0; hop < targetLayer; hop++ {
		referrerID, err := c.users.GetReferrerID(ctx, tx, current)
		if err != nil {
			return nil, err
		}
		if referrerID == 0 {
			c.log.Debug("推荐链提前结束，不产生团队奖励", zap.Int64("buyer_id", buyerID), zap.Int("hops", hop))
			return created, nil
		}
		current = referrerID
		target = referrerID
	}

	sponsor, err := c.users.GetByID(ctx, tx, target)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return created, nil
		}
		return nil, err
	}
	if sponsor.MemberLevel < targetLayer {
		return created, nil
	}

	layer := targetLayer
	reward := &model.PendingReward{
		UserID:     sponsor.ID,
		RewardType: model.RewardTypeTeam,
		Amount:     amount,
		OrderID:    orderID,
		Layer:      &layer,
		Status:     model.RewardStatusPending,
	}
	if err := c.rewards.Create(ctx, tx, reward); err != nil {
		return nil, err
	}
	c.log.Info("团队奖励待审核",
		zap.Int64("user_id", sponsor.ID),
		zap.Int("layer", layer),
		zap.String("amount", amount.String()))
	return append(created, reward), nil
}
