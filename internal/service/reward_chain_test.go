package service

import (
	"context"
	"testing"

	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestChain(d Deps) *rewardChain {
	return newRewardChain(repository.NewUserRepository(d.DB), repository.NewRewardRepository(d.DB), d.Finance, zap.NewNop())
}

func TestRewardChain_FirstPurchaseQuantityTwo(t *testing.T) {
	d := newTestDeps(t)
	a := createUser(t, d.DB, 2, "0")
	b := createUser(t, d.DB, 0, "0")
	c := createUser(t, d.DB, 0, "0")
	setReferrer(t, d.DB, b.ID, a.ID)
	setReferrer(t, d.DB, c.ID, b.ID)

	rewards, err := newTestChain(d).createPendingRewards(context.Background(), d.DB, 1, c.ID, 0, 2)
	require.NoError(t, err)
	require.Len(t, rewards, 2)

	assert.Equal(t, model.RewardTypeReferral, rewards[0].RewardType)
	assert.Equal(t, b.ID, rewards[0].UserID)
	assertDec(t, "50", rewards[0].Amount)
	assert.Nil(t, rewards[0].Layer)

	assert.Equal(t, model.RewardTypeTeam, rewards[1].RewardType)
	assert.Equal(t, a.ID, rewards[1].UserID)
	require.NotNil(t, rewards[1].Layer)
	assert.Equal(t, 2, *rewards[1].Layer)
	assertDec(t, "50", rewards[1].Amount)
}

func TestRewardChain_FirstStarHasNoTeamReward(t *testing.T) {
	d := newTestDeps(t)
	b := createUser(t, d.DB, 6, "0")
	c := createUser(t, d.DB, 0, "0")
	setReferrer(t, d.DB, c.ID, b.ID)

	rewards, err := newTestChain(d).createPendingRewards(context.Background(), d.DB, 1, c.ID, 0, 1)
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, model.RewardTypeReferral, rewards[0].RewardType)
}

func TestRewardChain_SponsorLevelTooLow(t *testing.T) {
	d := newTestDeps(t)
	a := createUser(t, d.DB, 1, "0")
	b := createUser(t, d.DB, 3, "0")
	c := createUser(t, d.DB, 1, "0")
	setReferrer(t, d.DB, b.ID, a.ID)
	setReferrer(t, d.DB, c.ID, b.ID)

	rewards, err := newTestChain(d).createPendingRewards(context.Background(), d.DB, 1, c.ID, 1, 2)
	require.NoError(t, err)
	assert.Empty(t, rewards)
}

func TestRewardChain_ChainTooShort(t *testing.T) {
	d := newTestDeps(t)
	b := createUser(t, d.DB, 6, "0")
	c := createUser(t, d.DB, 2, "0")
	setReferrer(t, d.DB, c.ID, b.ID)

	rewards, err := newTestChain(d).createPendingRewards(context.Background(), d.DB, 1, c.ID, 2, 3)
	require.NoError(t, err)
	assert.Empty(t, rewards)
}

func TestRewardChain_NoReferrer(t *testing.T) {
	d := newTestDeps(t)
	c := createUser(t, d.DB, 0, "0")

	rewards, err := newTestChain(d).createPendingRewards(context.Background(), d.DB, 1, c.ID, 0, 3)
	require.NoError(t, err)
	assert.Empty(t, rewards)
}
