package service

import (
	"context"
	"testing"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/auth"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const adminMobile = "13800000000"

func newTestUserService(t *testing.T, d Deps) (*UserService, *auth.TokenIssuer) {
	t.Helper()
	tokens, err := auth.NewTokenIssuer(config.AuthConfig{
		Secret:      "test-secret-0123456789",
		ExpireHours: 1,
		Issuer:      "ledgerpay",
	})
	require.NoError(t, err)
	return NewUserService(d, tokens, []string{adminMobile}), tokens
}

func TestRegisterAndLogin(t *testing.T) {
	d := newTestDeps(t)
	svc, tokens := newTestUserService(t, d)
	ctx := context.Background()

	inviter, err := svc.Register(ctx, &RegisterRequest{Mobile: adminMobile, Password: "secret1"})
	require.NoError(t, err)
	assert.Len(t, inviter.ReferralCode, 6)
	assert.Equal(t, "微信用户", inviter.Name)
	assert.NotEqual(t, "secret1", inviter.PasswordHash)

	invitee, err := svc.Register(ctx, &RegisterRequest{
		Mobile:       "13900000001",
		Password:     "secret2",
		Name:         "小王",
		ReferralCode: inviter.ReferralCode,
	})
	require.NoError(t, err)

	referrer, err := svc.GetReferrer(ctx, invitee.ID)
	require.NoError(t, err)
	require.NotNil(t, referrer)
	assert.Equal(t, inviter.ID, referrer.ID)

	_, err = svc.Register(ctx, &RegisterRequest{Mobile: adminMobile, Password: "secret3"})
	assert.ErrorIs(t, err, repository.ErrMobileRegistered)

	_, err = svc.Register(ctx, &RegisterRequest{Mobile: "13900000002", Password: "secret3", ReferralCode: "ZZZZZZ"})
	var refErr *ReferralError
	assert.ErrorAs(t, err, &refErr)

	admin, err := svc.Login(ctx, adminMobile, "secret1")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, admin.Role)
	claims, err := tokens.Parse(admin.Token)
	require.NoError(t, err)
	assert.Equal(t, inviter.ID, claims.UserID)
	assert.Equal(t, auth.RoleAdmin, claims.Role)

	user, err := svc.Login(ctx, "13900000001", "secret2")
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, user.Role)

	_, err = svc.Login(ctx, "13900000001", "wrong-password")
	assert.ErrorIs(t, err, ErrLoginFailed)
	_, err = svc.Login(ctx, "13999999999", "secret2")
	assert.ErrorIs(t, err, ErrLoginFailed)

	require.NoError(t, d.DB.Model(&model.User{}).Where("id = ?", invitee.ID).Update("status", model.UserStatusFrozen).Error)
	_, err = svc.Login(ctx, "13900000001", "secret2")
	assert.ErrorIs(t, err, ErrUserFrozen)
}

func TestSetReferrer(t *testing.T) {
	d := newTestDeps(t)
	svc, _ := newTestUserService(t, d)
	ctx := context.Background()

	a := createUser(t, d.DB, 0, "0")
	b := createUser(t, d.DB, 0, "0")
	c := createUser(t, d.DB, 0, "0")

	var refErr *ReferralError
	assert.ErrorAs(t, svc.SetReferrer(ctx, a.ID, a.ID), &refErr)
	assert.ErrorAs(t, svc.SetReferrer(ctx, a.ID, 9999), &refErr)

	require.NoError(t, svc.SetReferrer(ctx, b.ID, a.ID))
	require.NoError(t, svc.SetReferrer(ctx, c.ID, b.ID))

	// a -> b -> c，再让 a 挂到 c 下会成环
	assert.ErrorAs(t, svc.SetReferrer(ctx, a.ID, c.ID), &refErr)
	// 推荐关系只能设置一次
	assert.ErrorAs(t, svc.SetReferrer(ctx, c.ID, a.ID), &refErr)

	got, err := svc.GetReferrer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)

	none, err := svc.GetReferrer(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetTeam(t *testing.T) {
	d := newTestDeps(t)
	svc, _ := newTestUserService(t, d)
	ctx := context.Background()

	root := createUser(t, d.DB, 1, "0")
	b := createUser(t, d.DB, 2, "0")
	c := createUser(t, d.DB, 0, "0")
	e := createUser(t, d.DB, 3, "0")
	setReferrer(t, d.DB, b.ID, root.ID)
	setReferrer(t, d.DB, c.ID, root.ID)
	setReferrer(t, d.DB, e.ID, b.ID)

	team, err := svc.GetTeam(ctx, root.ID, 0)
	require.NoError(t, err)
	require.Len(t, team, 3)
	assert.Equal(t, b.ID, team[0].UserID)
	assert.Equal(t, 1, team[0].Layer)
	assert.Equal(t, c.ID, team[1].UserID)
	assert.Equal(t, e.ID, team[2].UserID)
	assert.Equal(t, 2, team[2].Layer)
	assert.Equal(t, 3, team[2].MemberLevel)

	direct, err := svc.GetTeam(ctx, root.ID, 1)
	require.NoError(t, err)
	assert.Len(t, direct, 2)
}

func TestCheckDirectorPromotion(t *testing.T) {
	d := newTestDeps(t)
	d.Finance.DirectorDirectThreshold = 2
	d.Finance.DirectorTeamThreshold = 3
	svc, _ := newTestUserService(t, d)
	ctx := context.Background()

	top := createUser(t, d.DB, 6, "0")
	b := createUser(t, d.DB, 6, "0")
	c := createUser(t, d.DB, 6, "0")
	e := createUser(t, d.DB, 6, "0")
	low := createUser(t, d.DB, 5, "0")
	setReferrer(t, d.DB, b.ID, top.ID)
	setReferrer(t, d.DB, c.ID, top.ID)
	setReferrer(t, d.DB, low.ID, top.ID)
	setReferrer(t, d.DB, e.ID, b.ID)

	promoted, err := svc.CheckDirectorPromotion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)
	assert.Equal(t, model.UserStatusHonorDirector, reloadUser(t, d.DB, top.ID).Status)
	assert.Equal(t, model.UserStatusNormal, reloadUser(t, d.DB, b.ID).Status)

	promoted, err = svc.CheckDirectorPromotion(ctx)
	require.NoError(t, err)
	assert.Zero(t, promoted)
}
