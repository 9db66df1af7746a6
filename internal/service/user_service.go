package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"ledgerpay/internal/config"
	"ledgerpay/internal/infrastructure/auth"
	"ledgerpay/internal/model"
	"ledgerpay/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// 推荐码字符集，去掉易混淆的 0 O 1 I
const referralCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

var (
	ErrUserFrozen  = errors.New("账号已被冻结，请联系客服")
	ErrUserDeleted = errors.New("账号已注销")
)

// UserService 注册登录、推荐关系、团队与荣誉董事晋升
type UserService struct {
	db     *gorm.DB
	fin    *config.Finance
	log    *zap.Logger
	users  *repository.UserRepository
	tokens *auth.TokenIssuer
	admins map[string]struct{}
}

func NewUserService(d Deps, tokens *auth.TokenIssuer, adminMobiles []string) *UserService {
	admins := make(map[string]struct{}, len(adminMobiles))
	for _, m := range adminMobiles {
		admins[m] = struct{}{}
	}
	return &UserService{
		db:     d.DB,
		fin:    d.Finance,
		log:    d.logger(),
		users:  repository.NewUserRepository(d.DB),
		tokens: tokens,
		admins: admins,
	}
}

type RegisterRequest struct {
	Mobile       string `json:"mobile" binding:"required"`
	Password     string `json:"password" binding:"required,min=6"`
	Name         string `json:"name"`
	ReferralCode string `json:"referral_code"`
}

// Register 注册用户，生成唯一推荐码；带推荐码时同时绑定推荐人
func (s *UserService) Register(ctx context.Context, req *RegisterRequest) (*model.User, error) {
	mobile := strings.TrimSpace(req.Mobile)
	if mobile == "" {
		return nil, fmt.Errorf("%w: 手机号不能为空", ErrInvalidParam)
	}
	if _, err := s.users.GetByMobile(ctx, mobile); err == nil {
		return nil, repository.ErrMobileRegistered
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	var referrer *model.User
	if req.ReferralCode != "" {
		ref, err := s.users.GetByReferralCode(ctx, strings.ToUpper(req.ReferralCode))
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return nil, &ReferralError{Reason: "推荐码不存在"}
			}
			return nil, fmt.Errorf("查询推荐人失败: %w", err)
		}
		referrer = ref
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}
	code, err := s.uniqueReferralCode(ctx)
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "微信用户"
	}
	user := &model.User{
		Mobile:       mobile,
		PasswordHash: string(hash),
		Name:         name,
		ReferralCode: code,
		Status:       model.UserStatusNormal,
	}
	err = withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		user.ID = 0
		if err := s.users.Create(ctx, tx, user); err != nil {
			return fmt.Errorf("创建用户失败: %w", err)
		}
		if referrer != nil {
			if err := s.users.CreateReferral(ctx, tx, user.ID, referrer.ID); err != nil {
				return fmt.Errorf("绑定推荐人失败: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("用户注册成功", zap.Int64("user_id", user.ID), zap.String("referral_code", code))
	return user, nil
}

func (s *UserService) uniqueReferralCode(ctx context.Context) (string, error) {
	for i := 0; i < 20; i++ {
		b := make([]byte, 6)
		for j := range b {
			b[j] = referralCodeChars[rand.Intn(len(referralCodeChars))]
		}
		code := string(b)
		exists, err := s.users.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("检查推荐码失败: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", errors.New("生成推荐码失败，请重试")
}

type LoginResult struct {
	UserID    int64     `json:"user_id"`
	Level     int       `json:"member_level"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *UserService) Login(ctx context.Context, mobile, password string) (*LoginResult, error) {
	user, err := s.users.GetByMobile(ctx, mobile)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrLoginFailed
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrLoginFailed
	}
	switch user.Status {
	case model.UserStatusFrozen:
		return nil, ErrUserFrozen
	case model.UserStatusDeleted:
		return nil, ErrUserDeleted
	}

	role := auth.RoleUser
	if _, ok := s.admins[user.Mobile]; ok {
		role = auth.RoleAdmin
	}
	token, expiresAt, err := s.tokens.Issue(user.ID, user.MemberLevel, role)
	if err != nil {
		return nil, fmt.Errorf("签发令牌失败: %w", err)
	}
	return &LoginResult{
		UserID:    user.ID,
		Level:     user.MemberLevel,
		Role:      role,
		Token:     token,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *UserService) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	return s.users.GetByID(ctx, nil, userID)
}

// SetReferrer 绑定推荐人：不能推荐自己，不能成环，只能设置一次
func (s *UserService) SetReferrer(ctx context.Context, userID, referrerID int64) error {
	if userID == referrerID {
		return &ReferralError{Reason: "不能设置自己为推荐人"}
	}

	return withTxRetry(ctx, s.db, s.log, func(tx *gorm.DB) error {
		if _, err := s.users.GetByIDForUpdate(ctx, tx, userID); err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return &ReferralError{Reason: fmt.Sprintf("用户不存在: %d", userID)}
			}
			return err
		}
		referrer, err := s.users.GetByID(ctx, tx, referrerID)
		if err != nil {
			if errors.Is(err, repository.ErrUserNotFound) {
				return &ReferralError{Reason: fmt.Sprintf("推荐人不存在: %d", referrerID)}
			}
			return err
		}

		existing, err := s.users.GetReferrerID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if existing != 0 {
			return &ReferralError{Reason: "用户已存在推荐人，无法重复设置"}
		}

		// 沿推荐人向上查找，遇到自己即成环
		seen := map[int64]struct{}{referrerID: {}}
		for cur := referrerID; ; {
			up, err := s.users.GetReferrerID(ctx, tx, cur)
			if err != nil {
				return err
			}
			if up == 0 {
				break
			}
			if up == userID {
				return &ReferralError{Reason: "推荐关系不能成环"}
			}
			if _, ok := seen[up]; ok {
				break
			}
			seen[up] = struct{}{}
			cur = up
		}

		if err := s.users.CreateReferral(ctx, tx, userID, referrerID); err != nil {
			if errors.Is(err, repository.ErrReferrerExists) {
				return &ReferralError{Reason: "用户已存在推荐人，无法重复设置"}
			}
			return err
		}
		s.log.Info("推荐人设置成功",
			zap.Int64("user_id", userID),
			zap.Int64("referrer_id", referrerID),
			zap.Int("referrer_level", referrer.MemberLevel))
		return nil
	})
}

// GetReferrer 返回直接推荐人，没有时返回 nil
func (s *UserService) GetReferrer(ctx context.Context, userID int64) (*model.User, error) {
	id, err := s.users.GetReferrerID(ctx, nil, userID)
	if err != nil || id == 0 {
		return nil, err
	}
	return s.users.GetByID(ctx, nil, id)
}

type TeamMember struct {
	UserID      int64  `json:"user_id"`
	Name        string `json:"name"`
	MemberLevel int    `json:"member_level"`
	Layer       int    `json:"layer"`
}

// GetTeam 按层返回下级团队，maxLayer<=0 时使用配置的最大层数
func (s *UserService) GetTeam(ctx context.Context, userID int64, maxLayer int) ([]*TeamMember, error) {
	if maxLayer <= 0 || maxLayer > s.fin.MaxTeamLayer {
		maxLayer = s.fin.MaxTeamLayer
	}

	layers, err := s.teamLayers(ctx, userID, maxLayer)
	if err != nil {
		return nil, err
	}

	var ids []int64
	layerOf := make(map[int64]int)
	for i, layer := range layers {
		for _, id := range layer {
			ids = append(ids, id)
			layerOf[id] = i + 1
		}
	}
	users, err := s.users.ListByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("查询团队成员失败: %w", err)
	}

	members := make([]*TeamMember, 0, len(users))
	for _, u := range users {
		members = append(members, &TeamMember{
			UserID:      u.ID,
			Name:        u.Name,
			MemberLevel: u.MemberLevel,
			Layer:       layerOf[u.ID],
		})
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].Layer != members[j].Layer {
			return members[i].Layer < members[j].Layer
		}
		return members[i].UserID < members[j].UserID
	})
	return members, nil
}

// teamLayers 逐层展开直推关系，返回每层的用户ID
func (s *UserService) teamLayers(ctx context.Context, userID int64, maxLayer int) ([][]int64, error) {
	visited := map[int64]struct{}{userID: {}}
	frontier := []int64{userID}
	var layers [][]int64
	for layer := 1; layer <= maxLayer && len(frontier) > 0; layer++ {
		refs, err := s.users.ListDirectReferrals(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("查询下级失败: %w", err)
		}
		next := make([]int64, 0, len(refs))
		for _, ref := range refs {
			if _, ok := visited[ref.UserID]; ok {
				continue
			}
			visited[ref.UserID] = struct{}{}
			next = append(next, ref.UserID)
		}
		if len(next) > 0 {
			layers = append(layers, next)
		}
		frontier = next
	}
	return layers, nil
}

// CheckDirectorPromotion 满级用户直推满级人数与团队满级人数均达标时晋升荣誉董事，返回晋升人数
func (s *UserService) CheckDirectorPromotion(ctx context.Context) (int, error) {
	candidates, err := s.users.ListByLevel(ctx, s.fin.MaxMemberLevel)
	if err != nil {
		return 0, fmt.Errorf("查询满级用户失败: %w", err)
	}

	promoted := 0
	for _, c := range candidates {
		layers, err := s.teamLayers(ctx, c.ID, s.fin.MaxTeamLayer)
		if err != nil {
			return promoted, err
		}
		if len(layers) == 0 {
			continue
		}

		var all []int64
		for _, layer := range layers {
			all = append(all, layer...)
		}
		team, err := s.users.ListByIDs(ctx, all)
		if err != nil {
			return promoted, fmt.Errorf("查询团队成员失败: %w", err)
		}
		direct := make(map[int64]struct{}, len(layers[0]))
		for _, id := range layers[0] {
			direct[id] = struct{}{}
		}

		directCount, teamCount := 0, 0
		for _, u := range team {
			if u.MemberLevel != s.fin.MaxMemberLevel {
				continue
			}
			teamCount++
			if _, ok := direct[u.ID]; ok {
				directCount++
			}
		}
		if directCount < s.fin.DirectorDirectThreshold || teamCount < s.fin.DirectorTeamThreshold {
			continue
		}

		ok, err := s.users.PromoteDirector(ctx, c.ID)
		if err != nil {
			return promoted, fmt.Errorf("晋升荣誉董事失败: %w", err)
		}
		if ok {
			promoted++
			s.log.Info("用户晋升为荣誉董事",
				zap.Int64("user_id", c.ID),
				zap.Int("direct", directCount),
				zap.Int("team", teamCount))
		}
	}

	s.log.Info("荣誉董事审核完成", zap.Int("promoted", promoted))
	return promoted, nil
}
