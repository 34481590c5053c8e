package marketplace

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gorm.io/gorm"

	"freelancehub/internal/database"
)

// UserService 处理基于邮箱的登录（不存在即创建）。
type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// SignInResult 描述登录结果。
type SignInResult struct {
	User          database.User
	Created       bool
	ProfileExists bool
}

// SignIn 按邮箱查找用户，不存在时以给定姓名创建。
func (s *UserService) SignIn(ctx context.Context, name, email string) (SignInResult, error) {
	name = strings.TrimSpace(name)
	email = strings.ToLower(strings.TrimSpace(email))
	if name == "" || email == "" {
		return SignInResult{}, validationf("name and email are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return SignInResult{}, validationf("invalid email")
	}

	db := s.db.WithContext(ctx)
	var result SignInResult

	err := db.Where("email = ?", email).Take(&result.User).Error
	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrRecordNotFound):
		result.User = database.User{Name: name, Email: email}
		if err := db.Create(&result.User).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return SignInResult{}, fmt.Errorf("create user: %w", err)
			}
			// 并发首次登录：读取先写入的一方。
			result.User = database.User{}
			if err := db.Where("email = ?", email).Take(&result.User).Error; err != nil {
				return SignInResult{}, lookupError(err, "user")
			}
		} else {
			result.Created = true
		}
	default:
		return SignInResult{}, fmt.Errorf("query user: %w", err)
	}

	exists, err := s.hasProfile(ctx, result.User.ID)
	if err != nil {
		return SignInResult{}, err
	}
	result.ProfileExists = exists
	return result, nil
}

// Get 返回用户及其两种档案。
func (s *UserService) Get(ctx context.Context, userID string) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).
		Preload("Client").
		Preload("Freelancer").
		Where("id = ?", userID).
		Take(&user).Error
	if err != nil {
		return nil, lookupError(err, "user")
	}
	return &user, nil
}

func (s *UserService) hasProfile(ctx context.Context, userID string) (bool, error) {
	db := s.db.WithContext(ctx)
	var clients, freelancers int64
	if err := db.Model(&database.Client{}).Where("user_id = ?", userID).Count(&clients).Error; err != nil {
		return false, fmt.Errorf("count client profiles: %w", err)
	}
	if err := db.Model(&database.Freelancer{}).Where("user_id = ?", userID).Count(&freelancers).Error; err != nil {
		return false, fmt.Errorf("count freelancer profiles: %w", err)
	}
	return clients+freelancers > 0, nil
}
