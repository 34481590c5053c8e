package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"freelancehub/internal/database"
)

// ProfileService 读写每个用户至多一份的 Client / Freelancer 档案。
//
// 更新接口统一采用 upsert：档案存在则只更新传入的字段，不存在则创建。
type ProfileService struct {
	db *gorm.DB
}

func NewProfileService(db *gorm.DB) *ProfileService {
	return &ProfileService{db: db}
}

// ClientFields 为 nil 的字段表示未提供。
type ClientFields struct {
	Headline *string
	Bio      *string
	Location *string
	Purpose  *string
}

func (f ClientFields) updates() map[string]any {
	m := map[string]any{}
	setString(m, "headline", f.Headline)
	setString(m, "bio", f.Bio)
	setString(m, "location", f.Location)
	setString(m, "purpose", f.Purpose)
	return m
}

// FreelancerFields 中 Skills 为 nil 表示未提供。
type FreelancerFields struct {
	Skills       []string
	PortfolioURL *string
	Headline     *string
	Bio          *string
	Location     *string
	Rate         *float64
}

func (f FreelancerFields) validate() error {
	for _, skill := range f.Skills {
		if strings.TrimSpace(skill) == "" {
			return validationf("skills must be a list of non-empty strings")
		}
	}
	if f.Rate != nil && *f.Rate < 0 {
		return validationf("rate must not be negative")
	}
	return nil
}

func (f FreelancerFields) updates() map[string]any {
	m := map[string]any{}
	if f.Skills != nil {
		m["skills"] = normalizeSkills(f.Skills)
	}
	setString(m, "portfolio_url", f.PortfolioURL)
	setString(m, "headline", f.Headline)
	setString(m, "bio", f.Bio)
	setString(m, "location", f.Location)
	if f.Rate != nil {
		m["rate"] = *f.Rate
	}
	return m
}

// CreateClient 创建雇主档案；用户不存在返回 ErrNotFound，已存在返回 ErrConflict。
func (s *ProfileService) CreateClient(ctx context.Context, userID string, fields ClientFields) (*database.Client, error) {
	client := database.Client{
		UserID:   userID,
		Headline: deref(fields.Headline),
		Bio:      deref(fields.Bio),
		Location: deref(fields.Location),
		Purpose:  deref(fields.Purpose),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := rejectExisting(tx, &database.Client{}, userID, "client"); err != nil {
			return err
		}
		return createProfile(tx, &client, "client")
	})
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// UpsertClient 更新雇主档案，不存在时创建。
func (s *ProfileService) UpsertClient(ctx context.Context, userID string, fields ClientFields) (*database.Client, bool, error) {
	var (
		client  database.Client
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		err := tx.Where("user_id = ?", userID).Take(&client).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			client = database.Client{
				UserID:   userID,
				Headline: deref(fields.Headline),
				Bio:      deref(fields.Bio),
				Location: deref(fields.Location),
				Purpose:  deref(fields.Purpose),
			}
			created = true
			return createProfile(tx, &client, "client")
		case err != nil:
			return fmt.Errorf("query client: %w", err)
		}
		if updates := fields.updates(); len(updates) > 0 {
			if err := tx.Model(&client).Updates(updates).Error; err != nil {
				return fmt.Errorf("update client: %w", err)
			}
		}
		return tx.Where("id = ?", client.ID).Take(&client).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &client, created, nil
}

// GetClient 返回雇主档案及其用户与发布的任务，只包含 viewerID 参与的任务。
func (s *ProfileService) GetClient(ctx context.Context, viewerID, userID string) (*database.Client, error) {
	var client database.Client
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Jobs", visibleTo(viewerID)).
		Preload("Jobs.Milestones", orderByDueDate).
		Where("user_id = ?", userID).
		Take(&client).Error
	if err != nil {
		return nil, lookupError(err, "client profile")
	}
	return &client, nil
}

// CreateFreelancer 创建自由职业者档案。
func (s *ProfileService) CreateFreelancer(ctx context.Context, userID string, fields FreelancerFields) (*database.Freelancer, error) {
	if err := fields.validate(); err != nil {
		return nil, err
	}
	freelancer := newFreelancer(userID, fields)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := rejectExisting(tx, &database.Freelancer{}, userID, "freelancer"); err != nil {
			return err
		}
		return createProfile(tx, &freelancer, "freelancer")
	})
	if err != nil {
		return nil, err
	}
	return &freelancer, nil
}

// UpsertFreelancer 更新自由职业者档案，不存在时创建。
func (s *ProfileService) UpsertFreelancer(ctx context.Context, userID string, fields FreelancerFields) (*database.Freelancer, bool, error) {
	if err := fields.validate(); err != nil {
		return nil, false, err
	}
	var (
		freelancer database.Freelancer
		created    bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		err := tx.Where("user_id = ?", userID).Take(&freelancer).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			freelancer = newFreelancer(userID, fields)
			created = true
			return createProfile(tx, &freelancer, "freelancer")
		case err != nil:
			return fmt.Errorf("query freelancer: %w", err)
		}
		if updates := fields.updates(); len(updates) > 0 {
			if err := tx.Model(&freelancer).Updates(updates).Error; err != nil {
				return fmt.Errorf("update freelancer: %w", err)
			}
		}
		return tx.Where("id = ?", freelancer.ID).Take(&freelancer).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &freelancer, created, nil
}

// GetFreelancer 返回自由职业者档案及其用户与承接的任务，只包含 viewerID 参与的任务。
func (s *ProfileService) GetFreelancer(ctx context.Context, viewerID, userID string) (*database.Freelancer, error) {
	var freelancer database.Freelancer
	err := s.db.WithContext(ctx).
		Preload("User").
		Preload("Jobs", visibleTo(viewerID)).
		Preload("Jobs.Milestones", orderByDueDate).
		Where("user_id = ?", userID).
		Take(&freelancer).Error
	if err != nil {
		return nil, lookupError(err, "freelancer profile")
	}
	return &freelancer, nil
}

// ListFreelancers 返回全部自由职业者，最新创建的在前。
func (s *ProfileService) ListFreelancers(ctx context.Context) ([]database.Freelancer, error) {
	var freelancers []database.Freelancer
	err := s.db.WithContext(ctx).
		Preload("User").
		Order("created_at DESC").
		Find(&freelancers).Error
	if err != nil {
		return nil, fmt.Errorf("list freelancers: %w", err)
	}
	return freelancers, nil
}

func newFreelancer(userID string, fields FreelancerFields) database.Freelancer {
	f := database.Freelancer{
		UserID:       userID,
		Skills:       normalizeSkills(fields.Skills),
		PortfolioURL: deref(fields.PortfolioURL),
		Headline:     deref(fields.Headline),
		Bio:          deref(fields.Bio),
		Location:     deref(fields.Location),
	}
	if fields.Rate != nil {
		f.Rate = *fields.Rate
	}
	return f
}

func requireUser(tx *gorm.DB, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return validationf("userId is required")
	}
	if err := tx.Select("id").Where("id = ?", userID).Take(&database.User{}).Error; err != nil {
		return lookupError(err, "user")
	}
	return nil
}

func rejectExisting(tx *gorm.DB, model any, userID, kind string) error {
	var count int64
	if err := tx.Model(model).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return fmt.Errorf("count %s profiles: %w", kind, err)
	}
	if count > 0 {
		return conflictf("%s profile already exists", kind)
	}
	return nil
}

func createProfile(tx *gorm.DB, value any, kind string) error {
	if err := tx.Create(value).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return conflictf("%s profile already exists", kind)
		}
		return fmt.Errorf("create %s profile: %w", kind, err)
	}
	return nil
}

func normalizeSkills(skills []string) datatypes.JSONSlice[string] {
	out := make(datatypes.JSONSlice[string], 0, len(skills))
	for _, s := range skills {
		out = append(out, strings.TrimSpace(s))
	}
	return out
}

func setString(m map[string]any, column string, v *string) {
	if v != nil {
		m[column] = strings.TrimSpace(*v)
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}

func orderNewest(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC")
}

// visibleTo 限定为 viewerID 作为雇主或自由职业者参与的任务。
func visibleTo(viewerID string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return orderNewest(db.Where("client_id = ? OR freelancer_id = ?", viewerID, viewerID))
	}
}

func orderByDueDate(db *gorm.DB) *gorm.DB {
	return db.Order("due_date ASC").Order("created_at ASC")
}
