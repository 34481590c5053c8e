package marketplace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"freelancehub/internal/database"
)

// MilestonePolicy 控制交付流程中未由数据模型约束的行为。
type MilestonePolicy struct {
	// AllowResubmitAfterReject 为 true 时，被驳回的里程碑可以再次提交。
	AllowResubmitAfterReject bool
}

// MilestoneService 负责里程碑的增删改查与交付/审核流程。
//
// 里程碑状态：pending -> submitted -> approved | rejected，rejected 是否可回到
// submitted 由 MilestonePolicy 决定。
type MilestoneService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *slog.Logger
	policy   MilestonePolicy
}

func NewMilestoneService(db *gorm.DB, notifier Notifier, logger *slog.Logger, policy MilestonePolicy) *MilestoneService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &MilestoneService{db: db, notifier: notifier, logger: loggerOrDefault(logger), policy: policy}
}

// MilestoneUpdate 中为 nil 的字段保持不变。
type MilestoneUpdate struct {
	Title       *string
	Description *string
	DueDate     *time.Time
	Amount      *float64
}

// SubmissionInput 是一次交付的内容，Files 为对象存储 key 或外部 URL。
type SubmissionInput struct {
	Files    []string
	Comments string
}

// List 返回任务下全部里程碑，按截止日期排序。
func (s *MilestoneService) List(ctx context.Context, actorID, jobID string) ([]database.Milestone, error) {
	db := s.db.WithContext(ctx)
	if _, err := partyJob(db, jobID, actorID); err != nil {
		return nil, err
	}
	var milestones []database.Milestone
	if err := orderByDueDate(db.Where("job_id = ?", jobID)).Find(&milestones).Error; err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return milestones, nil
}

// Create 为任务新增一个里程碑，已结束的任务不允许再添加。
func (s *MilestoneService) Create(ctx context.Context, actorID, jobID string, in MilestoneInput) (*database.Milestone, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	job, err := partyJob(db, jobID, actorID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, conflictf("job is %s", job.Status)
	}

	milestone := in.model(job.ID)
	if err := db.Create(&milestone).Error; err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}
	return &milestone, nil
}

// Update 部分更新里程碑；已通过审核的里程碑或已结束任务下的里程碑不可修改。
func (s *MilestoneService) Update(ctx context.Context, actorID, milestoneID string, in MilestoneUpdate) (*database.Milestone, error) {
	updates := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, validationf("title must not be empty")
		}
		updates["title"] = title
	}
	if in.Description != nil {
		updates["description"] = strings.TrimSpace(*in.Description)
	}
	if in.DueDate != nil {
		if in.DueDate.IsZero() {
			return nil, validationf("dueDate must not be empty")
		}
		updates["due_date"] = in.DueDate.UTC()
	}
	if in.Amount != nil {
		if *in.Amount < 0 {
			return nil, validationf("amount must not be negative")
		}
		updates["amount"] = *in.Amount
	}
	if len(updates) == 0 {
		return nil, validationf("no fields to update")
	}

	db := s.db.WithContext(ctx)
	milestone, job, err := partyMilestone(db, milestoneID, actorID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, conflictf("job is %s", job.Status)
	}
	if milestone.Status == database.MilestoneApproved {
		return nil, conflictf("milestone already approved")
	}

	// 条件更新，避免与并发的审核通过交错。
	result := db.Model(&database.Milestone{}).
		Where("id = ? AND status <> ?", milestone.ID, database.MilestoneApproved).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("update milestone: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, transitionf("milestone already approved")
	}
	if err := db.Where("id = ?", milestone.ID).Take(milestone).Error; err != nil {
		return nil, lookupError(err, "milestone")
	}
	return milestone, nil
}

// Delete 物理删除里程碑及其交付记录。
func (s *MilestoneService) Delete(ctx context.Context, actorID, milestoneID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, _, err := partyMilestone(tx, milestoneID, actorID)
		if err != nil {
			return err
		}
		if err := tx.Where("milestone_id = ?", milestone.ID).Delete(&database.WorkSubmission{}).Error; err != nil {
			return fmt.Errorf("delete submissions: %w", err)
		}
		if err := tx.Delete(milestone).Error; err != nil {
			return fmt.Errorf("delete milestone: %w", err)
		}
		return nil
	})
}

// CanSubmit 检查操作者能否为该里程碑交付（档案与指派关系），不检查状态。
func (s *MilestoneService) CanSubmit(ctx context.Context, actorID, milestoneID string) error {
	db := s.db.WithContext(ctx)
	milestone, err := loadMilestone(db, milestoneID)
	if err != nil {
		return err
	}
	job, err := loadJob(db, milestone.JobID)
	if err != nil {
		return err
	}
	return authorizeSubmitter(db, job, actorID)
}

// Submit 记录一次交付并把里程碑置为 submitted。
func (s *MilestoneService) Submit(ctx context.Context, actorID, milestoneID string, in SubmissionInput) (*database.WorkSubmission, error) {
	files, err := normalizeFiles(milestoneID, actorID, in.Files)
	if err != nil {
		return nil, err
	}
	comments := strings.TrimSpace(in.Comments)
	if len(files) == 0 && comments == "" {
		return nil, validationf("files or comments are required")
	}

	var (
		submission database.WorkSubmission
		job        *database.Job
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		milestone, err := loadMilestone(tx, milestoneID)
		if err != nil {
			return err
		}
		job, err = loadJob(tx, milestone.JobID)
		if err != nil {
			return err
		}
		if err := authorizeSubmitter(tx, job, actorID); err != nil {
			return err
		}
		if job.Status != database.JobAccepted {
			return conflictf("job is %s, work can only be submitted on accepted jobs", job.Status)
		}

		switch milestone.Status {
		case database.MilestoneSubmitted:
			return transitionf("milestone already has a submission awaiting review")
		case database.MilestoneApproved:
			return transitionf("milestone already approved")
		case database.MilestoneRejected:
			if !s.policy.AllowResubmitAfterReject {
				return transitionf("resubmission after rejection is disabled")
			}
		}

		submission = database.WorkSubmission{
			MilestoneID:  milestone.ID,
			FreelancerID: actorID,
			Files:        files,
			Comments:     comments,
			Status:       database.SubmissionSubmitted,
		}
		if err := tx.Create(&submission).Error; err != nil {
			return fmt.Errorf("create submission: %w", err)
		}
		return setMilestoneStatus(tx, milestone.ID, milestone.Status, database.MilestoneSubmitted)
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.notifier, s.logger, Event{
		Type:         EventMilestoneSubmitted,
		JobID:        job.ID,
		MilestoneID:  milestoneID,
		SubmissionID: submission.ID,
		ActorID:      actorID,
		Recipients:   recipients(job.ClientID),
	})
	return &submission, nil
}

// Approve 由雇主通过一次待审核的交付。
func (s *MilestoneService) Approve(ctx context.Context, actorID, submissionID string) (*database.WorkSubmission, error) {
	return s.review(ctx, actorID, submissionID, database.SubmissionApproved)
}

// Reject 由雇主驳回一次待审核的交付。
func (s *MilestoneService) Reject(ctx context.Context, actorID, submissionID string) (*database.WorkSubmission, error) {
	return s.review(ctx, actorID, submissionID, database.SubmissionRejected)
}

func (s *MilestoneService) review(ctx context.Context, actorID, submissionID string, to database.SubmissionStatus) (*database.WorkSubmission, error) {
	var (
		submission database.WorkSubmission
		job        *database.Job
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", submissionID).Take(&submission).Error; err != nil {
			return lookupError(err, "submission")
		}
		milestone, err := loadMilestone(tx, submission.MilestoneID)
		if err != nil {
			return err
		}
		job, err = loadJob(tx, milestone.JobID)
		if err != nil {
			return err
		}
		if ok, err := hasProfile(tx, &database.Client{}, actorID); err != nil {
			return err
		} else if !ok {
			return forbiddenf("client profile required")
		}
		if job.ClientID != actorID {
			return forbiddenf("only the job's client can review submissions")
		}

		now := time.Now().UTC()
		res := tx.Model(&database.WorkSubmission{}).
			Where("id = ? AND status = ?", submission.ID, database.SubmissionSubmitted).
			Updates(map[string]any{
				"status":      to,
				"reviewed_by": actorID,
				"reviewed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("update submission: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return transitionf("submission is %s", submission.Status)
		}

		milestoneStatus := database.MilestoneApproved
		if to == database.SubmissionRejected {
			milestoneStatus = database.MilestoneRejected
		}
		if err := setMilestoneStatus(tx, milestone.ID, database.MilestoneSubmitted, milestoneStatus); err != nil {
			return err
		}
		return tx.Where("id = ?", submission.ID).Take(&submission).Error
	})
	if err != nil {
		return nil, err
	}

	eventType := EventMilestoneApproved
	if to == database.SubmissionRejected {
		eventType = EventMilestoneRejected
	}
	publish(ctx, s.notifier, s.logger, Event{
		Type:         eventType,
		JobID:        job.ID,
		MilestoneID:  submission.MilestoneID,
		SubmissionID: submission.ID,
		ActorID:      actorID,
		Recipients:   recipients(submission.FreelancerID),
	})
	return &submission, nil
}

// Submissions 返回里程碑的全部交付，最新的在前。
func (s *MilestoneService) Submissions(ctx context.Context, actorID, milestoneID string) ([]database.WorkSubmission, error) {
	db := s.db.WithContext(ctx)
	if _, _, err := partyMilestone(db, milestoneID, actorID); err != nil {
		return nil, err
	}
	var submissions []database.WorkSubmission
	if err := db.Where("milestone_id = ?", milestoneID).Order("created_at DESC").Find(&submissions).Error; err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	return submissions, nil
}

// Submission 返回单条交付，仅任务双方可见。
func (s *MilestoneService) Submission(ctx context.Context, actorID, submissionID string) (*database.WorkSubmission, error) {
	db := s.db.WithContext(ctx)
	var submission database.WorkSubmission
	if err := db.Where("id = ?", submissionID).Take(&submission).Error; err != nil {
		return nil, lookupError(err, "submission")
	}
	if _, _, err := partyMilestone(db, submission.MilestoneID, actorID); err != nil {
		return nil, err
	}
	return &submission, nil
}

// SubmissionObjectPrefix 是交付文件在对象存储中的目录。
func SubmissionObjectPrefix(milestoneID, userID string) string {
	return fmt.Sprintf("submissions/%s/%s/", milestoneID, userID)
}

// IsSubmissionObjectKey 判断 key 是否位于指定里程碑与用户的目录下。
func IsSubmissionObjectKey(milestoneID, userID, key string) bool {
	if key == "" || !utf8.ValidString(key) || len(key) > 300 {
		return false
	}
	if !strings.HasPrefix(key, SubmissionObjectPrefix(milestoneID, userID)) {
		return false
	}
	return !strings.Contains(key, "..") && !strings.Contains(key, "\\") && !strings.Contains(key, "//")
}

func normalizeFiles(milestoneID, actorID string, files []string) ([]string, error) {
	out := make([]string, 0, len(files))
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if strings.HasPrefix(f, "submissions/") {
			if !IsSubmissionObjectKey(milestoneID, actorID, f) {
				return nil, validationf("file %q does not belong to this milestone", f)
			}
			out = append(out, f)
			continue
		}
		u, err := url.Parse(f)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, validationf("file %q must be an uploaded object key or an http(s) URL", f)
		}
		out = append(out, f)
	}
	return out, nil
}

func setMilestoneStatus(tx *gorm.DB, milestoneID string, from, to database.MilestoneStatus) error {
	res := tx.Model(&database.Milestone{}).
		Where("id = ? AND status = ?", milestoneID, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update milestone status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return transitionf("milestone status changed concurrently")
	}
	return nil
}

func authorizeSubmitter(tx *gorm.DB, job *database.Job, actorID string) error {
	ok, err := hasProfile(tx, &database.Freelancer{}, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return forbiddenf("freelancer profile required")
	}
	if job.FreelancerID != nil && *job.FreelancerID != actorID {
		return forbiddenf("only the assigned freelancer can submit work")
	}
	if job.FreelancerID == nil && job.ClientID == actorID {
		return forbiddenf("the client cannot submit work on their own job")
	}
	return nil
}

func loadJob(tx *gorm.DB, jobID string) (*database.Job, error) {
	var job database.Job
	if err := tx.Where("id = ?", jobID).Take(&job).Error; err != nil {
		return nil, lookupError(err, "job")
	}
	return &job, nil
}

func loadMilestone(tx *gorm.DB, milestoneID string) (*database.Milestone, error) {
	var milestone database.Milestone
	if err := tx.Where("id = ?", milestoneID).Take(&milestone).Error; err != nil {
		return nil, lookupError(err, "milestone")
	}
	return &milestone, nil
}

func partyJob(tx *gorm.DB, jobID, actorID string) (*database.Job, error) {
	job, err := loadJob(tx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.HasParty(actorID) {
		return nil, forbiddenf("not a party of this job")
	}
	return job, nil
}

func partyMilestone(tx *gorm.DB, milestoneID, actorID string) (*database.Milestone, *database.Job, error) {
	milestone, err := loadMilestone(tx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	job, err := partyJob(tx, milestone.JobID, actorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, fmt.Errorf("milestone %s references a missing job: %w", milestoneID, err)
		}
		return nil, nil, err
	}
	return milestone, job, nil
}
