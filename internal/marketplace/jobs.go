package marketplace

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"freelancehub/internal/database"
)

// JobService 负责任务的创建与状态迁移：
//
//	proposed -> accepted  (任一方)
//	proposed -> rejected  (任一方，需原因)
//	accepted -> completed (仅雇主)
//
// rejected 与 completed 为终态。迁移通过 `WHERE status = ?` 条件更新保证原子性。
type JobService struct {
	db       *gorm.DB
	notifier Notifier
	logger   *slog.Logger
}

func NewJobService(db *gorm.DB, notifier Notifier, logger *slog.Logger) *JobService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &JobService{db: db, notifier: notifier, logger: loggerOrDefault(logger)}
}

// MilestoneInput 描述随任务一起创建或单独创建的里程碑。
type MilestoneInput struct {
	Title       string
	Description string
	DueDate     time.Time
	Amount      float64
}

func (m MilestoneInput) validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return validationf("milestone title is required")
	}
	if m.DueDate.IsZero() {
		return validationf("milestone dueDate is required")
	}
	if m.Amount < 0 {
		return validationf("milestone amount must not be negative")
	}
	return nil
}

func (m MilestoneInput) model(jobID string) database.Milestone {
	return database.Milestone{
		JobID:       jobID,
		Title:       strings.TrimSpace(m.Title),
		Description: strings.TrimSpace(m.Description),
		DueDate:     m.DueDate.UTC(),
		Amount:      m.Amount,
		Status:      database.MilestonePending,
	}
}

// JobInput 是创建任务的参数。ClientID 仅在自由职业者发起建议时使用。
type JobInput struct {
	Title        string
	Description  string
	ClientID     string
	FreelancerID string
	Milestones   []MilestoneInput
}

func (in JobInput) validate() error {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return validationf("title and description are required")
	}
	for i, m := range in.Milestones {
		if err := m.validate(); err != nil {
			return validationf("milestones[%d]: %s", i, Message(err))
		}
	}
	return nil
}

// Init 由雇主直接创建任务，任务与里程碑在同一事务中写入。
func (s *JobService) Init(ctx context.Context, actorID string, in JobInput) (*database.Job, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var job database.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if ok, err := hasProfile(tx, &database.Client{}, actorID); err != nil {
			return err
		} else if !ok {
			return forbiddenf("client profile required")
		}

		freelancerID := strings.TrimSpace(in.FreelancerID)
		if freelancerID != "" {
			if err := requireFreelancerProfile(tx, freelancerID); err != nil {
				return err
			}
		}
		if freelancerID == actorID {
			return validationf("client and freelancer must be different users")
		}

		job = newJob(in, actorID, freelancerID, nil)
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.notifier, s.logger, Event{
		Type:       EventJobProposed,
		JobID:      job.ID,
		ActorID:    actorID,
		Recipients: recipients(job.Counterparty(actorID)),
	})
	return &job, nil
}

// Suggest 由任一方发起任务建议。操作者的角色通过档案判断（雇主档案优先）；
// parentJobID 非空时表示对已有任务的还价，操作者必须是原任务一方，
// 且角色与对方默认取自原任务。
func (s *JobService) Suggest(ctx context.Context, actorID, parentJobID string, in JobInput) (*database.Job, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var job database.Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		isClient, err := hasProfile(tx, &database.Client{}, actorID)
		if err != nil {
			return err
		}
		isFreelancer, err := hasProfile(tx, &database.Freelancer{}, actorID)
		if err != nil {
			return err
		}
		if !isClient && !isFreelancer {
			return forbiddenf("client or freelancer profile required")
		}
		actAsClient := isClient

		clientID := strings.TrimSpace(in.ClientID)
		freelancerID := strings.TrimSpace(in.FreelancerID)

		var parentID *string
		if parentJobID != "" {
			var parent database.Job
			if err := tx.Where("id = ?", parentJobID).Take(&parent).Error; err != nil {
				return lookupError(err, "job")
			}
			if !parent.HasParty(actorID) {
				return forbiddenf("not a party of this job")
			}
			actAsClient = parent.ClientID == actorID
			if actAsClient && freelancerID == "" && parent.FreelancerID != nil {
				freelancerID = *parent.FreelancerID
			}
			if !actAsClient && clientID == "" {
				clientID = parent.ClientID
			}
			parentID = &parent.ID
		}

		if actAsClient {
			if !isClient {
				return forbiddenf("client profile required")
			}
			clientID = actorID
			if freelancerID != "" {
				if err := requireFreelancerProfile(tx, freelancerID); err != nil {
					return err
				}
			}
		} else {
			if !isFreelancer {
				return forbiddenf("freelancer profile required")
			}
			freelancerID = actorID
			if clientID == "" {
				return validationf("clientId is required")
			}
			if ok, err := hasProfile(tx, &database.Client{}, clientID); err != nil {
				return err
			} else if !ok {
				return validationf("unknown client %q", clientID)
			}
		}
		if clientID == freelancerID {
			return validationf("client and freelancer must be different users")
		}

		job = newJob(in, clientID, freelancerID, parentID)
		if err := tx.Create(&job).Error; err != nil {
			return fmt.Errorf("create job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.notifier, s.logger, Event{
		Type:       EventJobProposed,
		JobID:      job.ID,
		ActorID:    actorID,
		Recipients: recipients(job.Counterparty(actorID)),
	})
	return &job, nil
}

// Get 返回任务及里程碑，仅任务双方可见。
func (s *JobService) Get(ctx context.Context, actorID, jobID string) (*database.Job, error) {
	job, err := s.load(s.db.WithContext(ctx), jobID, true)
	if err != nil {
		return nil, err
	}
	if !job.HasParty(actorID) {
		return nil, forbiddenf("not a party of this job")
	}
	return job, nil
}

// List 返回用户作为雇主或自由职业者参与的任务，最新的在前；status 为空时不过滤。
func (s *JobService) List(ctx context.Context, actorID string, status database.JobStatus) ([]database.Job, error) {
	q := s.db.WithContext(ctx).
		Preload("Milestones", orderByDueDate).
		Where("(client_id = ? OR freelancer_id = ?)", actorID, actorID)
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var jobs []database.Job
	if err := q.Order("created_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// Accept 将 proposed 任务置为 accepted。
func (s *JobService) Accept(ctx context.Context, actorID, jobID string) (*database.Job, error) {
	now := time.Now().UTC()
	job, err := s.transition(ctx, actorID, jobID, requireParty, database.JobProposed, database.JobAccepted, map[string]any{
		"accepted_at": now,
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, EventJobAccepted, job, actorID)
	return job, nil
}

// Reject 将 proposed 任务置为 rejected 并记录原因。
func (s *JobService) Reject(ctx context.Context, actorID, jobID, reason string) (*database.Job, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, validationf("rejectReason is required")
	}
	job, err := s.transition(ctx, actorID, jobID, requireParty, database.JobProposed, database.JobRejected, map[string]any{
		"reject_reason": reason,
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, EventJobRejected, job, actorID)
	return job, nil
}

// Complete 由雇主将 accepted 任务标记为完成。
func (s *JobService) Complete(ctx context.Context, actorID, jobID string) (*database.Job, error) {
	now := time.Now().UTC()
	job, err := s.transition(ctx, actorID, jobID, requireClient, database.JobAccepted, database.JobCompleted, map[string]any{
		"completed_at": now,
	})
	if err != nil {
		return nil, err
	}
	s.announce(ctx, EventJobCompleted, job, actorID)
	return job, nil
}

func (s *JobService) transition(
	ctx context.Context,
	actorID, jobID string,
	authorize func(*database.Job, string) error,
	from, to database.JobStatus,
	updates map[string]any,
) (*database.Job, error) {
	db := s.db.WithContext(ctx)

	job, err := s.load(db, jobID, false)
	if err != nil {
		return nil, err
	}
	if err := authorize(job, actorID); err != nil {
		return nil, err
	}
	if job.Status != from {
		return nil, transitionf("job is %s", job.Status)
	}

	updates["status"] = to
	updates["version"] = gorm.Expr("version + ?", 1)
	res := db.Model(&database.Job{}).
		Where("id = ? AND status = ?", jobID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update job status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, transitionf("job status changed concurrently")
	}

	s.logger.Info("job transitioned",
		slog.String("job_id", jobID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
		slog.String("actor_id", actorID),
	)
	return s.load(db, jobID, true)
}

func (s *JobService) announce(ctx context.Context, eventType EventType, job *database.Job, actorID string) {
	publish(ctx, s.notifier, s.logger, Event{
		Type:       eventType,
		JobID:      job.ID,
		ActorID:    actorID,
		Recipients: recipients(job.Counterparty(actorID)),
	})
}

func (s *JobService) load(db *gorm.DB, jobID string, withMilestones bool) (*database.Job, error) {
	if withMilestones {
		db = db.Preload("Milestones", orderByDueDate)
	}
	var job database.Job
	if err := db.Where("id = ?", jobID).Take(&job).Error; err != nil {
		return nil, lookupError(err, "job")
	}
	return &job, nil
}

func requireParty(job *database.Job, actorID string) error {
	if !job.HasParty(actorID) {
		return forbiddenf("not a party of this job")
	}
	return nil
}

func requireClient(job *database.Job, actorID string) error {
	if job.ClientID != actorID {
		return forbiddenf("only the client can complete this job")
	}
	return nil
}

func newJob(in JobInput, clientID, freelancerID string, parentID *string) database.Job {
	job := database.Job{
		Title:           strings.TrimSpace(in.Title),
		Description:     strings.TrimSpace(in.Description),
		ClientID:        clientID,
		SuggestedFromID: parentID,
		Status:          database.JobProposed,
		Version:         1,
		Milestones:      make([]database.Milestone, 0, len(in.Milestones)),
	}
	if freelancerID != "" {
		job.FreelancerID = &freelancerID
	}
	for _, m := range in.Milestones {
		job.Milestones = append(job.Milestones, m.model(""))
	}
	return job
}

func hasProfile(tx *gorm.DB, model any, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	var count int64
	if err := tx.Model(model).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, fmt.Errorf("count profiles: %w", err)
	}
	return count > 0, nil
}

func requireFreelancerProfile(tx *gorm.DB, userID string) error {
	ok, err := hasProfile(tx, &database.Freelancer{}, userID)
	if err != nil {
		return err
	}
	if !ok {
		return validationf("unknown freelancer %q", userID)
	}
	return nil
}
