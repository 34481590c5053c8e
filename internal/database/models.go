package database

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// JobStatus 表示合作任务的生命周期状态。
type JobStatus string

const (
	JobProposed  JobStatus = "proposed"
	JobAccepted  JobStatus = "accepted"
	JobRejected  JobStatus = "rejected"
	JobCompleted JobStatus = "completed"
)

// Terminal 表示状态不可再迁移。
func (s JobStatus) Terminal() bool {
	return s == JobRejected || s == JobCompleted
}

// ParseJobStatus 校验外部传入的状态值。
func ParseJobStatus(raw string) (JobStatus, bool) {
	switch s := JobStatus(raw); s {
	case JobProposed, JobAccepted, JobRejected, JobCompleted:
		return s, true
	}
	return "", false
}

// MilestoneStatus 由最近一次交付的审核结果推导。
type MilestoneStatus string

const (
	MilestonePending   MilestoneStatus = "pending"
	MilestoneSubmitted MilestoneStatus = "submitted"
	MilestoneApproved  MilestoneStatus = "approved"
	MilestoneRejected  MilestoneStatus = "rejected"
)

// SubmissionStatus 表示一次交付的审核状态。
type SubmissionStatus string

const (
	SubmissionSubmitted SubmissionStatus = "SUBMITTED"
	SubmissionApproved  SubmissionStatus = "APPROVED"
	SubmissionRejected  SubmissionStatus = "REJECTED"
)

// User 表示系统中的账号信息，首次通过邮箱登录时创建。
type User struct {
	ID         string      `gorm:"primaryKey;size:36" json:"id"`
	Name       string      `gorm:"size:255;not null" json:"name"`
	Email      string      `gorm:"uniqueIndex;size:255;not null" json:"email"`
	Client     *Client     `gorm:"foreignKey:UserID" json:"client,omitempty"`
	Freelancer *Freelancer `gorm:"foreignKey:UserID" json:"freelancer,omitempty"`
	CreatedAt  time.Time   `json:"createdAt"`
	UpdatedAt  time.Time   `json:"updatedAt"`
}

// Client 是用户的雇主档案，每个用户至多一份。
type Client struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"uniqueIndex;size:36;not null" json:"userId"`
	Headline  string    `gorm:"size:255" json:"headline"`
	Bio       string    `gorm:"type:text" json:"bio"`
	Location  string    `gorm:"size:255" json:"location"`
	Purpose   string    `gorm:"size:255" json:"purpose"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Jobs      []Job     `gorm:"foreignKey:ClientID;references:UserID" json:"jobs,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Freelancer 是用户的自由职业者档案，每个用户至多一份。
type Freelancer struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	UserID       string                      `gorm:"uniqueIndex;size:36;not null" json:"userId"`
	Skills       datatypes.JSONSlice[string] `json:"skills"`
	PortfolioURL string                      `gorm:"size:512" json:"portfolioUrl"`
	Headline     string                      `gorm:"size:255" json:"headline"`
	Bio          string                      `gorm:"type:text" json:"bio"`
	Location     string                      `gorm:"size:255" json:"location"`
	Rate         float64                     `gorm:"not null;default:0" json:"rate"`
	User         *User                       `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Jobs         []Job                       `gorm:"foreignKey:FreelancerID;references:UserID" json:"jobs,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

// Job 表示雇主与自由职业者之间的一次合作。
type Job struct {
	ID              string      `gorm:"primaryKey;size:36" json:"id"`
	Title           string      `gorm:"size:255;not null" json:"title"`
	Description     string      `gorm:"type:text;not null" json:"description"`
	ClientID        string      `gorm:"index;size:36;not null" json:"clientId"`
	FreelancerID    *string     `gorm:"index;size:36" json:"freelancerId"`
	SuggestedFromID *string     `gorm:"size:36" json:"suggestedFromId,omitempty"`
	Status          JobStatus   `gorm:"index;size:16;not null;default:proposed" json:"status"`
	RejectReason    string      `gorm:"type:text" json:"rejectReason,omitempty"`
	AcceptedAt      *time.Time  `json:"acceptedAt"`
	CompletedAt     *time.Time  `json:"completedAt"`
	Version         int         `gorm:"not null;default:1" json:"version"`
	Milestones      []Milestone `gorm:"constraint:OnDelete:CASCADE" json:"milestones"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// HasParty 判断用户是否为任务的任一方。
func (j Job) HasParty(userID string) bool {
	if userID == "" {
		return false
	}
	if j.ClientID == userID {
		return true
	}
	return j.FreelancerID != nil && *j.FreelancerID == userID
}

// Counterparty 返回另一方的用户 ID，不存在时为空字符串。
func (j Job) Counterparty(userID string) string {
	if j.ClientID == userID {
		if j.FreelancerID != nil {
			return *j.FreelancerID
		}
		return ""
	}
	return j.ClientID
}

// Milestone 是任务下可结算的阶段交付。
type Milestone struct {
	ID          string           `gorm:"primaryKey;size:36" json:"id"`
	JobID       string           `gorm:"index;size:36;not null" json:"jobId"`
	Title       string           `gorm:"size:255;not null" json:"title"`
	Description string           `gorm:"type:text" json:"description"`
	DueDate     time.Time        `gorm:"not null" json:"dueDate"`
	Amount      float64          `gorm:"not null;default:0" json:"amount"`
	Status      MilestoneStatus  `gorm:"size:16;not null;default:pending" json:"status"`
	Submissions []WorkSubmission `gorm:"constraint:OnDelete:CASCADE" json:"submissions,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// WorkSubmission 是自由职业者针对里程碑的一次交付。
type WorkSubmission struct {
	ID           string                      `gorm:"primaryKey;size:36" json:"id"`
	MilestoneID  string                      `gorm:"index;size:36;not null" json:"milestoneId"`
	FreelancerID string                      `gorm:"index;size:36;not null" json:"freelancerId"`
	Files        datatypes.JSONSlice[string] `json:"files"`
	Comments     string                      `gorm:"type:text" json:"comments"`
	Status       SubmissionStatus            `gorm:"size:16;not null;default:SUBMITTED" json:"status"`
	ReviewedBy   *string                     `gorm:"size:36" json:"reviewedBy,omitempty"`
	ReviewedAt   *time.Time                  `json:"reviewedAt,omitempty"`
	CreatedAt    time.Time                   `json:"createdAt"`
	UpdatedAt    time.Time                   `json:"updatedAt"`
}

func (u *User) BeforeCreate(*gorm.DB) error           { u.ID = ensureID(u.ID); return nil }
func (c *Client) BeforeCreate(*gorm.DB) error         { c.ID = ensureID(c.ID); return nil }
func (f *Freelancer) BeforeCreate(*gorm.DB) error     { f.ID = ensureID(f.ID); return nil }
func (j *Job) BeforeCreate(*gorm.DB) error            { j.ID = ensureID(j.ID); return nil }
func (m *Milestone) BeforeCreate(*gorm.DB) error      { m.ID = ensureID(m.ID); return nil }
func (s *WorkSubmission) BeforeCreate(*gorm.DB) error { s.ID = ensureID(s.ID); return nil }

func ensureID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

// AllModels 按依赖顺序列出需要建表的模型。
func AllModels() []any {
	return []any{&User{}, &Client{}, &Freelancer{}, &Job{}, &Milestone{}, &WorkSubmission{}}
}
