package marketplace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"freelancehub/internal/database"
	"freelancehub/internal/database/dbtest"
)

type milestoneFixture struct {
	jobs         *JobService
	milestones   *MilestoneService
	notifier     *recordingNotifier
	clientID     string
	freelancerID string
	job          *database.Job
}

func newMilestoneFixture(t *testing.T, policy MilestonePolicy) *milestoneFixture {
	t.Helper()
	db := dbtest.Open(t)
	notifier := &recordingNotifier{}
	f := &milestoneFixture{
		jobs:         NewJobService(db, notifier, nil),
		milestones:   NewMilestoneService(db, notifier, nil, policy),
		notifier:     notifier,
		clientID:     dbtest.SeedClient(t, db, "client@example.com"),
		freelancerID: dbtest.SeedFreelancer(t, db, "freelancer@example.com"),
	}

	job, err := f.jobs.Init(context.Background(), f.clientID, JobInput{
		Title:        "App",
		Description:  "Mobile app",
		FreelancerID: f.freelancerID,
		Milestones:   sampleMilestones(),
	})
	require.NoError(t, err)
	f.job = job
	return f
}

func (f *milestoneFixture) accept(t *testing.T) {
	t.Helper()
	_, err := f.jobs.Accept(context.Background(), f.freelancerID, f.job.ID)
	require.NoError(t, err)
}

func (f *milestoneFixture) milestoneID() string {
	return f.job.Milestones[0].ID
}

func TestSubmitRequiresAcceptedJob(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})

	_, err := f.milestones.Submit(context.Background(), f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "done"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestSubmitAuthorization(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	f.accept(t)
	ctx := context.Background()

	_, err := f.milestones.Submit(ctx, f.clientID, f.milestoneID(), SubmissionInput{Comments: "done"})
	assert.ErrorIs(t, err, ErrForbidden, "client has no freelancer profile")

	other := dbtest.SeedFreelancer(t, f.milestones.db, "other@example.com")
	_, err = f.milestones.Submit(ctx, other, f.milestoneID(), SubmissionInput{Comments: "done"})
	assert.ErrorIs(t, err, ErrForbidden, "not the assigned freelancer")

	_, err = f.milestones.Submit(ctx, f.freelancerID, "missing", SubmissionInput{Comments: "done"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSubmitValidatesFiles(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	f.accept(t)
	ctx := context.Background()

	_, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{
		Files: []string{"submissions/other-milestone/" + f.freelancerID + "/a.pdf"},
	})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Files: []string{"ftp://host/file"}})
	assert.ErrorIs(t, err, ErrValidation)

	key := SubmissionObjectPrefix(f.milestoneID(), f.freelancerID) + "report.pdf"
	submission, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{
		Files:    []string{key, "https://github.com/acme/app/pull/1", " "},
		Comments: "first delivery",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{key, "https://github.com/acme/app/pull/1"}, []string(submission.Files))
	assert.Equal(t, database.SubmissionSubmitted, submission.Status)

	ev := f.notifier.last(t)
	assert.Equal(t, EventMilestoneSubmitted, ev.Type)
	assert.Equal(t, submission.ID, ev.SubmissionID)
	assert.Equal(t, []string{f.clientID}, ev.Recipients)
}

func TestSubmitApproveFlow(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	f.accept(t)
	ctx := context.Background()

	submission, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "done"})
	require.NoError(t, err)

	_, err = f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "again"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "pending review blocks another submission")

	_, err = f.milestones.Approve(ctx, f.freelancerID, submission.ID)
	assert.ErrorIs(t, err, ErrForbidden, "approver needs a client profile")

	approved, err := f.milestones.Approve(ctx, f.clientID, submission.ID)
	require.NoError(t, err)
	assert.Equal(t, database.SubmissionApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, f.clientID, *approved.ReviewedBy)
	assert.NotNil(t, approved.ReviewedAt)

	milestones, err := f.milestones.List(ctx, f.clientID, f.job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.MilestoneApproved, milestones[0].Status)

	ev := f.notifier.last(t)
	assert.Equal(t, EventMilestoneApproved, ev.Type)
	assert.Equal(t, []string{f.freelancerID}, ev.Recipients)

	_, err = f.milestones.Approve(ctx, f.clientID, submission.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.milestones.Reject(ctx, f.clientID, submission.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "more"})
	assert.ErrorIs(t, err, ErrInvalidTransition, "approved milestones are closed")
}

func TestApproveByAnotherClientIsForbidden(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	f.accept(t)
	ctx := context.Background()

	submission, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "done"})
	require.NoError(t, err)

	otherClient := dbtest.SeedClient(t, f.milestones.db, "other-client@example.com")
	_, err = f.milestones.Approve(ctx, otherClient, submission.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.milestones.Approve(ctx, f.clientID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResubmitAfterRejectFollowsPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed", func(t *testing.T) {
		f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
		f.accept(t)

		first, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "v1"})
		require.NoError(t, err)
		rejected, err := f.milestones.Reject(ctx, f.clientID, first.ID)
		require.NoError(t, err)
		assert.Equal(t, database.SubmissionRejected, rejected.Status)

		second, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "v2"})
		require.NoError(t, err)

		history, err := f.milestones.Submissions(ctx, f.clientID, f.milestoneID())
		require.NoError(t, err)
		require.Len(t, history, 2)
		ids := []string{history[0].ID, history[1].ID}
		assert.ElementsMatch(t, []string{first.ID, second.ID}, ids)
	})

	t.Run("disabled", func(t *testing.T) {
		f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: false})
		f.accept(t)

		first, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "v1"})
		require.NoError(t, err)
		_, err = f.milestones.Reject(ctx, f.clientID, first.ID)
		require.NoError(t, err)

		_, err = f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "v2"})
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestMilestoneCRUD(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	ctx := context.Background()

	created, err := f.milestones.Create(ctx, f.freelancerID, f.job.ID, MilestoneInput{
		Title:   "Launch",
		DueDate: time.Now().Add(60 * 24 * time.Hour),
		Amount:  250,
	})
	require.NoError(t, err)
	assert.Equal(t, database.MilestonePending, created.Status)

	_, err = f.milestones.Create(ctx, f.clientID, f.job.ID, MilestoneInput{Title: "No date"})
	assert.ErrorIs(t, err, ErrValidation)

	outsider := dbtest.SeedClient(t, f.milestones.db, "outsider@example.com")
	_, err = f.milestones.List(ctx, outsider, f.job.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = f.milestones.List(ctx, f.clientID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	newTitle := "Launch v2"
	amount := 300.0
	updated, err := f.milestones.Update(ctx, f.clientID, created.ID, MilestoneUpdate{Title: &newTitle, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "Launch v2", updated.Title)
	assert.Equal(t, 300.0, updated.Amount)

	negative := -1.0
	_, err = f.milestones.Update(ctx, f.clientID, created.ID, MilestoneUpdate{Amount: &negative})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.milestones.Update(ctx, f.clientID, created.ID, MilestoneUpdate{})
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.milestones.Delete(ctx, f.clientID, created.ID))
	milestones, err := f.milestones.List(ctx, f.clientID, f.job.ID)
	require.NoError(t, err)
	assert.Len(t, milestones, 2)

	err = f.milestones.Delete(ctx, outsider, f.milestoneID())
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestMilestoneCreateOnTerminalJobConflicts(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	ctx := context.Background()

	_, err := f.jobs.Reject(ctx, f.freelancerID, f.job.ID, "not now")
	require.NoError(t, err)

	_, err = f.milestones.Create(ctx, f.clientID, f.job.ID, MilestoneInput{Title: "late", DueDate: time.Now()})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMilestoneUpdateOnTerminalJobConflicts(t *testing.T) {
	for name, finish := range map[string]func(f *milestoneFixture) error{
		"rejected": func(f *milestoneFixture) error {
			_, err := f.jobs.Reject(context.Background(), f.freelancerID, f.job.ID, "not now")
			return err
		},
		"completed": func(f *milestoneFixture) error {
			ctx := context.Background()
			if _, err := f.jobs.Accept(ctx, f.freelancerID, f.job.ID); err != nil {
				return err
			}
			_, err := f.jobs.Complete(ctx, f.clientID, f.job.ID)
			return err
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newMilestoneFixture(t, MilestonePolicy{})
			require.NoError(t, finish(f))

			title := "renamed"
			_, err := f.milestones.Update(context.Background(), f.clientID, f.milestoneID(), MilestoneUpdate{Title: &title})
			assert.ErrorIs(t, err, ErrConflict)

			milestones, err := f.milestones.List(context.Background(), f.clientID, f.job.ID)
			require.NoError(t, err)
			assert.NotEqual(t, "renamed", milestones[0].Title)
		})
	}
}

func TestMilestoneUpdateAfterApprovalConflicts(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{})
	f.accept(t)
	ctx := context.Background()

	submission, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "done"})
	require.NoError(t, err)
	_, err = f.milestones.Approve(ctx, f.clientID, submission.ID)
	require.NoError(t, err)

	amount := 1.0
	_, err = f.milestones.Update(ctx, f.clientID, f.milestoneID(), MilestoneUpdate{Amount: &amount})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestMilestoneUpdateLosesToConcurrentApproval(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{})
	f.accept(t)
	db := f.milestones.db
	id := f.milestoneID()

	// 读取之后、写入之前，里程碑被审核通过。
	approved := false
	err := db.Callback().Update().Before("gorm:update").Register("test:approve_between", func(tx *gorm.DB) {
		if approved || tx.Statement.Schema == nil || tx.Statement.Schema.Table != "milestones" {
			return
		}
		approved = true
		_ = tx.Session(&gorm.Session{NewDB: true}).
			Exec("UPDATE milestones SET status = ? WHERE id = ?", database.MilestoneApproved, id).Error
	})
	require.NoError(t, err)

	title := "renamed"
	_, err = f.milestones.Update(context.Background(), f.clientID, id, MilestoneUpdate{Title: &title})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var milestone database.Milestone
	require.NoError(t, db.Where("id = ?", id).Take(&milestone).Error)
	assert.Equal(t, database.MilestoneApproved, milestone.Status)
	assert.NotEqual(t, "renamed", milestone.Title)
}

func TestSubmissionVisibleToPartiesOnly(t *testing.T) {
	f := newMilestoneFixture(t, MilestonePolicy{AllowResubmitAfterReject: true})
	f.accept(t)
	ctx := context.Background()

	submission, err := f.milestones.Submit(ctx, f.freelancerID, f.milestoneID(), SubmissionInput{Comments: "done"})
	require.NoError(t, err)

	got, err := f.milestones.Submission(ctx, f.clientID, submission.ID)
	require.NoError(t, err)
	assert.Equal(t, submission.ID, got.ID)

	outsider := dbtest.SeedFreelancer(t, f.milestones.db, "outsider@example.com")
	_, err = f.milestones.Submission(ctx, outsider, submission.ID)
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestIsSubmissionObjectKey(t *testing.T) {
	prefix := SubmissionObjectPrefix("m1", "u1")
	assert.Equal(t, "submissions/m1/u1/", prefix)

	assert.True(t, IsSubmissionObjectKey("m1", "u1", prefix+"file.pdf"))
	assert.False(t, IsSubmissionObjectKey("m1", "u2", prefix+"file.pdf"))
	assert.False(t, IsSubmissionObjectKey("m1", "u1", prefix+"../escape.pdf"))
	assert.False(t, IsSubmissionObjectKey("m1", "u1", prefix+"a//b"))
	assert.False(t, IsSubmissionObjectKey("m1", "u1", ""))
}
