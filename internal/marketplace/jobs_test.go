package marketplace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"freelancehub/internal/database"
	"freelancehub/internal/database/dbtest"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (n *recordingNotifier) Notify(_ context.Context, event Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) last(t *testing.T) Event {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.events)
	return n.events[len(n.events)-1]
}

func sampleMilestones() []MilestoneInput {
	due := time.Now().Add(14 * 24 * time.Hour).UTC().Truncate(time.Second)
	return []MilestoneInput{
		{Title: "Design", Description: "wireframes", DueDate: due, Amount: 500},
		{Title: "Build", Description: "implementation", DueDate: due.Add(7 * 24 * time.Hour), Amount: 1500},
	}
}

func newJobFixture(t *testing.T) (*JobService, *recordingNotifier, string, string) {
	t.Helper()
	db := dbtest.Open(t)
	notifier := &recordingNotifier{}
	svc := NewJobService(db, notifier, nil)
	clientID := dbtest.SeedClient(t, db, "client@example.com")
	freelancerID := dbtest.SeedFreelancer(t, db, "freelancer@example.com")
	return svc, notifier, clientID, freelancerID
}

func TestJobInitCreatesJobWithMilestones(t *testing.T) {
	svc, notifier, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	job, err := svc.Init(ctx, clientID, JobInput{
		Title:        "Landing page",
		Description:  "Marketing site",
		FreelancerID: freelancerID,
		Milestones:   sampleMilestones(),
	})
	require.NoError(t, err)
	assert.Equal(t, database.JobProposed, job.Status)
	assert.Equal(t, clientID, job.ClientID)
	require.NotNil(t, job.FreelancerID)
	assert.Equal(t, freelancerID, *job.FreelancerID)
	assert.Equal(t, 1, job.Version)
	require.Len(t, job.Milestones, 2)
	for _, m := range job.Milestones {
		assert.Equal(t, job.ID, m.JobID)
		assert.Equal(t, database.MilestonePending, m.Status)
	}

	stored, err := svc.Get(ctx, freelancerID, job.ID)
	require.NoError(t, err)
	require.Len(t, stored.Milestones, 2)
	assert.Equal(t, "Design", stored.Milestones[0].Title)

	ev := notifier.last(t)
	assert.Equal(t, EventJobProposed, ev.Type)
	assert.Equal(t, []string{freelancerID}, ev.Recipients)
}

func TestJobInitValidation(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	_, err := svc.Init(ctx, clientID, JobInput{Description: "no title"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Init(ctx, clientID, JobInput{
		Title:       "t",
		Description: "d",
		Milestones:  []MilestoneInput{{Title: "m", DueDate: time.Now(), Amount: -1}},
	})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, Message(err), "milestones[0]")

	_, err = svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: "missing"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.Init(ctx, freelancerID, JobInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJobInitRollsBackOnMilestoneFailure(t *testing.T) {
	svc, notifier, clientID, _ := newJobFixture(t)

	// 里程碑写入失败时，任务本身也不应落库。
	err := svc.db.Callback().Create().Before("gorm:create").Register("test:fail_milestones", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "milestones" {
			_ = tx.AddError(errors.New("milestone insert failed"))
		}
	})
	require.NoError(t, err)

	_, err = svc.Init(context.Background(), clientID, JobInput{Title: "t", Description: "d", Milestones: sampleMilestones()})
	require.Error(t, err)

	var count int64
	require.NoError(t, svc.db.Model(&database.Job{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.Empty(t, notifier.events)
}

func TestJobAcceptByEitherParty(t *testing.T) {
	svc, notifier, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	job, err := svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)

	accepted, err := svc.Accept(ctx, freelancerID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobAccepted, accepted.Status)
	assert.NotNil(t, accepted.AcceptedAt)
	assert.Equal(t, 2, accepted.Version)

	ev := notifier.last(t)
	assert.Equal(t, EventJobAccepted, ev.Type)
	assert.Equal(t, []string{clientID}, ev.Recipients)

	_, err = svc.Accept(ctx, clientID, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestJobTransitionsRejectOutsiders(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()
	outsider := dbtest.SeedFreelancer(t, svc.db, "outsider@example.com")

	job, err := svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)

	_, err = svc.Accept(ctx, outsider, job.ID)
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Reject(ctx, outsider, job.ID, "no")
	assert.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Get(ctx, outsider, job.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Accept(ctx, clientID, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJobRejectRequiresReasonAndIsTerminal(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	job, err := svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)

	_, err = svc.Reject(ctx, freelancerID, job.ID, "  ")
	assert.ErrorIs(t, err, ErrValidation)

	rejected, err := svc.Reject(ctx, freelancerID, job.ID, "budget too low")
	require.NoError(t, err)
	assert.Equal(t, database.JobRejected, rejected.Status)
	assert.Equal(t, "budget too low", rejected.RejectReason)

	_, err = svc.Accept(ctx, clientID, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Complete(ctx, clientID, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestJobCompleteOnlyByClientFromAccepted(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	job, err := svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)

	_, err = svc.Complete(ctx, clientID, job.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Accept(ctx, freelancerID, job.ID)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, freelancerID, job.ID)
	assert.ErrorIs(t, err, ErrForbidden)

	completed, err := svc.Complete(ctx, clientID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, database.JobCompleted, completed.Status)
	assert.NotNil(t, completed.CompletedAt)
}

func TestJobConcurrentAcceptOnlyOneWins(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	job, err := svc.Init(ctx, clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for _, actor := range []string{clientID, freelancerID, clientID, freelancerID} {
		wg.Add(1)
		go func(actor string) {
			defer wg.Done()
			_, err := svc.Accept(ctx, actor, job.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrInvalidTransition):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(actor)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, 3, conflicts)
}

func TestJobListFiltersByPartyAndStatus(t *testing.T) {
	svc, _, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()
	otherClient := dbtest.SeedClient(t, svc.db, "other@example.com")

	first, err := svc.Init(ctx, clientID, JobInput{Title: "first", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)
	_, err = svc.Init(ctx, clientID, JobInput{Title: "second", Description: "d"})
	require.NoError(t, err)
	_, err = svc.Init(ctx, otherClient, JobInput{Title: "foreign", Description: "d"})
	require.NoError(t, err)
	_, err = svc.Accept(ctx, freelancerID, first.ID)
	require.NoError(t, err)

	jobs, err := svc.List(ctx, clientID, "")
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	jobs, err = svc.List(ctx, freelancerID, "")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, first.ID, jobs[0].ID)

	jobs, err = svc.List(ctx, clientID, database.JobProposed)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "second", jobs[0].Title)
}

func TestJobSuggestResolvesRoles(t *testing.T) {
	svc, notifier, clientID, freelancerID := newJobFixture(t)
	ctx := context.Background()

	// 自由职业者向雇主发起建议。
	suggested, err := svc.Suggest(ctx, freelancerID, "", JobInput{Title: "t", Description: "d", ClientID: clientID})
	require.NoError(t, err)
	assert.Equal(t, clientID, suggested.ClientID)
	require.NotNil(t, suggested.FreelancerID)
	assert.Equal(t, freelancerID, *suggested.FreelancerID)
	assert.Equal(t, []string{clientID}, notifier.last(t).Recipients)

	_, err = svc.Suggest(ctx, freelancerID, "", JobInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, ErrValidation)

	// 雇主对该建议还价，对方默认取自原任务。
	counter, err := svc.Suggest(ctx, clientID, suggested.ID, JobInput{Title: "t2", Description: "d2", Milestones: sampleMilestones()})
	require.NoError(t, err)
	assert.Equal(t, clientID, counter.ClientID)
	require.NotNil(t, counter.FreelancerID)
	assert.Equal(t, freelancerID, *counter.FreelancerID)
	require.NotNil(t, counter.SuggestedFromID)
	assert.Equal(t, suggested.ID, *counter.SuggestedFromID)
	assert.Len(t, counter.Milestones, 2)

	stranger := dbtest.SeedUser(t, svc.db, "Nobody", "nobody@example.com")
	_, err = svc.Suggest(ctx, stranger, "", JobInput{Title: "t", Description: "d"})
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestJobNotifyFailureDoesNotFailRequest(t *testing.T) {
	svc, notifier, clientID, freelancerID := newJobFixture(t)
	notifier.err = errors.New("queue down")

	job, err := svc.Init(context.Background(), clientID, JobInput{Title: "t", Description: "d", FreelancerID: freelancerID})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
}
