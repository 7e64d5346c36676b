package domain_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newJob() *domain.ExtractionJob {
	return domain.NewExtractionJob("D1", "s3://docs/d1.pdf", domain.PropertyRecordV1.Version, now)
}

func fullFieldSet() domain.FieldSet {
	return domain.FieldSet{
		domain.FieldOwnerName:       {Value: "JOHN DOE", Confidence: 0.95},
		domain.FieldPropertyAddress: domain.NotFound(),
		domain.FieldParcelIDAPN:     {Value: "14-0021-0004", Confidence: 0.98},
		domain.FieldTaxAmountDue:    {Value: "1204.50", Confidence: 0.90},
		domain.FieldDatesMentioned:  domain.NotFound(),
	}
}

func structuringResult() domain.StructuringResult {
	return domain.StructuringResult{Schema: domain.PropertyRecordV1, Fields: fullFieldSet(), ModelUsed: "test-model"}
}

// step applies a named transition to the job.
type step struct {
	name  string
	to    domain.ExtractionState
	apply func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error)
}

var steps = map[string]step{
	"begin": {"begin", domain.StateRecognizing, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Begin(t)
	}},
	"recognized": {"recognized", domain.StateStructuring, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.CompleteRecognition("Parcel 14-0021-0004", 0.8, t)
	}},
	"structured": {"structured", domain.StateReadyForReview, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.CompleteStructuring(structuringResult(), t)
	}},
	"requeue": {"requeue", domain.StateQueued, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Requeue("timeout", time.Second, t)
	}},
	"fail": {"fail", domain.StateFailed, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Fail("Permanent: corrupt file", t)
	}},
	"approve": {"approve", domain.StateApproved, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Approve("reviewer@example.com", t)
	}},
	"reject": {"reject", domain.StateRejected, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Reject("reviewer@example.com", "wrong parcel", t)
	}},
	"resubmit": {"resubmit", domain.StateQueued, func(j *domain.ExtractionJob, t time.Time) (*domain.TransitionEvent, error) {
		return j.Resubmit(domain.ResubmitRestart, t)
	}},
}

func TestStateMachine_LegalSequencesNeverRejected(t *testing.T) {
	sequences := [][]string{
		{"begin", "recognized", "structured", "approve"},
		{"begin", "recognized", "structured", "reject"},
		{"begin", "fail", "resubmit", "begin", "recognized", "structured", "approve"},
		{"begin", "requeue", "begin", "recognized", "requeue", "begin", "recognized", "structured"},
		{"begin", "recognized", "fail", "resubmit", "begin", "requeue", "begin", "fail"},
	}

	for _, seq := range sequences {
		job := newJob()
		for i, name := range seq {
			s := steps[name]
			evt, err := s.apply(job, now.Add(time.Duration(i)*time.Second))
			require.NoError(t, err, "sequence %v step %d (%s)", seq, i, name)
			assert.Equal(t, s.to, job.State)
			assert.Equal(t, s.to, evt.NewState)
		}
	}
}

func TestStateMachine_FirstIllegalEdgeLeavesJobUntouched(t *testing.T) {
	cases := []struct {
		prefix  []string
		illegal string
	}{
		{nil, "recognized"},
		{nil, "structured"},
		{nil, "approve"},
		{nil, "fail"},
		{nil, "resubmit"},
		{[]string{"begin"}, "begin"},
		{[]string{"begin"}, "structured"},
		{[]string{"begin"}, "approve"},
		{[]string{"begin", "recognized"}, "recognized"},
		{[]string{"begin", "recognized", "structured"}, "fail"},
		{[]string{"begin", "recognized", "structured"}, "requeue"},
		{[]string{"begin", "recognized", "structured"}, "resubmit"},
		{[]string{"begin", "recognized", "structured", "approve"}, "approve"},
		{[]string{"begin", "recognized", "structured", "approve"}, "reject"},
		{[]string{"begin", "recognized", "structured", "reject"}, "resubmit"},
		{[]string{"begin", "fail"}, "begin"},
		{[]string{"begin", "fail"}, "approve"},
	}

	for _, tc := range cases {
		job := newJob()
		for _, name := range tc.prefix {
			_, err := steps[name].apply(job, now)
			require.NoError(t, err)
		}
		before := job.Clone()

		evt, err := steps[tc.illegal].apply(job, now.Add(time.Hour))
		require.Error(t, err, "prefix %v then %s", tc.prefix, tc.illegal)
		assert.Nil(t, evt)
		assert.True(t, domain.IsInvalidTransition(err))
		assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))
		assert.Equal(t, before, job, "job must be unchanged after illegal %s", tc.illegal)
	}
}

func TestCanTransition_OnlyDeclaredEdges(t *testing.T) {
	legal := map[[2]domain.ExtractionState]bool{
		{domain.StateQueued, domain.StateRecognizing}:         true,
		{domain.StateRecognizing, domain.StateStructuring}:    true,
		{domain.StateRecognizing, domain.StateFailed}:         true,
		{domain.StateRecognizing, domain.StateQueued}:         true,
		{domain.StateStructuring, domain.StateReadyForReview}: true,
		{domain.StateStructuring, domain.StateFailed}:         true,
		{domain.StateStructuring, domain.StateQueued}:         true,
		{domain.StateReadyForReview, domain.StateApproved}:    true,
		{domain.StateReadyForReview, domain.StateRejected}:    true,
		{domain.StateFailed, domain.StateQueued}:              true,
	}
	for _, from := range domain.AllStates {
		for _, to := range domain.AllStates {
			assert.Equal(t, legal[[2]domain.ExtractionState{from, to}], domain.CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestBegin_IncrementsAttemptCount(t *testing.T) {
	job := newJob()
	for i := 1; i <= 3; i++ {
		_, err := job.Begin(now)
		require.NoError(t, err)
		assert.Equal(t, i, job.AttemptCount)
		_, err = job.Requeue("rate limited", time.Second, now)
		require.NoError(t, err)
	}
}

func TestCompleteStructuring_RejectsIncompleteFieldSet(t *testing.T) {
	job := newJob()
	_, _ = job.Begin(now)
	_, _ = job.CompleteRecognition("text", 0.9, now)
	before := job.Clone()

	res := structuringResult()
	delete(res.Fields, domain.FieldDatesMentioned)
	_, err := job.CompleteStructuring(res, now)

	assert.ErrorIs(t, err, domain.ErrIncompleteFieldSet)
	assert.Equal(t, before, job)
	assert.Nil(t, job.StructuredFields)
}

func TestFail_AlwaysCarriesError(t *testing.T) {
	job := newJob()
	_, _ = job.Begin(now)
	_, err := job.Fail("", now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateFailed, job.State)
	assert.NotEmpty(t, job.Error)
}

func TestResubmit_Policies(t *testing.T) {
	prepare := func() *domain.ExtractionJob {
		job := newJob()
		_, _ = job.Begin(now)
		_, _ = job.CompleteRecognition("Owner: JOHN DOE", 0.7, now)
		_, _ = job.Fail("Permanent: bad response", now)
		return job
	}

	restart := prepare()
	evt, err := restart.Resubmit(domain.ResubmitRestart, now)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, restart.State)
	assert.Equal(t, 2, restart.Epoch)
	assert.Equal(t, 2, evt.Epoch)
	assert.Zero(t, restart.AttemptCount)
	assert.Empty(t, restart.Error)
	assert.False(t, restart.HasRawText())

	reuse := prepare()
	_, err = reuse.Resubmit(domain.ResubmitReuseText, now)
	require.NoError(t, err)
	require.True(t, reuse.HasRawText())
	assert.Equal(t, "Owner: JOHN DOE", *reuse.RawText)
}

func TestReuseRecognition_RequiresRawText(t *testing.T) {
	job := newJob()
	_, _ = job.Begin(now)

	_, err := job.ReuseRecognition(now)
	assert.True(t, domain.IsInvalidTransition(err))
	assert.Equal(t, domain.StateRecognizing, job.State)
}

func TestTransition_UpdatesTimestamp(t *testing.T) {
	job := newJob()
	later := now.Add(5 * time.Minute)
	_, err := job.Begin(later)
	require.NoError(t, err)
	assert.Equal(t, later, job.UpdatedAt)
	assert.Equal(t, now, job.CreatedAt)
}

func TestSubmissionEvent_HasNoPriorState(t *testing.T) {
	job := newJob()
	evt := job.SubmissionEvent(now)
	assert.Equal(t, domain.ExtractionState(""), evt.OldState)
	assert.Equal(t, domain.StateQueued, evt.NewState)
	assert.Equal(t, 1, evt.Epoch)
	assert.JSONEq(t, `{"file_reference":"s3://docs/d1.pdf","schema_version":"property-record/v1"}`, string(evt.Payload))
}
