package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/service"
	"prospector/mocks"
)

func readyJob() *domain.ExtractionJob {
	job := domain.NewExtractionJob(docID, fileRef, domain.PropertyRecordV1.Version, time.Now())
	_, _ = job.Begin(time.Now())
	_, _ = job.CompleteRecognition(d1Text, 0.8, time.Now())
	_, _ = job.CompleteStructuring(domain.StructuringResult{Schema: domain.PropertyRecordV1, Fields: d1Fields()}, time.Now())
	return job
}

func TestReject_RequiresReason(t *testing.T) {
	h := newHarness(t, 3)
	require.NoError(t, h.repo.Create(context.Background(), readyJob(), nil))

	_, err := h.gate.Reject(context.Background(), docID, "r", "   ")
	assert.ErrorIs(t, err, domain.ErrMissingRejectReason)
}

func TestReject_RecordsReviewer(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	require.NoError(t, h.repo.Create(ctx, readyJob(), nil))

	job, err := h.gate.Reject(ctx, docID, "reviewer@example.com", "wrong parcel")
	require.NoError(t, err)
	assert.Equal(t, domain.StateRejected, job.State)
	assert.Equal(t, "reviewer@example.com", job.ReviewedBy)
	assert.Equal(t, "wrong parcel", job.ReviewReason)
	assert.NotNil(t, job.ReviewedAt)
	assert.Equal(t, d1Fields(), job.StructuredFields)

	_, err = h.gate.Approve(ctx, docID, "reviewer@example.com")
	assert.True(t, domain.IsInvalidTransition(err))
}

func TestReview_IllegalBeforeReady(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	_, err := h.svc.Submit(ctx, &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	_, err = h.gate.Approve(ctx, docID, "r")
	assert.True(t, domain.IsInvalidTransition(err))
	_, err = h.gate.Reject(ctx, docID, "r", "bad")
	assert.True(t, domain.IsInvalidTransition(err))

	job, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateQueued, job.State)
}

func TestApprove_RetriesLostRace(t *testing.T) {
	log, hook := test.NewNullLogger()
	repo := new(mocks.MockJobRepo)
	pub := new(mocks.MockTransitionPublisher)

	repo.On("GetByID", mock.Anything, docID).Return(readyJob(), nil).Once()
	repo.On("GetByID", mock.Anything, docID).Return(readyJob(), nil).Once()
	repo.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(domain.ErrStaleJob).Once()
	repo.On("Update", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	gate := service.NewReviewGate(repo, pub, log)
	job, err := gate.Approve(context.Background(), docID, "r")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, job.State)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "reviewGate.decide: review recorded", hook.LastEntry().Message)
	assert.Equal(t, domain.StageReview, hook.LastEntry().Data["stage"])
	repo.AssertExpectations(t)
	pub.AssertExpectations(t)
}

func TestApprove_UnknownJob(t *testing.T) {
	h := newHarness(t, 3)
	_, err := h.gate.Approve(context.Background(), "missing", "r")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}
