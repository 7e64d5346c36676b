package service_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/events"
	"prospector/internal/port"
	"prospector/internal/queue"
	"prospector/internal/queue/memqueue"
	"prospector/internal/service"
	"prospector/mocks"
)

func transient() error {
	return domain.NewRecognitionError(domain.KindTransient, errors.New("upstream 503"))
}

func TestWorker_D1EndsReadyForReviewThenApproved(t *testing.T) {
	h := newHarness(t, 5)
	h.rec.On("Recognize", mock.Anything, fileRef).Return(recognized(), nil).Once()
	h.st.On("Structure", mock.Anything, mock.MatchedBy(func(in port.StructureInput) bool {
		return in.Text == d1Text && in.Schema.Version == domain.PropertyRecordV1.Version
	})).Return(structured(), nil).Once()
	h.start(t)

	job, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, job.State)

	job = h.waitSettled(t, docID)
	assert.Equal(t, domain.StateReadyForReview, job.State)
	assert.Equal(t, d1Fields(), job.StructuredFields)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, "tax_bill", job.DocumentType)
	require.NotNil(t, job.RawText)
	assert.Equal(t, d1Text, *job.RawText)

	approved, err := h.gate.Approve(context.Background(), docID, "reviewer@example.com")
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, approved.State)

	_, err = h.gate.Approve(context.Background(), docID, "reviewer@example.com")
	assert.True(t, domain.IsInvalidTransition(err))
	assert.Equal(t, domain.KindInvalidTransition, domain.KindOf(err))

	h.rec.AssertExpectations(t)
	h.st.AssertExpectations(t)
}

func TestWorker_TransientRecognitionRetriesOnlyRecognition(t *testing.T) {
	for _, k := range []int{1, 2, 4} {
		h := newHarness(t, 5)
		h.rec.On("Recognize", mock.Anything, fileRef).Return(nil, transient()).Times(k)
		h.rec.On("Recognize", mock.Anything, fileRef).Return(recognized(), nil).Once()
		h.st.On("Structure", mock.Anything, mock.Anything).Return(structured(), nil).Once()
		h.start(t)

		_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
		require.NoError(t, err)

		job := h.waitSettled(t, docID)
		assert.Equal(t, domain.StateReadyForReview, job.State, "k=%d", k)
		assert.Equal(t, k+1, job.AttemptCount, "k=%d", k)
		assert.Empty(t, job.Error)
		h.rec.AssertNumberOfCalls(t, "Recognize", k+1)
		h.st.AssertNumberOfCalls(t, "Structure", 1)
	}
}

func TestWorker_MalformedStructuringFailsAfterMaxAttempts(t *testing.T) {
	const maxAttempts = 4
	h := newHarness(t, maxAttempts)
	h.rec.On("Recognize", mock.Anything, fileRef).Return(recognized(), nil).Once()
	h.st.On("Structure", mock.Anything, mock.Anything).
		Return(nil, domain.NewStructuringError(domain.KindMalformedResponse, errors.New("not json")))
	h.start(t)

	_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	job := h.waitSettled(t, docID)
	assert.Equal(t, domain.StateFailed, job.State)
	assert.Equal(t, maxAttempts, job.AttemptCount)
	assert.Contains(t, job.Error, string(domain.KindMalformedResponse))
	assert.Nil(t, job.StructuredFields)
	h.rec.AssertNumberOfCalls(t, "Recognize", 1)
	h.st.AssertNumberOfCalls(t, "Structure", maxAttempts)
}

func TestWorker_PermanentRecognitionFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.rec.On("Recognize", mock.Anything, fileRef).
		Return(nil, domain.NewRecognitionError(domain.KindPermanent, errors.New("corrupt pdf"))).Once()
	h.start(t)

	_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	job := h.waitSettled(t, docID)
	assert.Equal(t, domain.StateFailed, job.State)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Contains(t, job.Error, "Permanent")
	assert.Contains(t, job.Error, "corrupt pdf")
	h.st.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything)
}

func TestWorker_InvalidInputFailsWithoutRetry(t *testing.T) {
	h := newHarness(t, 5)
	h.rec.On("Recognize", mock.Anything, fileRef).
		Return(nil, domain.NewRecognitionError(domain.KindInvalidInput, domain.ErrFileNotFound)).Once()
	h.start(t)

	_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	job := h.waitSettled(t, docID)
	assert.Equal(t, domain.StateFailed, job.State)
	assert.Contains(t, job.Error, "InvalidInput")
}

func TestWorker_ResubmitRunsNewEpoch(t *testing.T) {
	h := newHarness(t, 1)
	h.rec.On("Recognize", mock.Anything, fileRef).Return(nil, transient()).Once()
	h.rec.On("Recognize", mock.Anything, fileRef).Return(recognized(), nil).Once()
	h.st.On("Structure", mock.Anything, mock.Anything).Return(structured(), nil).Once()
	h.start(t)

	_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)
	job := h.waitSettled(t, docID)
	require.Equal(t, domain.StateFailed, job.State)
	assert.Contains(t, job.Error, "after 1 attempts")

	job, err = h.svc.Resubmit(context.Background(), docID, "")
	require.NoError(t, err)
	assert.Equal(t, 2, job.Epoch)
	assert.Zero(t, job.AttemptCount)

	job = h.waitSettled(t, docID)
	assert.Equal(t, domain.StateReadyForReview, job.State)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, 2, job.Epoch)
}

func TestProcess_DropsStaleEpoch(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	job := domain.NewExtractionJob(docID, fileRef, domain.PropertyRecordV1.Version, time.Now())
	job.Epoch = 2
	require.NoError(t, h.repo.Create(ctx, job, nil))
	require.NoError(t, h.queue.Enqueue(ctx, port.JobMessage{DocumentID: docID, FileReference: fileRef, Epoch: 1}))

	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, d)

	stored, err := h.repo.GetByID(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateQueued, stored.State)
	assert.Zero(t, stored.AttemptCount)
	h.rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
	h.waitIdle(t)
}

func TestProcess_DropsMessageForReviewedJob(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()

	job := domain.NewExtractionJob(docID, fileRef, domain.PropertyRecordV1.Version, time.Now())
	_, _ = job.Begin(time.Now())
	_, _ = job.CompleteRecognition(d1Text, 0.8, time.Now())
	_, _ = job.CompleteStructuring(domain.StructuringResult{Schema: domain.PropertyRecordV1, Fields: d1Fields()}, time.Now())
	require.NoError(t, h.repo.Create(ctx, job, nil))
	require.NoError(t, h.queue.Enqueue(ctx, port.JobMessage{DocumentID: docID, FileReference: fileRef, Epoch: 1}))

	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, d)

	stored, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateReadyForReview, stored.State)
	h.waitIdle(t)
}

func TestProcess_ResumesAbandonedStructuringWithStoredText(t *testing.T) {
	h := newHarness(t, 5)
	ctx := context.Background()
	h.st.On("Structure", mock.Anything, mock.MatchedBy(func(in port.StructureInput) bool {
		return in.Text == d1Text
	})).Return(structured(), nil).Once()

	// A previous holder committed recognition and then vanished.
	job := domain.NewExtractionJob(docID, fileRef, domain.PropertyRecordV1.Version, time.Now())
	_, _ = job.Begin(time.Now())
	_, _ = job.CompleteRecognition(d1Text, 0.8, time.Now())
	require.NoError(t, h.repo.Create(ctx, job, nil))
	require.NoError(t, h.queue.Enqueue(ctx, port.JobMessage{DocumentID: docID, FileReference: fileRef, Epoch: 1}))

	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, d)

	stored, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateReadyForReview, stored.State)
	assert.Equal(t, 2, stored.AttemptCount)
	h.rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
	h.st.AssertExpectations(t)

	history, err := h.repo.ListEvents(ctx, docID)
	require.NoError(t, err)
	var states []domain.ExtractionState
	for _, evt := range history {
		states = append(states, evt.NewState)
	}
	assert.Equal(t, []domain.ExtractionState{
		domain.StateQueued, domain.StateRecognizing, domain.StateStructuring, domain.StateReadyForReview,
	}, states)
}

func TestProcess_AbandonedAttemptAtCeilingFails(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()

	job := domain.NewExtractionJob(docID, fileRef, domain.PropertyRecordV1.Version, time.Now())
	_, _ = job.Begin(time.Now())
	require.NoError(t, h.repo.Create(ctx, job, nil))
	require.NoError(t, h.queue.Enqueue(ctx, port.JobMessage{DocumentID: docID, FileReference: fileRef, Epoch: 1}))

	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, d)

	stored, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateFailed, stored.State)
	assert.Contains(t, stored.Error, "abandoned")
	h.rec.AssertNotCalled(t, "Recognize", mock.Anything, mock.Anything)
}

func TestProcess_TimeoutIsTransient(t *testing.T) {
	h := newHarness(t, 2)
	ctx := context.Background()
	h.rec.On("Recognize", mock.Anything, fileRef).Return(nil, context.DeadlineExceeded).Once()

	_, err := h.svc.Submit(ctx, &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)
	d, err := h.queue.Dequeue(ctx)
	require.NoError(t, err)
	h.worker.Process(ctx, d)

	stored, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateQueued, stored.State)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Empty(t, stored.Error)
}

func TestWorker_SlowRecognitionKeepsItsLease(t *testing.T) {
	q := memqueue.New(
		queue.WithPollInterval(2*time.Millisecond),
		queue.WithVisibilityTimeout(60*time.Millisecond),
	)
	h := newHarnessWithQueue(t, 3, q)

	var active, peak int32
	h.rec.On("Recognize", mock.Anything, fileRef).Run(func(mock.Arguments) {
		n := atomic.AddInt32(&active, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(250 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}).Return(recognized(), nil)
	h.st.On("Structure", mock.Anything, mock.Anything).Return(structured(), nil)
	h.start(t)

	_, err := h.svc.Submit(context.Background(), &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	job := h.waitSettled(t, docID)
	assert.Equal(t, domain.StateReadyForReview, job.State)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	h.rec.AssertNumberOfCalls(t, "Recognize", 1)
}

func TestProcess_LostLeaseDiscardsResult(t *testing.T) {
	h := newHarness(t, 3)
	ctx := context.Background()
	_, err := h.svc.Submit(ctx, &service.SubmitInput{DocumentID: docID, FileReference: fileRef})
	require.NoError(t, err)

	d := &port.Delivery{
		Message:     port.JobMessage{DocumentID: docID, FileReference: fileRef, Epoch: 1},
		LeaseID:     "lease-1",
		LeasedUntil: time.Now().Add(15 * time.Millisecond),
	}
	q := new(mocks.MockJobQueue)
	q.On("Extend", mock.Anything, d).Return(domain.ErrStaleDelivery)
	h.rec.On("Recognize", mock.Anything, fileRef).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.Canceled).Once()

	log, _ := test.NewNullLogger()
	w := service.NewExtractionWorker(q, h.repo, h.rec, h.st, events.NewLogPublisher(log), service.WorkerConfig{
		MaxAttempts:        3,
		RecognitionTimeout: 5 * time.Second,
		StructuringTimeout: 5 * time.Second,
	}, log)

	done := make(chan struct{})
	go func() {
		w.Process(ctx, d)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after the lease was lost")
	}

	stored, _ := h.repo.GetByID(ctx, docID)
	assert.Equal(t, domain.StateRecognizing, stored.State)
	assert.Equal(t, 1, stored.AttemptCount)
	assert.Empty(t, stored.Error)
	q.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything)
	q.AssertNotCalled(t, "Nack", mock.Anything, mock.Anything, mock.Anything)
	h.st.AssertNotCalled(t, "Structure", mock.Anything, mock.Anything)
}

func TestStart_ReturnsWhenQueueClosed(t *testing.T) {
	h := newHarness(t, 1)
	done := make(chan struct{})
	go func() {
		h.worker.Start(context.Background())
		close(done)
	}()
	require.NoError(t, h.queue.Close())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}
