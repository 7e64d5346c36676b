package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"prospector/internal/domain"
	"prospector/internal/events"
	"prospector/internal/port"
	"prospector/internal/queue"
	"prospector/internal/queue/memqueue"
	"prospector/internal/repository/memory"
	"prospector/internal/service"
	"prospector/mocks"
)

const (
	docID   = "D1"
	fileRef = "s3://docs/d1.pdf"
	d1Text  = "Parcel 14-0021-0004, Owner: JOHN DOE, Tax Due: $1,204.50"
)

func d1Fields() domain.FieldSet {
	return domain.FieldSet{
		domain.FieldOwnerName:       {Value: "JOHN DOE", Confidence: 0.95},
		domain.FieldPropertyAddress: {Value: domain.NotFoundValue, Confidence: 0.0},
		domain.FieldParcelIDAPN:     {Value: "14-0021-0004", Confidence: 0.98},
		domain.FieldTaxAmountDue:    {Value: "1204.50", Confidence: 0.90},
		domain.FieldDatesMentioned:  {Value: domain.NotFoundValue, Confidence: 0.0},
	}
}

func recognized() *port.RecognitionOutput {
	return &port.RecognitionOutput{Text: d1Text, Confidence: 0.8, Pages: 3, Method: "image-ocr", Engine: "stub"}
}

func structured() *port.StructureOutput {
	return &port.StructureOutput{Fields: d1Fields(), DocumentType: "tax_bill", ModelUsed: "stub-model"}
}

type harness struct {
	repo   port.JobRepository
	queue  *memqueue.Queue
	rec    *mocks.MockRecognizer
	st     *mocks.MockStructurer
	svc    service.ExtractionService
	gate   service.ReviewGate
	worker *service.ExtractionWorker
}

func newHarness(t *testing.T, maxAttempts int) *harness {
	t.Helper()
	return newHarnessWithQueue(t, maxAttempts, memqueue.New(queue.WithPollInterval(2*time.Millisecond)))
}

func newHarnessWithQueue(t *testing.T, maxAttempts int, q *memqueue.Queue) *harness {
	t.Helper()
	log, _ := test.NewNullLogger()
	h := &harness{
		repo:  memory.NewJobRepo(),
		queue: q,
		rec:   new(mocks.MockRecognizer),
		st:    new(mocks.MockStructurer),
	}
	pub := events.NewLogPublisher(log)
	h.svc = service.NewExtractionService(h.repo, h.queue, pub, service.ExtractionServiceConfig{
		Schema: domain.PropertyRecordV1,
	}, log)
	h.gate = service.NewReviewGate(h.repo, pub, log)
	h.worker = service.NewExtractionWorker(h.queue, h.repo, h.rec, h.st, pub, service.WorkerConfig{
		Concurrency:        2,
		MaxAttempts:        maxAttempts,
		Backoff:            service.BackoffPolicy{Base: time.Millisecond, Max: 4 * time.Millisecond, Jitter: 0.2},
		RecognitionTimeout: time.Second,
		StructuringTimeout: time.Second,
	}, log)
	t.Cleanup(func() { _ = h.queue.Close() })
	return h
}

// start runs the worker until the test ends.
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.worker.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (h *harness) waitSettled(t *testing.T, documentID string) *domain.ExtractionJob {
	t.Helper()
	var job *domain.ExtractionJob
	require.Eventually(t, func() bool {
		j, err := h.repo.GetByID(context.Background(), documentID)
		if err != nil {
			return false
		}
		job = j
		return !j.State.InFlight()
	}, 5*time.Second, 2*time.Millisecond)
	return job
}

// waitIdle waits until the queue holds nothing for any document.
func (h *harness) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		stats, err := h.queue.Stats(context.Background())
		return err == nil && stats.Pending == 0 && stats.InFlight == 0
	}, 5*time.Second, 2*time.Millisecond)
}
