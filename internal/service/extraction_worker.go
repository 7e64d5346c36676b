package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"prospector/internal/domain"
	"prospector/internal/port"
)

// WorkerConfig holds orchestrator settings.
type WorkerConfig struct {
	Concurrency        int
	MaxAttempts        int
	Backoff            BackoffPolicy
	RecognitionTimeout time.Duration
	StructuringTimeout time.Duration
}

// ExtractionWorker drives queued jobs through recognition and structuring.
// Every transition is committed before the next stage starts, so a job
// redelivered after a crash resumes from its last committed state.
type ExtractionWorker struct {
	queue      port.JobQueue
	repo       port.JobRepository
	recognizer port.Recognizer
	structurer port.Structurer
	commit     *committer
	cfg        WorkerConfig
	log        logrus.FieldLogger
	now        func() time.Time
	wg         sync.WaitGroup
}

// NewExtractionWorker creates a new ExtractionWorker.
func NewExtractionWorker(
	queue port.JobQueue,
	repo port.JobRepository,
	recognizer port.Recognizer,
	structurer port.Structurer,
	publisher port.TransitionPublisher,
	cfg WorkerConfig,
	log logrus.FieldLogger,
) *ExtractionWorker {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RecognitionTimeout <= 0 {
		cfg.RecognitionTimeout = defaultStageTimeout
	}
	if cfg.StructuringTimeout <= 0 {
		cfg.StructuringTimeout = defaultStageTimeout
	}
	return &ExtractionWorker{
		queue:      queue,
		repo:       repo,
		recognizer: recognizer,
		structurer: structurer,
		commit:     &committer{repo: repo, publisher: publisher, log: log},
		cfg:        cfg,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

const (
	// idleRetryDelay is how long a consumer waits after a queue error.
	idleRetryDelay = time.Second
	// defaultStageTimeout bounds an adapter call when no timeout is configured.
	defaultStageTimeout = 2 * time.Minute
	// minRenewInterval floors how often a held lease is renewed.
	minRenewInterval = time.Millisecond
)

// Start runs Concurrency consumers until ctx is canceled or the queue is
// closed. It blocks until every in-flight job has settled.
func (w *ExtractionWorker) Start(ctx context.Context) {
	w.log.WithFields(logrus.Fields{
		"concurrency":  w.cfg.Concurrency,
		"max_attempts": w.cfg.MaxAttempts,
	}).Info("extractionWorker: started")

	for i := 0; i < w.cfg.Concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	w.wg.Wait()
	w.log.Info("extractionWorker: shutdown complete")
}

func (w *ExtractionWorker) consume(ctx context.Context, id int) {
	log := w.log.WithField("consumer", id)
	for {
		d, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrQueueClosed) {
				return
			}
			log.WithError(err).Error("extractionWorker.consume: dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(idleRetryDelay):
			}
			continue
		}
		// In-flight jobs finish on shutdown; adapter timeouts bound them.
		w.Process(context.WithoutCancel(ctx), d)
	}
}

// stageOutcome is how a stage attempt ended.
type stageOutcome int

const (
	stageOK stageOutcome = iota
	stageRetryable
	stageFatal
)

// stageResult is the single shape every stage reports back to settle.
type stageResult struct {
	outcome stageOutcome
	kind    domain.ErrorKind
	err     error
}

func resultOf(err error) stageResult {
	if err == nil {
		return stageResult{outcome: stageOK}
	}
	kind := domain.KindOf(err)
	if kind.Retryable() {
		return stageResult{outcome: stageRetryable, kind: kind, err: err}
	}
	return stageResult{outcome: stageFatal, kind: kind, err: err}
}

// errAttemptAbandoned marks a delivery that found its job mid-stage, meaning
// an earlier holder lost its lease without settling.
var errAttemptAbandoned = errors.New("attempt abandoned before it settled")

// Process handles one delivery to completion: the delivery is always acked
// or nacked before Process returns.
func (w *ExtractionWorker) Process(ctx context.Context, d *port.Delivery) {
	log := w.log.WithFields(logrus.Fields{
		"document_id": d.Message.DocumentID,
		"epoch":       d.Message.Epoch,
	})

	job, err := w.repo.GetByID(ctx, d.Message.DocumentID)
	if errors.Is(err, domain.ErrJobNotFound) {
		log.Warn("extractionWorker.Process: no job for message, dropping")
		w.ack(ctx, d, log)
		return
	}
	if err != nil {
		log.WithError(err).Error("extractionWorker.Process: loading job failed")
		w.nack(ctx, d, w.cfg.Backoff.Base, log)
		return
	}
	if job.Epoch != d.Message.Epoch || !job.State.InFlight() {
		log.WithFields(logrus.Fields{
			"job_epoch": job.Epoch,
			"state":     job.State,
		}).Debug("extractionWorker.Process: stale message, dropping")
		w.ack(ctx, d, log)
		return
	}

	lease := w.holdLease(ctx, d, log)
	defer lease.stop()

	if job.State != domain.StateQueued && !w.resumeAbandoned(ctx, d, job, log) {
		return
	}
	w.drive(ctx, d, job, lease, log)
}

// errLeaseLost cancels adapter calls once the delivery can no longer be settled.
var errLeaseLost = errors.New("delivery lease lost")

// heldLease renews a delivery's lease until stopped.
type heldLease struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	lost   atomic.Bool
}

// holdLease renews d's lease in the background at a third of its remaining
// time. When the queue refuses a renewal the lease is marked lost and the
// returned context is canceled.
func (w *ExtractionWorker) holdLease(ctx context.Context, d *port.Delivery, log logrus.FieldLogger) *heldLease {
	l := &heldLease{done: make(chan struct{})}
	l.ctx, l.cancel = context.WithCancelCause(ctx)
	go func() {
		defer close(l.done)
		for {
			wait := d.LeasedUntil.Sub(w.now()) / 3
			if wait < minRenewInterval {
				wait = minRenewInterval
			}
			select {
			case <-l.ctx.Done():
				return
			case <-time.After(wait):
			}
			err := w.queue.Extend(l.ctx, d)
			switch {
			case err == nil:
			case errors.Is(err, domain.ErrStaleDelivery):
				l.lost.Store(true)
				l.cancel(errLeaseLost)
				return
			case l.ctx.Err() != nil:
				return
			default:
				log.WithError(err).Warn("extractionWorker.holdLease: renewal failed")
			}
		}
	}()
	return l
}

func (l *heldLease) stop() {
	l.cancel(nil)
	<-l.done
}

// resumeAbandoned counts an attempt that never settled as a transient
// failure. With attempts left the job goes back to QUEUED at once and this
// delivery carries on; otherwise the job fails. It reports whether to carry on.
func (w *ExtractionWorker) resumeAbandoned(ctx context.Context, d *port.Delivery, job *domain.ExtractionJob, log logrus.FieldLogger) bool {
	stage := domain.StageRecognition
	if job.State == domain.StateStructuring {
		stage = domain.StageStructuring
	}
	if job.AttemptCount >= w.cfg.MaxAttempts {
		w.settle(ctx, d, job, stage, stageResult{outcome: stageRetryable, kind: domain.KindTransient, err: errAttemptAbandoned}, log)
		return false
	}
	evt, err := job.Requeue(fmt.Sprintf("%s (%s): %v", stage, domain.KindTransient, errAttemptAbandoned), 0, w.now())
	if !w.apply(ctx, d, job, evt, err, log) {
		return false
	}
	log.WithField("stage", stage).Info("extractionWorker.Process: resuming abandoned attempt")
	return true
}

// drive advances a QUEUED job until it settles.
// Adapter calls run under the lease context; a result that arrives after the
// lease was lost is discarded without releasing the delivery.
func (w *ExtractionWorker) drive(ctx context.Context, d *port.Delivery, job *domain.ExtractionJob, lease *heldLease, log logrus.FieldLogger) {
	for {
		switch job.State {
		case domain.StateQueued:
			evt, err := job.Begin(w.now())
			if !w.apply(ctx, d, job, evt, err, log) {
				return
			}
			log = log.WithField("attempt", job.AttemptCount)

		case domain.StateRecognizing:
			if job.HasRawText() {
				evt, err := job.ReuseRecognition(w.now())
				if !w.apply(ctx, d, job, evt, err, log) {
					return
				}
				continue
			}
			out, res := w.recognize(lease.ctx, job)
			if lease.lost.Load() {
				log.WithField("stage", domain.StageRecognition).Warn("extractionWorker.drive: lease lost, discarding result")
				return
			}
			if res.outcome != stageOK {
				w.settle(ctx, d, job, domain.StageRecognition, res, log)
				return
			}
			evt, err := job.CompleteRecognition(out.Text, out.Confidence, w.now())
			if !w.apply(ctx, d, job, evt, err, log) {
				return
			}

		case domain.StateStructuring:
			out, res := w.structure(lease.ctx, job)
			if lease.lost.Load() {
				log.WithField("stage", domain.StageStructuring).Warn("extractionWorker.drive: lease lost, discarding result")
				return
			}
			if res.outcome != stageOK {
				w.settle(ctx, d, job, domain.StageStructuring, res, log)
				return
			}
			schema, _ := domain.SchemaByVersion(job.SchemaVersion)
			evt, err := job.CompleteStructuring(domain.StructuringResult{
				Schema:            schema,
				Fields:            out.Fields,
				DocumentType:      out.DocumentType,
				OverallConfidence: out.OverallConfidence,
				ModelUsed:         out.ModelUsed,
			}, w.now())
			if err != nil && !domain.IsInvalidTransition(err) {
				w.settle(ctx, d, job, domain.StageStructuring, stageResult{
					outcome: stageRetryable, kind: domain.KindMalformedResponse, err: err,
				}, log)
				return
			}
			if !w.apply(ctx, d, job, evt, err, log) {
				return
			}

		default:
			log.WithField("state", job.State).Info("extractionWorker.drive: job settled")
			w.ack(ctx, d, log)
			return
		}
	}
}

func (w *ExtractionWorker) recognize(ctx context.Context, job *domain.ExtractionJob) (*port.RecognitionOutput, stageResult) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.RecognitionTimeout)
	defer cancel()

	out, err := w.recognizer.Recognize(callCtx, job.FileReference)
	if err == nil && out == nil {
		err = domain.NewRecognitionError(domain.KindTransient, errors.New("recognizer returned no output"))
	}
	return out, resultOf(err)
}

func (w *ExtractionWorker) structure(ctx context.Context, job *domain.ExtractionJob) (*port.StructureOutput, stageResult) {
	schema, ok := domain.SchemaByVersion(job.SchemaVersion)
	if !ok {
		return nil, stageResult{
			outcome: stageFatal,
			kind:    domain.KindInvalidInput,
			err:     fmt.Errorf("unknown field schema %q", job.SchemaVersion),
		}
	}
	if !job.HasRawText() {
		return nil, stageResult{
			outcome: stageFatal,
			kind:    domain.KindInvalidInput,
			err:     errors.New("no recognized text to structure"),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.StructuringTimeout)
	defer cancel()

	out, err := w.structurer.Structure(callCtx, port.StructureInput{Text: *job.RawText, Schema: schema})
	if err == nil && out == nil {
		err = domain.NewStructuringError(domain.KindMalformedResponse, errors.New("structurer returned no output"))
	}
	return out, resultOf(err)
}

// settle records a failed stage: a retryable failure with attempts left is
// requeued after the backoff delay, anything else fails the job. The
// delivery is always released.
func (w *ExtractionWorker) settle(ctx context.Context, d *port.Delivery, job *domain.ExtractionJob, stage domain.Stage, res stageResult, log logrus.FieldLogger) {
	log = log.WithFields(logrus.Fields{
		"stage":   stage,
		"kind":    res.kind,
		"attempt": job.AttemptCount,
	}).WithError(res.err)
	if res.kind == domain.KindMalformedResponse {
		log.Warn("extractionWorker.settle: malformed structuring response")
	}

	if res.outcome == stageRetryable && job.AttemptCount < w.cfg.MaxAttempts {
		delay := w.cfg.Backoff.Delay(job.DocumentID, job.AttemptCount)
		evt, err := job.Requeue(fmt.Sprintf("%s (%s): %v", stage, res.kind, res.err), delay, w.now())
		if !w.apply(ctx, d, job, evt, err, log) {
			return
		}
		log.WithField("delay", delay.String()).Info("extractionWorker.settle: retry scheduled")
		w.nack(ctx, d, delay, log)
		return
	}

	var cause string
	if res.outcome == stageRetryable {
		cause = fmt.Sprintf("%s failed after %d attempts (%s): %v", stage, job.AttemptCount, res.kind, res.err)
	} else {
		cause = fmt.Sprintf("%s failed (%s): %v", stage, res.kind, res.err)
	}
	evt, err := job.Fail(cause, w.now())
	if !w.apply(ctx, d, job, evt, err, log) {
		return
	}
	log.Warn("extractionWorker.settle: job failed")
	w.ack(ctx, d, log)
}

// apply commits a transition produced by the state machine. It returns false
// once the delivery has been released because the commit could not happen.
func (w *ExtractionWorker) apply(ctx context.Context, d *port.Delivery, job *domain.ExtractionJob, evt *domain.TransitionEvent, err error, log logrus.FieldLogger) bool {
	if err != nil {
		log.WithError(err).Error("extractionWorker.apply: illegal transition")
		w.ack(ctx, d, log)
		return false
	}
	err = w.commit.commit(ctx, job, evt)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrStaleJob):
		// Another writer owns the job now; this attempt's result is discarded.
		log.Info("extractionWorker.apply: job changed concurrently, discarding result")
		w.ack(ctx, d, log)
	default:
		log.WithError(err).Error("extractionWorker.apply: commit failed")
		w.nack(ctx, d, w.cfg.Backoff.Base, log)
	}
	return false
}

func (w *ExtractionWorker) ack(ctx context.Context, d *port.Delivery, log logrus.FieldLogger) {
	if err := w.queue.Ack(ctx, d); err != nil {
		logRelease(log, err, "ack")
	}
}

func (w *ExtractionWorker) nack(ctx context.Context, d *port.Delivery, delay time.Duration, log logrus.FieldLogger) {
	if err := w.queue.Nack(ctx, d, delay); err != nil {
		logRelease(log, err, "nack")
	}
}

func logRelease(log logrus.FieldLogger, err error, op string) {
	if errors.Is(err, domain.ErrStaleDelivery) {
		log.WithError(err).Warn("extractionWorker: lease lost before " + op)
		return
	}
	log.WithError(err).Error("extractionWorker: " + op + " failed")
}
