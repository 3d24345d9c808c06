// Package pipeline drives one processing attempt from upload to the persisted
// outcome: store the original, translate, enhance, transform (with a local
// fallback), store the result and finalize the history entry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/events"
	"github.com/gabrielee5/grafo-sub000/internal/history"
	"github.com/gabrielee5/grafo-sub000/internal/imaging"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	imageprov "github.com/gabrielee5/grafo-sub000/internal/providers/image"
	"github.com/gabrielee5/grafo-sub000/internal/providers/prompt"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
)

// ErrEntryDeleted is returned by Process when the history entry is deleted
// while its attempt is still running. It matches domain.ErrNotFound.
var ErrEntryDeleted = fmt.Errorf("pipeline: history entry deleted during processing: %w", domain.ErrNotFound)

// TextStages covers the translate and enhance calls plus the wording of the
// final image instruction.
type TextStages interface {
	Translate(ctx context.Context, text string) (prompt.Result, error)
	Enhance(ctx context.Context, text string) (prompt.Result, error)
	TransformInstruction(text string) string
	Ready() error
}

// Recorder is the subset of the history recorder the orchestrator needs.
type Recorder interface {
	Create(ctx context.Context, ownerID, instruction string, meta domain.FileMeta) (string, error)
	Update(ctx context.Context, id string, patch history.Patch) (*domain.HistoryEntry, error)
}

// Submission is one validated-at-the-edge upload.
type Submission struct {
	Image       []byte
	MIMEType    string
	FileName    string
	Instruction string
	OwnerID     string
	// OnStep, when set, receives every step as it starts and as it ends.
	OnStep func(step domain.WorkflowStep)
	// OnCreated, when set, receives the history id once the pending entry exists.
	OnCreated func(historyID string)
}

// Options tunes an Orchestrator. Zero durations, a nil Publisher, Now or
// LocalFallback get defaults in NewOrchestrator.
type Options struct {
	Validator       imaging.Validator
	GatewayTimeout  time.Duration
	PipelineTimeout time.Duration
	// PersistTimeout bounds each history write, independent of the attempt.
	PersistTimeout time.Duration
	Publisher      events.Publisher
	Logger         *infra.Logger
	Now            func() time.Time
	LocalFallback  func(image []byte) ([]byte, error)
}

// Orchestrator is safe for concurrent use; each Process call is independent.
type Orchestrator struct {
	text        TextStages
	transformer imageprov.Transformer
	blobs       storage.BlobStore
	history     Recorder
	opts        Options
	logger      *infra.Logger
}

// NewOrchestrator wires the stages together. blobs receives the original and
// processed images; rec owns the history entries.
func NewOrchestrator(text TextStages, transformer imageprov.Transformer, blobs storage.BlobStore, rec Recorder, opts Options) *Orchestrator {
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = 60 * time.Second
	}
	if opts.PipelineTimeout <= 0 {
		opts.PipelineTimeout = 3 * time.Minute
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.LocalFallback == nil {
		opts.LocalFallback = imaging.Enhance
	}
	logger := opts.Logger
	if logger == nil {
		l := infra.NopLogger()
		logger = &l
	}
	return &Orchestrator{
		text:        text,
		transformer: transformer,
		blobs:       blobs,
		history:     rec,
		opts:        opts,
		logger:      logger,
	}
}

// Ready returns a ConfigurationError when a gateway lacks credentials.
func (o *Orchestrator) Ready() error {
	if err := o.text.Ready(); err != nil {
		return err
	}
	return o.transformer.Ready()
}

// Process validates the submission, records a pending entry and runs every
// stage. Gateway and storage failures end up in the workflow steps and the
// entry status; only validation, configuration and history store failures are
// returned as errors. The attempt continues if ctx is cancelled. If the entry is
// deleted mid-attempt, the remaining stages are skipped, the blobs this attempt
// stored are removed and ErrEntryDeleted is returned.
func (o *Orchestrator) Process(ctx context.Context, sub Submission) (*domain.OutcomeRecord, error) {
	if err := o.Ready(); err != nil {
		return nil, err
	}
	instruction := strings.TrimSpace(sub.Instruction)
	if instruction == "" {
		return nil, domain.NewValidationError(domain.CodeMissingPrompt, "instruction is required")
	}
	if strings.TrimSpace(sub.OwnerID) == "" {
		return nil, domain.NewValidationError(domain.CodeInvalidField, "owner is required")
	}
	detected, err := o.opts.Validator.Validate(sub.Image, sub.MIMEType)
	if err != nil {
		return nil, err
	}

	detached := context.WithoutCancel(ctx)
	meta := domain.FileMeta{FileName: sub.FileName, FileSize: int64(len(sub.Image)), MIMEType: detected}
	createCtx, cancelCreate := context.WithTimeout(detached, o.opts.PersistTimeout)
	id, err := o.history.Create(createCtx, sub.OwnerID, instruction, meta)
	cancelCreate()
	if err != nil {
		return nil, fmt.Errorf("pipeline: create history entry: %w", err)
	}
	if sub.OnCreated != nil {
		sub.OnCreated(id)
	}

	runCtx, cancel := context.WithTimeout(detached, o.opts.PipelineTimeout)
	defer cancel()

	a := &attempt{
		o:         o,
		id:        id,
		owner:     sub.OwnerID,
		image:     sub.Image,
		mime:      detected,
		working:   instruction,
		onStep:    sub.OnStep,
		persistTo: detached,
		started:   o.opts.Now(),
	}
	return a.run(runCtx)
}

type attempt struct {
	o         *Orchestrator
	id        string
	owner     string
	image     []byte
	mime      string
	working   string
	onStep    func(domain.WorkflowStep)
	persistTo context.Context
	started   time.Time

	steps      []domain.WorkflowStep
	translated *string
	enhanced   *string
	origURL    *string
	origKey    *string
	procURL    *string
	procKey    *string
	processed  []byte
	procMIME   string
	failure    string
	// deleted is set once a history write reports the entry missing.
	deleted bool
}

func (a *attempt) run(ctx context.Context) (*domain.OutcomeRecord, error) {
	log := a.o.logger.With().Str("history_id", a.id).Str("user_id", a.owner).Logger()

	stages := []func(context.Context, *infra.Logger){
		a.uploadOriginal,
		a.translate,
		a.enhance,
		a.transform,
		a.uploadProcessed,
	}
	for _, stage := range stages {
		stage(ctx, &log)
		if a.deleted {
			return a.abandon(&log)
		}
	}
	return a.finalize(&log)
}

// abandon removes whatever this attempt uploaded. The recorder already dropped
// the entry, so nothing else references these keys.
func (a *attempt) abandon(log *infra.Logger) (*domain.OutcomeRecord, error) {
	ctx, cancel := context.WithTimeout(a.persistTo, a.o.opts.PersistTimeout)
	defer cancel()
	for _, key := range []*string{a.origKey, a.procKey} {
		if key == nil {
			continue
		}
		if err := a.o.blobs.Delete(ctx, *key); err != nil {
			log.Warn().Err(err).Str("key", *key).Msg("pipeline: delete orphaned blob")
		}
	}
	log.Info().Int("steps", len(a.steps)).Msg("pipeline: history entry deleted, attempt abandoned")
	return nil, ErrEntryDeleted
}

func (a *attempt) uploadOriginal(ctx context.Context, log *infra.Logger) {
	i := a.begin(domain.StepUploadOriginal, nil)
	key := storage.ImageKey(a.owner, a.id, "original", a.mime)
	url, err := a.o.blobs.Put(ctx, key, a.image, a.mime)
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: original upload failed")
		a.end(i, domain.StepFailed, err.Error())
	} else {
		a.origURL, a.origKey = &url, &key
		a.end(i, domain.StepCompleted, url)
	}
	a.persist(log, history.Patch{OriginalImageURL: a.origURL, OriginalImageKey: a.origKey})
}

func (a *attempt) translate(ctx context.Context, log *infra.Logger) {
	gctx, cancel := context.WithTimeout(ctx, a.o.opts.GatewayTimeout)
	defer cancel()
	i := a.begin(domain.StepTranslate, nil)
	res, err := a.o.text.Translate(gctx, a.working)
	a.steps[i].Prompt = domain.StringPtr(res.Prompt)
	if err != nil {
		err = asGatewayError(domain.StepTranslate, err)
		log.Warn().Err(err).Msg("pipeline: translation failed, keeping original text")
		a.end(i, domain.StepFailed, err.Error())
	} else {
		a.working = res.Output
		a.translated = domain.StringPtr(res.Output)
		a.end(i, domain.StepCompleted, res.Output)
	}
	a.persist(log, history.Patch{TranslatedPrompt: a.translated})
}

// enhance runs on whatever the working text is, so a failed translation
// still gets enhanced from the original instruction.
func (a *attempt) enhance(ctx context.Context, log *infra.Logger) {
	gctx, cancel := context.WithTimeout(ctx, a.o.opts.GatewayTimeout)
	defer cancel()
	i := a.begin(domain.StepEnhance, nil)
	res, err := a.o.text.Enhance(gctx, a.working)
	a.steps[i].Prompt = domain.StringPtr(res.Prompt)
	if err != nil {
		err = asGatewayError(domain.StepEnhance, err)
		log.Warn().Err(err).Msg("pipeline: enhancement failed, keeping previous text")
		a.end(i, domain.StepFailed, err.Error())
	} else {
		a.working = res.Output
		a.enhanced = domain.StringPtr(res.Output)
		a.end(i, domain.StepCompleted, res.Output)
	}
	a.persist(log, history.Patch{EnhancedPrompt: a.enhanced})
}

func (a *attempt) transform(ctx context.Context, log *infra.Logger) {
	gctx, cancel := context.WithTimeout(ctx, a.o.opts.GatewayTimeout)
	defer cancel()
	instruction := a.o.text.TransformInstruction(a.working)
	i := a.begin(domain.StepTransform, domain.StringPtr(instruction))
	res, err := a.o.transformer.Transform(gctx, imageprov.Request{Prompt: instruction, Data: a.image, MIMEType: a.mime})
	if err == nil && (res == nil || len(res.Data) == 0) {
		err = errors.New("gateway returned no image")
	}
	if err == nil {
		a.processed = res.Data
		a.procMIME = imaging.Detect(res.Data)
		if a.procMIME == "" {
			a.procMIME = imaging.NormalizeMIME(res.MIMEType)
		}
		a.end(i, domain.StepCompleted, fmt.Sprintf("received %d bytes (%s)", len(res.Data), a.procMIME))
		a.persist(log, history.Patch{})
		return
	}

	err = asGatewayError(domain.StepTransform, err)
	log.Warn().Err(err).Msg("pipeline: transform failed, trying local enhancement")
	a.end(i, domain.StepFailed, err.Error())
	a.persist(log, history.Patch{})
	if a.deleted {
		return
	}

	j := a.begin(domain.StepLocalFallback, nil)
	out, ferr := a.o.opts.LocalFallback(a.image)
	if ferr != nil {
		log.Error().Err(ferr).Msg("pipeline: local enhancement failed")
		a.end(j, domain.StepFailed, ferr.Error())
		a.failure = "image transformation failed: " + ferr.Error()
		a.persist(log, history.Patch{})
		return
	}
	a.processed = out
	a.procMIME = imaging.MIMEPNG
	a.end(j, domain.StepCompleted, "applied local contrast and threshold enhancement")
	a.persist(log, history.Patch{})
}

func (a *attempt) uploadProcessed(ctx context.Context, log *infra.Logger) {
	if a.processed == nil {
		return
	}
	i := a.begin(domain.StepUploadProcessed, nil)
	key := storage.ImageKey(a.owner, a.id, "processed", a.procMIME)
	url, err := a.o.blobs.Put(ctx, key, a.processed, a.procMIME)
	if err != nil {
		log.Error().Err(err).Msg("pipeline: processed upload failed")
		a.end(i, domain.StepFailed, err.Error())
		a.failure = "failed to store processed image: " + err.Error()
		return
	}
	a.procURL, a.procKey = &url, &key
	a.end(i, domain.StepCompleted, url)
}

func (a *attempt) finalize(log *infra.Logger) (*domain.OutcomeRecord, error) {
	status := domain.StatusCompleted
	errText := ""
	if a.failure != "" {
		status = domain.StatusFailed
		errText = a.failure
	}
	elapsed := a.o.opts.Now().Sub(a.started)
	durationMS := int64((elapsed + time.Millisecond - 1) / time.Millisecond)
	if durationMS < 1 {
		durationMS = 1
	}

	ctx, cancel := context.WithTimeout(a.persistTo, a.o.opts.PersistTimeout)
	defer cancel()
	_, err := a.o.history.Update(ctx, a.id, history.Patch{
		Status:            &status,
		Error:             &errText,
		ProcessingTime:    &durationMS,
		WorkflowSteps:     a.steps,
		TranslatedPrompt:  a.translated,
		EnhancedPrompt:    a.enhanced,
		OriginalImageURL:  a.origURL,
		OriginalImageKey:  a.origKey,
		ProcessedImageURL: a.procURL,
		ProcessedImageKey: a.procKey,
	})
	if errors.Is(err, domain.ErrNotFound) {
		a.deleted = true
		return a.abandon(log)
	}
	if err != nil {
		log.Error().Err(err).Msg("pipeline: finalize history entry failed")
		return nil, fmt.Errorf("pipeline: finalize history entry: %w", err)
	}

	outcome := events.Outcome{
		HistoryID:      a.id,
		UserID:         a.owner,
		Status:         status,
		ProcessingTime: durationMS,
		FinishedAt:     a.o.opts.Now(),
	}
	if err := a.o.opts.Publisher.Publish(ctx, outcome); err != nil {
		log.Warn().Err(err).Msg("pipeline: publish outcome failed")
	}

	log.Info().Str("status", string(status)).Int64("processing_ms", durationMS).Int("steps", len(a.steps)).Msg("pipeline: attempt finished")

	record := &domain.OutcomeRecord{
		HistoryID:         a.id,
		Status:            status,
		OriginalImageURL:  a.origURL,
		ProcessedImageURL: a.procURL,
		ProcessingTime:    durationMS,
		WorkflowSteps:     append([]domain.WorkflowStep(nil), a.steps...),
		Error:             domain.StringPtr(errText),
	}
	return record, nil
}

func (a *attempt) begin(title string, promptText *string) int {
	a.steps = append(a.steps, domain.WorkflowStep{
		Title:     title,
		Status:    domain.StepInProgress,
		Prompt:    promptText,
		StartedAt: a.o.opts.Now(),
	})
	i := len(a.steps) - 1
	a.notify(i)
	return i
}

func (a *attempt) end(i int, status domain.StepStatus, response string) {
	ended := a.o.opts.Now()
	a.steps[i].Status = status
	a.steps[i].EndedAt = &ended
	a.steps[i].Response = domain.StringPtr(response)
	a.notify(i)
}

func (a *attempt) notify(i int) {
	if a.onStep != nil {
		a.onStep(a.steps[i])
	}
}

// persist writes the steps so far plus patch. Failures are logged; the final
// update carries the full state again.
func (a *attempt) persist(log *infra.Logger, patch history.Patch) {
	ctx, cancel := context.WithTimeout(a.persistTo, a.o.opts.PersistTimeout)
	defer cancel()
	patch.WorkflowSteps = a.steps
	_, err := a.o.history.Update(ctx, a.id, patch)
	if errors.Is(err, domain.ErrNotFound) {
		a.deleted = true
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("pipeline: persist progress failed")
	}
}

func asGatewayError(stage string, err error) error {
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Stage == "" {
			clone := *gwErr
			clone.Stage = stage
			return &clone
		}
		return gwErr
	}
	return &domain.GatewayError{Stage: stage, Err: err}
}
