// Package history records processing attempts per user: one KV record per
// entry plus a capped newest-first index of entry ids per user.
package history

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/kv"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
)

const (
	DefaultMaxEntries  = 50
	DefaultListLimit   = 20
	MaxListLimit       = 100
	MaxExportedEntries = 1000
)

// Options configures a Recorder.
type Options struct {
	MaxEntries int
	Logger     *infra.Logger
	Now        func() time.Time
	NewID      func() string
}

// Recorder is the durable bookkeeping around processing attempts.
type Recorder struct {
	kv         kv.Store
	blobs      storage.BlobStore
	maxEntries int
	logger     *infra.Logger
	now        func() time.Time
	newID      func() string

	// indexMu serializes read-modify-write of user indexes within the process.
	indexMu sync.Mutex
}

func NewRecorder(store kv.Store, blobs storage.BlobStore, opts Options) *Recorder {
	r := &Recorder{
		kv:         store,
		blobs:      blobs,
		maxEntries: opts.MaxEntries,
		logger:     opts.Logger,
		now:        opts.Now,
		newID:      opts.NewID,
	}
	if r.maxEntries <= 0 {
		r.maxEntries = DefaultMaxEntries
	}
	if r.logger == nil {
		l := infra.NopLogger()
		r.logger = &l
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	return r
}

func entryKey(id string) string { return "history:" + id }

func indexKey(userID string) string { return "history_index:" + userID }

// Create stores a pending entry and puts its id at the front of the owner's
// index. Ids pushed past the retention cap are deleted together with their
// records and blobs.
func (r *Recorder) Create(ctx context.Context, ownerID, instruction string, meta domain.FileMeta) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", domain.NewValidationError(domain.CodeInvalidField, "owner is required")
	}
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return "", domain.NewValidationError(domain.CodeMissingPrompt, "instruction is required")
	}

	entry := domain.HistoryEntry{
		ID:             r.newID(),
		UserID:         ownerID,
		Timestamp:      r.now(),
		OriginalPrompt: instruction,
		Status:         domain.StatusPending,
		WorkflowSteps:  []domain.WorkflowStep{},
		Metadata:       meta,
	}
	if err := kv.PutJSON(ctx, r.kv, entryKey(entry.ID), entry); err != nil {
		return "", fmt.Errorf("history: store entry: %w", err)
	}

	var evicted []string
	err := r.mutateIndex(ctx, ownerID, func(ids []string) []string {
		ids = append([]string{entry.ID}, ids...)
		if len(ids) > r.maxEntries {
			evicted = append(evicted, ids[r.maxEntries:]...)
			ids = ids[:r.maxEntries]
		}
		return ids
	})
	if err != nil {
		return "", fmt.Errorf("history: update index: %w", err)
	}

	for _, id := range evicted {
		r.purge(ctx, id)
	}
	return entry.ID, nil
}

// Patch lists the fields an update may change. Nil fields are left alone.
// Id, owner, timestamp and the original instruction are not patchable.
type Patch struct {
	TranslatedPrompt  *string
	EnhancedPrompt    *string
	OriginalImageURL  *string
	OriginalImageKey  *string
	ProcessedImageURL *string
	ProcessedImageKey *string
	ProcessingTime    *int64
	Status            *domain.HistoryStatus
	// Error set to an empty string clears the stored error.
	Error         *string
	WorkflowSteps []domain.WorkflowStep
}

// Update merges patch into the stored entry.
func (r *Recorder) Update(ctx context.Context, id string, patch Patch) (*domain.HistoryEntry, error) {
	entry, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Status != nil {
		next := *patch.Status
		if !next.Valid() {
			return nil, domain.NewValidationError(domain.CodeInvalidStatus, fmt.Sprintf("unknown status %q", next))
		}
		if entry.Status.Final() && next != entry.Status {
			return nil, domain.NewValidationError(domain.CodeInvalidStatus,
				fmt.Sprintf("cannot move from %s to %s", entry.Status, next))
		}
	}
	if patch.WorkflowSteps != nil && entry.Status.Final() {
		return nil, domain.NewValidationError(domain.CodeInvalidField, "workflow steps are frozen once the entry is final")
	}

	setString(&entry.TranslatedPrompt, patch.TranslatedPrompt)
	setString(&entry.EnhancedPrompt, patch.EnhancedPrompt)
	setString(&entry.OriginalImageURL, patch.OriginalImageURL)
	setString(&entry.OriginalImageKey, patch.OriginalImageKey)
	setString(&entry.ProcessedImageURL, patch.ProcessedImageURL)
	setString(&entry.ProcessedImageKey, patch.ProcessedImageKey)
	setString(&entry.Error, patch.Error)
	if patch.ProcessingTime != nil {
		entry.ProcessingTime = *patch.ProcessingTime
	}
	if patch.Status != nil {
		entry.Status = *patch.Status
	}
	if patch.WorkflowSteps != nil {
		entry.WorkflowSteps = append([]domain.WorkflowStep(nil), patch.WorkflowSteps...)
	}

	if err := kv.PutJSON(ctx, r.kv, entryKey(id), entry); err != nil {
		return nil, fmt.Errorf("history: store entry: %w", err)
	}
	return entry, nil
}

func setString(dst **string, v *string) {
	if v == nil {
		return
	}
	if *v == "" {
		*dst = nil
		return
	}
	s := *v
	*dst = &s
}

// Get returns the entry when requester owns it.
func (r *Recorder) Get(ctx context.Context, id, requester string) (*domain.HistoryEntry, error) {
	entry, err := r.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry.UserID != requester {
		return nil, domain.ErrAccessDenied
	}
	return entry, nil
}

// ListOptions controls List. Zero values select the defaults.
type ListOptions struct {
	Limit  int
	Offset int
	Status string
	Sort   string
}

// ListResult is a page of entries plus pagination facts.
type ListResult struct {
	Entries    []domain.HistoryEntry
	TotalCount int
	HasMore    bool
	Limit      int
	Offset     int
	// FilteredAfterPaging is set when a status filter was applied to an
	// already sliced page, so the page may hold fewer than Limit entries.
	FilteredAfterPaging bool
}

// List pages through the owner's index by id, loads each entry, then filters
// by status and sorts by timestamp. Filtering happens after paging.
func (r *Recorder) List(ctx context.Context, ownerID string, opts ListOptions) (*ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	status, err := parseStatusFilter(opts.Status)
	if err != nil {
		return nil, err
	}
	ascending, err := parseSort(opts.Sort)
	if err != nil {
		return nil, err
	}

	ids, err := r.readIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	res := &ListResult{
		Entries:             []domain.HistoryEntry{},
		TotalCount:          len(ids),
		Limit:               limit,
		Offset:              offset,
		FilteredAfterPaging: status != "",
	}
	if offset >= len(ids) {
		return res, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	res.HasMore = end < len(ids)

	for _, id := range ids[offset:end] {
		entry, err := r.load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Str("history_id", id).Str("user_id", ownerID).Msg("history: index references missing entry")
			continue
		}
		if err != nil {
			return nil, err
		}
		if status != "" && entry.Status != status {
			continue
		}
		res.Entries = append(res.Entries, *entry)
	}

	sort.SliceStable(res.Entries, func(i, j int) bool {
		if ascending {
			return res.Entries[i].Timestamp.Before(res.Entries[j].Timestamp)
		}
		return res.Entries[i].Timestamp.After(res.Entries[j].Timestamp)
	})
	return res, nil
}

func parseStatusFilter(v string) (domain.HistoryStatus, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" || v == "all" {
		return "", nil
	}
	s := domain.HistoryStatus(v)
	if !s.Valid() {
		return "", domain.NewValidationError(domain.CodeInvalidField, fmt.Sprintf("unknown status filter %q", v))
	}
	return s, nil
}

func parseSort(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "desc", "newest":
		return false, nil
	case "asc", "oldest":
		return true, nil
	}
	return false, domain.NewValidationError(domain.CodeInvalidField, fmt.Sprintf("unknown sort order %q", v))
}

// Delete removes the entry, its index slot and its blobs.
func (r *Recorder) Delete(ctx context.Context, id, ownerID string) error {
	entry, err := r.Get(ctx, id, ownerID)
	if err != nil {
		return err
	}
	if err := r.kv.Delete(ctx, entryKey(id)); err != nil {
		return fmt.Errorf("history: delete entry: %w", err)
	}
	if err := r.mutateIndex(ctx, ownerID, func(ids []string) []string {
		out := ids[:0]
		for _, existing := range ids {
			if existing != id {
				out = append(out, existing)
			}
		}
		return out
	}); err != nil {
		return fmt.Errorf("history: update index: %w", err)
	}
	r.deleteBlobs(ctx, entry)
	return nil
}

// Export is the downloadable document produced by ExportAll.
type Export struct {
	ExportedAt   time.Time             `json:"exportedAt"`
	TotalEntries int                   `json:"totalEntries"`
	Entries      []domain.HistoryEntry `json:"entries"`
}

// ExportAll returns up to MaxExportedEntries of the owner's entries, newest
// first, without the owner id.
func (r *Recorder) ExportAll(ctx context.Context, ownerID string) (*Export, error) {
	ids, err := r.readIndex(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if len(ids) > MaxExportedEntries {
		ids = ids[:MaxExportedEntries]
	}
	doc := &Export{ExportedAt: r.now(), Entries: make([]domain.HistoryEntry, 0, len(ids))}
	for _, id := range ids {
		entry, err := r.load(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entry.UserID = ""
		doc.Entries = append(doc.Entries, *entry)
	}
	doc.TotalEntries = len(doc.Entries)
	return doc, nil
}

func (r *Recorder) load(ctx context.Context, id string) (*domain.HistoryEntry, error) {
	if strings.TrimSpace(id) == "" {
		return nil, domain.ErrNotFound
	}
	var entry domain.HistoryEntry
	if err := kv.GetJSON(ctx, r.kv, entryKey(id), &entry); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("history: load entry: %w", err)
	}
	return &entry, nil
}

func (r *Recorder) readIndex(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string
	if err := kv.GetJSON(ctx, r.kv, indexKey(ownerID), &ids); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("history: load index: %w", err)
	}
	return ids, nil
}

func (r *Recorder) mutateIndex(ctx context.Context, ownerID string, fn func([]string) []string) error {
	r.indexMu.Lock()
	defer r.indexMu.Unlock()
	ids, err := r.readIndex(ctx, ownerID)
	if err != nil {
		return err
	}
	return kv.PutJSON(ctx, r.kv, indexKey(ownerID), fn(ids))
}

// purge drops an evicted entry. Failures are logged; the id is already gone
// from the index.
func (r *Recorder) purge(ctx context.Context, id string) {
	entry, err := r.load(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.Warn().Err(err).Str("history_id", id).Msg("history: load evicted entry")
		}
		return
	}
	if err := r.kv.Delete(ctx, entryKey(id)); err != nil {
		r.logger.Warn().Err(err).Str("history_id", id).Msg("history: delete evicted entry")
		return
	}
	r.deleteBlobs(ctx, entry)
}

func (r *Recorder) deleteBlobs(ctx context.Context, entry *domain.HistoryEntry) {
	if r.blobs == nil {
		return
	}
	for _, key := range entry.BlobKeys() {
		if err := r.blobs.Delete(ctx, key); err != nil {
			r.logger.Warn().Err(err).Str("history_id", entry.ID).Str("key", key).Msg("history: delete blob")
		}
	}
}
