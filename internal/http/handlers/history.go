package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gosimple/slug"

	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/history"
	"github.com/gabrielee5/grafo-sub000/internal/i18n"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
	"github.com/gabrielee5/grafo-sub000/pkg/zip"
)

type paginationDTO struct {
	Limit               int  `json:"limit"`
	Offset              int  `json:"offset"`
	Total               int  `json:"total"`
	HasMore             bool `json:"hasMore"`
	FilteredAfterPaging bool `json:"filteredAfterPaging"`
}

type historyListResponse struct {
	Success    bool                  `json:"success"`
	Entries    []domain.HistoryEntry `json:"entries"`
	TotalCount int                   `json:"totalCount"`
	HasMore    bool                  `json:"hasMore"`
	Pagination paginationDTO         `json:"pagination"`
}

func (a *App) ListHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := intParam(q.Get("limit"))
	if !ok {
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidField, "limit")
		return
	}
	offset, ok := intParam(q.Get("offset"))
	if !ok {
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidField, "offset")
		return
	}
	res, err := a.History.List(r.Context(), a.currentUserID(r), history.ListOptions{
		Limit:  limit,
		Offset: offset,
		Status: q.Get("status"),
		Sort:   q.Get("sort"),
	})
	if err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	a.json(w, http.StatusOK, historyListResponse{
		Success:    true,
		Entries:    res.Entries,
		TotalCount: res.TotalCount,
		HasMore:    res.HasMore,
		Pagination: paginationDTO{
			Limit:               res.Limit,
			Offset:              res.Offset,
			Total:               res.TotalCount,
			HasMore:             res.HasMore,
			FilteredAfterPaging: res.FilteredAfterPaging,
		},
	})
}

func (a *App) GetHistory(w http.ResponseWriter, r *http.Request) {
	entry, err := a.History.Get(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "entry": entry})
}

func (a *App) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	if err := a.History.Delete(r.Context(), chi.URLParam(r, "id"), a.currentUserID(r)); err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"message": i18n.T(middleware.LocaleFromContext(r.Context()), i18n.MsgHistoryDeleted),
	})
}

// ExportHistory downloads the owner's history as JSON, or with ?format=zip as
// an archive holding history.json and every stored image.
func (a *App) ExportHistory(w http.ResponseWriter, r *http.Request) {
	doc, err := a.History.ExportAll(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		a.fail(w, r, err, i18n.MsgHistoryNotFound)
		return
	}
	base := a.exportName(r)

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", base))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(body)
	case "zip":
		entries := []zip.Entry{{Filename: "history.json", Modified: doc.ExportedAt, Data: body}}
		entries = append(entries, a.exportImages(r, doc)...)
		var buf bytes.Buffer
		if err := zip.Write(&buf, entries); err != nil {
			a.fail(w, r, err, i18n.MsgHistoryNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.zip", base))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
	default:
		a.error(w, r, http.StatusBadRequest, i18n.MsgInvalidField, "format")
	}
}

func (a *App) exportImages(r *http.Request, doc *history.Export) []zip.Entry {
	if a.Blobs == nil {
		return nil
	}
	var out []zip.Entry
	for _, entry := range doc.Entries {
		for _, key := range entry.BlobKeys() {
			data, _, err := a.Blobs.Get(r.Context(), key)
			if err != nil {
				if !errors.Is(err, storage.ErrNotFound) {
					a.logger().Warn().Err(err).Str("history_id", entry.ID).Msg("export: read blob failed")
				}
				continue
			}
			out = append(out, zip.Entry{
				Filename: "images/" + entry.ID + "/" + path.Base(key),
				Modified: entry.Timestamp,
				Data:     data,
			})
		}
	}
	return out
}

func (a *App) exportName(r *http.Request) string {
	owner := "history"
	if user := middleware.UserFromContext(r.Context()); user != nil && user.DisplayName != "" {
		owner = user.DisplayName
	}
	return slug.Make(fmt.Sprintf("grafo %s %s", owner, a.now().Format("2006-01-02")))
}

func intParam(v string) (int, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
