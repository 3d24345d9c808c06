package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/gabrielee5/grafo-sub000/internal/auth"
	"github.com/gabrielee5/grafo-sub000/internal/domain"
	"github.com/gabrielee5/grafo-sub000/internal/history"
	"github.com/gabrielee5/grafo-sub000/internal/http/handlers"
	"github.com/gabrielee5/grafo-sub000/internal/imaging"
	"github.com/gabrielee5/grafo-sub000/internal/infra"
	"github.com/gabrielee5/grafo-sub000/internal/kv"
	"github.com/gabrielee5/grafo-sub000/internal/middleware"
	"github.com/gabrielee5/grafo-sub000/internal/pipeline"
	imageprov "github.com/gabrielee5/grafo-sub000/internal/providers/image"
	"github.com/gabrielee5/grafo-sub000/internal/providers/prompt"
	"github.com/gabrielee5/grafo-sub000/internal/storage"
)

type echoText struct{}

func (echoText) Translate(ctx context.Context, text string) (prompt.Result, error) {
	return prompt.Result{Prompt: text, Output: "remove the background"}, nil
}

func (echoText) Enhance(ctx context.Context, text string) (prompt.Result, error) {
	return prompt.Result{Prompt: text, Output: "isolate the signature on white"}, nil
}

func (echoText) TransformInstruction(text string) string { return text }

func (echoText) Ready() error { return nil }

type unavailableTransformer struct{}

func (unavailableTransformer) Transform(ctx context.Context, req imageprov.Request) (*imageprov.Result, error) {
	return nil, &domain.GatewayError{StatusCode: http.StatusServiceUnavailable}
}

func (unavailableTransformer) Ready() error { return nil }

func (unavailableTransformer) Name() string { return "unavailable" }

type server struct {
	handler http.Handler
	blobs   *storage.FileStore
}

func newServer(t *testing.T, processMax int) *server {
	t.Helper()
	store := kv.NewMemoryStore()
	blobs, err := storage.NewFileStore(t.TempDir(), "http://example.test/static")
	require.NoError(t, err)
	logger := infra.NopLogger()

	accounts := auth.NewService(store, auth.NewTokenIssuer("secret", time.Hour), auth.Options{BcryptCost: bcrypt.MinCost})
	rec := history.NewRecorder(store, blobs, history.Options{MaxEntries: 50})
	orch := pipeline.NewOrchestrator(echoText{}, unavailableTransformer{}, blobs, rec, pipeline.Options{
		Validator: imaging.Validator{MaxBytes: 1 << 20},
	})
	app := &handlers.App{
		Accounts:       accounts,
		Processor:      orch,
		History:        rec,
		Blobs:          blobs,
		MaxUploadBytes: 1 << 20,
	}
	h := NewRouter(app, Options{
		Logger:         logger,
		CORSOrigins:    []string{"http://localhost:3000"},
		DefaultLocale:  "en",
		Authenticator:  accounts,
		GeneralLimiter: middleware.NewMemoryLimiter(1000, time.Minute),
		ProcessLimiter: middleware.NewMemoryLimiter(processMax, time.Minute),
		StaticDir:      blobs.BasePath(),
	})
	return &server{handler: h, blobs: blobs}
}

func (s *server) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) register(t *testing.T, email string) string {
	t.Helper()
	body := strings.NewReader(`{"email":"` + email + `","password":"password1","displayName":"Maria Rossi"}`)
	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/auth/register", body))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var out struct {
		Success bool   `json:"success"`
		Token   string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.True(t, out.Success)
	return out.Token
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 6, 6))
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			img.SetGray(i, j, color.Gray{Y: uint8(40 * ((i + j) % 2) * 5)})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func uploadRequest(t *testing.T, token string, data []byte, contentType, promptText string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="image"; filename="firma.png"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("prompt", promptText))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/process-image", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthz(t *testing.T) {
	s := newServer(t, 10)
	rec := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","gateway":"ready"}`, rec.Body.String())
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t, 10)
	token := s.register(t, "maria@example.it")

	rec := s.do(t, httptest.NewRequest(http.MethodPost, "/auth/register",
		strings.NewReader(`{"email":"MARIA@example.it","password":"password1"}`)))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/auth/login",
		strings.NewReader(`{"email":"maria@example.it","password":"wrong-password"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/auth/verify", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	req = httptest.NewRequest(http.MethodPut, "/auth/profile", strings.NewReader(`{"displayName":"Maria B."}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Maria B.")

	rec = s.do(t, httptest.NewRequest(http.MethodPost, "/auth/firebase", strings.NewReader(`{"idToken":"x"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, httptest.NewRequest(http.MethodGet, "/api/history", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProcessImageFallbackAndHistory(t *testing.T) {
	s := newServer(t, 10)
	token := s.register(t, "maria@example.it")

	rec := s.do(t, uploadRequest(t, token, pngBytes(t), "image/png", "rimuovi lo sfondo"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Success           bool                  `json:"success"`
		HistoryID         string                `json:"historyId"`
		ProcessedImageURL string                `json:"processedImageUrl"`
		ProcessingTime    int64                 `json:"processingTime"`
		WorkflowSteps     []domain.WorkflowStep `json:"workflowSteps"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Success)
	assert.Len(t, out.WorkflowSteps, 6)
	assert.Equal(t, domain.StepLocalFallback, out.WorkflowSteps[4].Title)
	assert.Positive(t, out.ProcessingTime)
	assert.True(t, strings.HasPrefix(out.ProcessedImageURL, "http://example.test/static/users/"))

	// The processed image is reachable through /static.
	path := strings.TrimPrefix(out.ProcessedImageURL, "http://example.test")
	rec = s.do(t, httptest.NewRequest(http.MethodGet, path, nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	list := httptest.NewRequest(http.MethodGet, "/api/history?limit=5&status=completed", nil)
	list.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, list)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Entries    []domain.HistoryEntry `json:"entries"`
		TotalCount int                   `json:"totalCount"`
		Pagination struct {
			Limit               int  `json:"limit"`
			FilteredAfterPaging bool `json:"filteredAfterPaging"`
		} `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, out.HistoryID, page.Entries[0].ID)
	assert.Equal(t, 5, page.Pagination.Limit)
	assert.True(t, page.Pagination.FilteredAfterPaging)

	export := httptest.NewRequest(http.MethodGet, "/api/history/export?format=zip", nil)
	export.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, export)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "grafo-maria-rossi-")

	other := s.register(t, "luca@example.it")
	get := httptest.NewRequest(http.MethodGet, "/api/history/"+out.HistoryID, nil)
	get.Header.Set("Authorization", "Bearer "+other)
	rec = s.do(t, get)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	del := httptest.NewRequest(http.MethodDelete, "/api/history/"+out.HistoryID, nil)
	del.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, del)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "History entry deleted.")

	get = httptest.NewRequest(http.MethodGet, "/api/history/"+out.HistoryID, nil)
	get.Header.Set("Authorization", "Bearer "+token)
	rec = s.do(t, get)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProcessImageValidation(t *testing.T) {
	s := newServer(t, 10)
	token := s.register(t, "maria@example.it")

	req := uploadRequest(t, token, pngBytes(t), "image/jpeg", "x")
	req.Header.Set("X-Locale", "it")
	rec := s.do(t, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body middleware.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.CodeTypeMismatch, body.Code)
	assert.Equal(t, "Il contenuto del file non corrisponde al tipo dichiarato.", body.Error)

	rec = s.do(t, uploadRequest(t, token, pngBytes(t), "image/png", "   "))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), domain.CodeMissingPrompt)

	big := append(pngBytes(t), make([]byte, 1<<20)...)
	rec = s.do(t, uploadRequest(t, token, big, "image/png", "x"))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProcessImageRateLimit(t *testing.T) {
	s := newServer(t, 1)
	token := s.register(t, "maria@example.it")

	rec := s.do(t, uploadRequest(t, token, pngBytes(t), "image/png", "x"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, uploadRequest(t, token, pngBytes(t), "image/png", "x"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestProcessImageEventStream(t *testing.T) {
	s := newServer(t, 10)
	token := s.register(t, "maria@example.it")

	req := uploadRequest(t, token, pngBytes(t), "image/png", "x")
	req.Header.Set("Accept", "text/event-stream")
	rec := s.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var events []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	require.NotEmpty(t, events)
	assert.Equal(t, "created", events[0])
	assert.Equal(t, "result", events[len(events)-1])
	assert.Equal(t, 12, strings.Count(strings.Join(events, ","), "step"))
}
