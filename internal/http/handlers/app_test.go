package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
	"server/internal/http/handlers"
	"server/internal/http/httpapi"
	"server/internal/infra"
	"server/internal/payments"
	"server/internal/video"
)

type fakeGenerator struct {
	submitFn func(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderJob, error)
	statusFn func(ctx context.Context, providerJobID string) (*domain.ProviderJobStatus, error)
	fetchFn  func(ctx context.Context, providerJobID string, variant domain.ArtifactVariant) ([]byte, error)
}

func (f *fakeGenerator) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderJob, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, req)
	}
	return &domain.ProviderJob{ID: "pj-1", State: domain.ProviderStateQueued}, nil
}

func (f *fakeGenerator) Remix(ctx context.Context, providerJobID, prompt string) (*domain.ProviderJob, error) {
	return &domain.ProviderJob{ID: "pj-remix", State: domain.ProviderStateQueued}, nil
}

func (f *fakeGenerator) Status(ctx context.Context, providerJobID string) (*domain.ProviderJobStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, providerJobID)
	}
	return &domain.ProviderJobStatus{State: domain.ProviderStateInProgress, Progress: 25}, nil
}

func (f *fakeGenerator) FetchArtifact(ctx context.Context, providerJobID string, variant domain.ArtifactVariant) ([]byte, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, providerJobID, variant)
	}
	return []byte("artifact-bytes"), nil
}

func (f *fakeGenerator) Cancel(ctx context.Context, providerJobID string) error {
	return nil
}

type fakeProcessor struct {
	mu       sync.Mutex
	sessions map[string]*domain.PaymentSession
}

func (f *fakeProcessor) RetrieveSession(_ context.Context, ref string) (*domain.PaymentSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *session
	return &cp, nil
}

type blobMemory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (b *blobMemory) Write(_ context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string][]byte)
	}
	b.data[key] = append([]byte(nil), data...)
	return key, nil
}

func (b *blobMemory) Read(_ context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.data[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return data, nil
}

type testServer struct {
	router    http.Handler
	ledger    *repo.LedgerMemory
	processor *fakeProcessor
}

func newTestServer(t *testing.T, generator *fakeGenerator) *testServer {
	t.Helper()
	ledger := repo.NewLedgerMemory()
	ledger.Seed("user-1", 100)
	processor := &fakeProcessor{sessions: make(map[string]*domain.PaymentSession)}

	logger := zerolog.Nop()
	creditsSvc := credits.NewService(ledger, nil, logger)
	orchestrator := video.NewOrchestrator(repo.NewVideoMemory(), creditsSvc, generator, &blobMemory{}, logger)
	reconciler := payments.NewReconciler(creditsSvc, ledger, processor, logger)
	app := handlers.NewApp(orchestrator, creditsSvc, reconciler, logger)

	cfg := &infra.Config{
		AllowedOrigins:  []string{"*"},
		RateLimitPerMin: 1000,
	}
	return &testServer{
		router:    httpapi.NewRouter(app, cfg, logger),
		ledger:    ledger,
		processor: processor,
	}
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, "unexpected status, body: %s", rec.Body.String())
}
