package video

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"server/internal/adapter/repo"
	"server/internal/credits"
	"server/internal/domain"
)

const testPrompt = "a calm ocean at sunrise with seagulls"

type fakeGenerator struct {
	submitFn func(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderJob, error)
	remixFn  func(ctx context.Context, providerJobID, prompt string) (*domain.ProviderJob, error)
	statusFn func(ctx context.Context, providerJobID string) (*domain.ProviderJobStatus, error)
	fetchFn  func(ctx context.Context, providerJobID string, variant domain.ArtifactVariant) ([]byte, error)
	cancelFn func(ctx context.Context, providerJobID string) error

	mu          sync.Mutex
	cancelCalls []string
}

func (f *fakeGenerator) Submit(ctx context.Context, req domain.GenerationRequest) (*domain.ProviderJob, error) {
	if f.submitFn != nil {
		return f.submitFn(ctx, req)
	}
	return &domain.ProviderJob{ID: "pj-1", State: domain.ProviderStateQueued}, nil
}

func (f *fakeGenerator) Remix(ctx context.Context, providerJobID, prompt string) (*domain.ProviderJob, error) {
	if f.remixFn != nil {
		return f.remixFn(ctx, providerJobID, prompt)
	}
	return &domain.ProviderJob{ID: "pj-remix", State: domain.ProviderStateQueued}, nil
}

func (f *fakeGenerator) Status(ctx context.Context, providerJobID string) (*domain.ProviderJobStatus, error) {
	if f.statusFn != nil {
		return f.statusFn(ctx, providerJobID)
	}
	return &domain.ProviderJobStatus{State: domain.ProviderStateInProgress, Progress: 50}, nil
}

func (f *fakeGenerator) FetchArtifact(ctx context.Context, providerJobID string, variant domain.ArtifactVariant) ([]byte, error) {
	if f.fetchFn != nil {
		return f.fetchFn(ctx, providerJobID, variant)
	}
	return []byte("artifact-bytes"), nil
}

func (f *fakeGenerator) Cancel(ctx context.Context, providerJobID string) error {
	f.mu.Lock()
	f.cancelCalls = append(f.cancelCalls, providerJobID)
	f.mu.Unlock()
	if f.cancelFn != nil {
		return f.cancelFn(ctx, providerJobID)
	}
	return nil
}

type blobMemory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newBlobMemory() *blobMemory {
	return &blobMemory{data: make(map[string][]byte)}
}

func (b *blobMemory) Write(_ context.Context, key string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
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

type fixture struct {
	orchestrator *Orchestrator
	ledger       *repo.LedgerMemory
	videos       *repo.VideoMemory
	provider     *fakeGenerator
	blobs        *blobMemory
}

func newFixture(provider *fakeGenerator, seedCredits int) *fixture {
	ledger := repo.NewLedgerMemory()
	ledger.Seed("user-1", seedCredits)
	videos := repo.NewVideoMemory()
	blobs := newBlobMemory()
	creditsSvc := credits.NewService(ledger, nil, zerolog.Nop())
	return &fixture{
		orchestrator: NewOrchestrator(videos, creditsSvc, provider, blobs, zerolog.Nop()),
		ledger:       ledger,
		videos:       videos,
		provider:     provider,
		blobs:        blobs,
	}
}

func submitRequest() SubmitRequest {
	return SubmitRequest{
		UserID:          "user-1",
		Prompt:          testPrompt,
		Model:           "sora-2",
		Size:            "1280x720",
		DurationSeconds: 8,
	}
}

func (f *fixture) balance(t *testing.T) int {
	t.Helper()
	balance, err := f.ledger.Balance(context.Background(), "user-1")
	require.NoError(t, err)
	return balance
}

func TestSubmitDebitsAndCreatesJob(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 100)

	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusQueued, job.Status)
	assert.Equal(t, "pj-1", job.ProviderJobID)
	assert.Equal(t, 8, job.CreditsCost)
	assert.Equal(t, 92, f.balance(t))

	stored, err := f.videos.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "user-1", stored.UserID)

	entries := f.ledger.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.TransactionGenerationDebit, entries[0].Kind)
	assert.Equal(t, job.ID, entries[0].RelatedJobID)
}

func TestSubmitValidationLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 100)

	req := submitRequest()
	req.DurationSeconds = 7
	_, err := f.orchestrator.Submit(context.Background(), req)
	var validationErr *domain.ValidationError
	require.ErrorAs(t, err, &validationErr)

	assert.Equal(t, 100, f.balance(t))
	assert.Empty(t, f.ledger.Entries())
}

func TestSubmitInsufficientCredits(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 5)

	_, err := f.orchestrator.Submit(context.Background(), submitRequest())
	var insufficientErr *domain.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 8, insufficientErr.Required)
	assert.Equal(t, 5, insufficientErr.Available)
	assert.Equal(t, 5, f.balance(t))
}

func TestSubmitProviderFailureNetsToZero(t *testing.T) {
	provider := &fakeGenerator{
		submitFn: func(context.Context, domain.GenerationRequest) (*domain.ProviderJob, error) {
			return nil, &domain.ProviderError{Op: "submit", Message: "capacity exhausted"}
		},
	}
	f := newFixture(provider, 100)

	_, err := f.orchestrator.Submit(context.Background(), submitRequest())
	assert.ErrorIs(t, err, domain.ErrProviderFailure)

	assert.Equal(t, 100, f.balance(t))
	entries := f.ledger.Entries()
	require.Len(t, entries, 2, "debit and compensating refund must both be logged")
	assert.Equal(t, domain.TransactionGenerationDebit, entries[0].Kind)
	assert.Equal(t, domain.TransactionRefund, entries[1].Kind)
	assert.Equal(t, entries[0].RelatedJobID, entries[1].RelatedJobID)
}

func TestReconcileRecordsProgress(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return &domain.ProviderJobStatus{State: domain.ProviderStateInProgress, Progress: 73}, nil
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	reconciled, err := f.orchestrator.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusInProgress, reconciled.Status)
	assert.Equal(t, 73, reconciled.Progress)
}

func TestReconcileCompletedStoresArtifact(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return &domain.ProviderJobStatus{State: domain.ProviderStateCompleted, Progress: 100}, nil
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	reconciled, err := f.orchestrator.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusCompleted, reconciled.Status)
	assert.Equal(t, 100, reconciled.Progress)
	assert.NotEmpty(t, reconciled.VideoKey)
	require.NotNil(t, reconciled.CompletedAt)

	data, err := f.orchestrator.Artifact(context.Background(), "user-1", job.ID, domain.ArtifactVideo)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact-bytes"), data)

	// Completion settles the debit; no refund entry appears.
	assert.Equal(t, 92, f.balance(t))
	require.Len(t, f.ledger.Entries(), 1)
}

func TestReconcileFailedRefundsExactlyOnce(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return &domain.ProviderJobStatus{State: domain.ProviderStateFailed, ErrorMessage: "content policy"}, nil
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	reconciled, err := f.orchestrator.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusFailed, reconciled.Status)
	assert.Equal(t, "content policy", reconciled.ErrorMessage)
	assert.Equal(t, 100, f.balance(t))

	// Further reconciliations are no-ops.
	for i := 0; i < 3; i++ {
		again, err := f.orchestrator.Reconcile(context.Background(), job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.VideoStatusFailed, again.Status)
	}
	assert.Equal(t, 100, f.balance(t))
	assert.Len(t, f.ledger.Entries(), 2)
}

func TestReconcileArtifactFetchFailureRefunds(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return &domain.ProviderJobStatus{State: domain.ProviderStateCompleted, Progress: 100}, nil
		},
		fetchFn: func(context.Context, string, domain.ArtifactVariant) ([]byte, error) {
			return nil, &domain.ProviderError{Op: "fetch", Message: "gone"}
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	reconciled, err := f.orchestrator.Reconcile(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.VideoStatusFailed, reconciled.Status)
	assert.Equal(t, "artifact retrieval failed", reconciled.ErrorMessage)
	assert.Equal(t, 100, f.balance(t))

	_, err = f.orchestrator.Artifact(context.Background(), "user-1", job.ID, domain.ArtifactVideo)
	assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
}

func TestReconcileProviderErrorKeepsState(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return nil, &domain.ProviderError{Op: "status", Message: "timeout"}
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	reconciled, err := f.orchestrator.Reconcile(context.Background(), job.ID)
	require.Error(t, err)
	require.NotNil(t, reconciled)
	assert.Equal(t, domain.VideoStatusQueued, reconciled.Status)
	assert.Equal(t, 92, f.balance(t))
}

func TestConcurrentReconcileSingleRefund(t *testing.T) {
	provider := &fakeGenerator{
		statusFn: func(context.Context, string) (*domain.ProviderJobStatus, error) {
			return &domain.ProviderJobStatus{State: domain.ProviderStateFailed, ErrorMessage: "boom"}, nil
		},
	}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.orchestrator.Reconcile(context.Background(), job.ID)
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, f.balance(t))
	refunds := 0
	for _, e := range f.ledger.Entries() {
		if e.Kind == domain.TransactionRefund {
			refunds++
		}
	}
	assert.Equal(t, 1, refunds, "racing reconciliations must produce exactly one refund")
}

func TestArtifactUnavailableBeforeCompletion(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	_, err = f.orchestrator.Artifact(context.Background(), "user-1", job.ID, domain.ArtifactVideo)
	assert.ErrorIs(t, err, domain.ErrArtifactUnavailable)
}

func TestRemixDebitsAndLinksSource(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 100)
	source, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	remix, err := f.orchestrator.Remix(context.Background(), "user-1", source.ID, "the same ocean but during a storm")
	require.NoError(t, err)
	assert.Equal(t, source.ID, remix.RemixedFrom)
	assert.Equal(t, "pj-remix", remix.ProviderJobID)
	assert.Equal(t, 84, f.balance(t))
}

func TestRemixForeignJobNotFound(t *testing.T) {
	f := newFixture(&fakeGenerator{}, 100)
	f.ledger.Seed("user-2", 100)
	source, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	_, err = f.orchestrator.Remix(context.Background(), "user-2", source.ID, "stealing someone else's ocean")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	balance, err := f.ledger.Balance(context.Background(), "user-2")
	require.NoError(t, err)
	assert.Equal(t, 100, balance)
}

func TestDeleteCancelsProviderJob(t *testing.T) {
	provider := &fakeGenerator{}
	f := newFixture(provider, 100)
	job, err := f.orchestrator.Submit(context.Background(), submitRequest())
	require.NoError(t, err)

	require.NoError(t, f.orchestrator.Delete(context.Background(), "user-1", job.ID))
	_, err = f.videos.GetByID(context.Background(), job.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Equal(t, []string{"pj-1"}, provider.cancelCalls)
}
