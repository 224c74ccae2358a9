package domain

// ProviderState is a generation-provider reported job state.
type ProviderState string

const (
	ProviderStateQueued     ProviderState = "queued"
	ProviderStateInProgress ProviderState = "in_progress"
	ProviderStateCompleted  ProviderState = "completed"
	ProviderStateFailed     ProviderState = "failed"
)

// ProviderJob is the provider's acknowledgement of a submitted job.
type ProviderJob struct {
	ID    string
	State ProviderState
}

// ProviderJobStatus is a point-in-time status report for a provider job.
type ProviderJobStatus struct {
	State        ProviderState
	Progress     int
	ErrorMessage string
}

// ArtifactVariant selects which rendition of a finished job to fetch.
type ArtifactVariant string

const (
	ArtifactVideo     ArtifactVariant = "video"
	ArtifactThumbnail ArtifactVariant = "thumbnail"
)

// GenerationRequest is the submission payload for the provider.
type GenerationRequest struct {
	Prompt          string
	Model           string
	Size            string
	DurationSeconds int
}
