package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a merge job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusFetching   Status = "fetching"
	StatusEncoding   Status = "encoding"
	StatusPublishing Status = "publishing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// Error kinds recorded on failed jobs. Callers distinguish "your media was
// invalid" from "we could not deliver it" through these values.
const (
	ErrorKindFetchTransient    = "fetch_transient"
	ErrorKindFetchPermanent    = "fetch_permanent"
	ErrorKindEncodeTimeout     = "encode_timeout"
	ErrorKindEncodeCrash       = "encode_crash"
	ErrorKindEncodeUnsupported = "encode_unsupported"
	ErrorKindPublish           = "publish"
	ErrorKindCancelled         = "cancelled"
	ErrorKindInternal          = "internal"
)

// CancelledMessage is the error message set when a job fails due to an
// explicit cancel request.
const CancelledMessage = "cancelled by request"

var allStatuses = []Status{
	StatusQueued,
	StatusFetching,
	StatusEncoding,
	StatusPublishing,
	StatusDone,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusFetching:   {},
	StatusEncoding:   {},
	StatusPublishing: {},
}

// InputRole declares how a source reference participates in the merge.
type InputRole string

const (
	RoleVideo InputRole = "video"
	RoleAudio InputRole = "audio"
)

// InputRef names one remote media source and its declared role.
type InputRef struct {
	URL  string    `json:"url"`
	Role InputRole `json:"role"`
}

// MergeOptions parameterizes the encode stage.
type MergeOptions struct {
	// Mode is "replace" (video's audio fully substituted) or "mix"
	// (original and supplied audio combined).
	Mode string `json:"mode"`
	// Format is the target container format (mp4 or mkv).
	Format string `json:"format"`
}

// Job represents a merge request persisted in SQLite.
type Job struct {
	ID             string
	IdempotencyKey string
	Status         Status
	Inputs         []InputRef
	Options        MergeOptions
	CallbackURL    string
	ResultURL      string
	ErrorKind      string
	ErrorMessage   string

	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string

	Attempts      int
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status is done or failed.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsProcessing reports whether the job is currently held by a worker.
func (j Job) IsProcessing() bool {
	_, ok := processingStatuses[j.Status]
	return ok
}

// IsProcessingStatus reports whether a status reflects an in-flight operation.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// VideoInput returns the first input with the video role.
func (j Job) VideoInput() (InputRef, bool) {
	for _, in := range j.Inputs {
		if in.Role == RoleVideo {
			return in, true
		}
	}
	return InputRef{}, false
}

// AudioInputs returns all inputs with the audio role, in submission order.
func (j Job) AudioInputs() []InputRef {
	var refs []InputRef
	for _, in := range j.Inputs {
		if in.Role == RoleAudio {
			refs = append(refs, in)
		}
	}
	return refs
}

// SetProgress updates all three progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given kind and message and
// clears the heartbeat. The result reference is cleared so a terminal job
// never carries both result and error.
func (j *Job) SetFailed(kind, message string) {
	j.Status = StatusFailed
	j.ErrorKind = kind
	j.ErrorMessage = message
	j.ResultURL = ""
	j.ProgressStage = "Failed"
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.LastHeartbeat = nil
}

// SetDone marks the job as done with the published result reference.
func (j *Job) SetDone(resultURL string) {
	j.Status = StatusDone
	j.ResultURL = resultURL
	j.ErrorKind = ""
	j.ErrorMessage = ""
	j.ProgressStage = "Done"
	j.ProgressPercent = 100
	j.ProgressMessage = "merge complete"
	j.LastHeartbeat = nil
}

// HealthSummary describes aggregated queue counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Done       int
	Failed     int
}
