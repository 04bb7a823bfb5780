package queue

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/radialmonster/flickr-justified-block-sub001/pkg/resource"
)

// Status of a job row.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	// StatusFailed is terminal: the job itself is broken (bad payload,
	// unknown type), not the upstream.
	StatusFailed Status = "failed"
)

// Discovery priorities. Single photos first, they are cheapest.
const (
	PriorityPhoto       = 30
	PriorityAlbum       = 20
	PriorityPhotostream = 10
)

// PriorityFor returns the default priority of a resource kind.
func PriorityFor(k resource.Kind) int {
	switch k {
	case resource.KindPhoto:
		return PriorityPhoto
	case resource.KindAlbum:
		return PriorityAlbum
	default:
		return PriorityPhotostream
	}
}

// Job is one row of warm_jobs.
type Job struct {
	Key      string
	Type     resource.Kind
	Payload  json.RawMessage
	Priority int

	// NotBefore nil means immediately eligible.
	NotBefore *time.Time

	Attempts  int
	LastError string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payload is the structured job payload.
type Payload struct {
	Ref resource.Ref `json:"ref"`
	URL string       `json:"url,omitempty"`
}

// NewJob builds a pending job for ref.
func NewJob(ref resource.Ref, sourceURL string) (Job, error) {
	if err := ref.Validate(); err != nil {
		return Job{}, err
	}
	payload, err := json.Marshal(Payload{Ref: ref, URL: sourceURL})
	if err != nil {
		return Job{}, fmt.Errorf("marshal payload: %w", err)
	}
	return Job{
		Key:      ref.JobKey(),
		Type:     ref.Kind,
		Payload:  payload,
		Priority: PriorityFor(ref.Kind),
		Status:   StatusPending,
	}, nil
}

// Ref decodes the job's resource. The payload wins over the key; jobs
// without a usable payload fall back to parsing the key.
func (j Job) Ref() (resource.Ref, error) {
	if len(j.Payload) > 0 {
		var p Payload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return resource.Ref{}, fmt.Errorf("job %s: decode payload: %w", j.Key, err)
		}
		if p.Ref.Kind != "" {
			if err := p.Ref.Validate(); err != nil {
				return resource.Ref{}, fmt.Errorf("job %s: %w", j.Key, err)
			}
			if p.Ref.Kind != j.Type {
				return resource.Ref{}, fmt.Errorf("job %s: payload kind %s does not match type %s", j.Key, p.Ref.Kind, j.Type)
			}
			return p.Ref, nil
		}
	}
	ref, err := resource.ParseJobKey(j.Key)
	if err != nil {
		return resource.Ref{}, fmt.Errorf("job %s: %w", j.Key, err)
	}
	return ref, nil
}
