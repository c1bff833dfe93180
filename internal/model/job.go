package model

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job represents one transcoding request and its results.
type Job struct {
	ID            uuid.UUID          `json:"id"`
	OwnerID       string             `json:"owner_id"`
	InputRef      string             `json:"input_ref"`      // object key of the source, not owned by the job
	InputFilename string             `json:"input_filename"` // used to name artifacts
	Spec          TransformationSpec `json:"spec"`
	Status        Status             `json:"status"`
	Outputs       []OutputArtifact   `json:"outputs"`
	ErrorDetail   string             `json:"error_detail,omitempty"`
	Progress      int                `json:"progress"` // 0-100
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	ExpiresAt     time.Time          `json:"expires_at"`
}

// ExpectedOutputs is the artifact count of a fully successful job:
// the matrix plus the thumbnail.
func (j Job) ExpectedOutputs() int {
	return j.Spec.MatrixSize() + 1
}

// BaseName is the input file name without directory and extension.
func (j Job) BaseName() string {
	name := j.InputFilename
	if name == "" {
		name = j.InputRef
	}
	name = path.Base(name)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" || name == "." || name == "/" {
		return "video"
	}
	return name
}

// ArtifactName returns the file name produced for a unit,
// e.g. "clip_720p.mp4" or "clip_thumbnail.png".
func (j Job) ArtifactName(u Unit) string {
	return j.BaseName() + "_" + string(u.Resolution) + "." + string(u.Format)
}

// OutputArtifact is one published output file.
type OutputArtifact struct {
	Name         string     `json:"name"`
	Format       Format     `json:"format"`
	Resolution   Resolution `json:"resolution"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	ByteSize     int64      `json:"byte_size"`
	ContentType  string     `json:"content_type,omitempty"`
	StoragePath  string     `json:"storage_path"`
	// RetrievalURL is the URL returned at publish time. Reads replace it
	// with one resolved from StoragePath, since presigned URLs expire.
	RetrievalURL string `json:"retrieval_url"`
}

// JobMessage is the broker payload asking a worker to process a job.
type JobMessage struct {
	JobID uuid.UUID `json:"job_id"`
}

// Identity is the authenticated caller as reported by the gateway.
type Identity struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// RoleAdmin may read any job and trigger retention sweeps.
const RoleAdmin = "admin"

// ValidOwnerID reports whether id can be used as a storage path segment.
// Separators and dot segments would let one owner write into another
// owner's prefix.
func ValidOwnerID(id string) bool {
	if id == "" || id == "." || strings.Contains(id, "..") {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}

// IsAdmin reports whether the caller has the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
