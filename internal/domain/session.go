package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SessionStatus is the lifecycle state of an upload session.
type SessionStatus string

const (
	SessionPending   SessionStatus = "pending"
	SessionUploading SessionStatus = "uploading"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// UploadSession tracks one upload attempt from intent to a committed
// artifact (or terminal failure). Sessions are never deleted: a completed
// session is superseded by its artifact, a failed one either retries or
// stays failed for good once the retry budget is spent.
type UploadSession struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID primitive.ObjectID `bson:"accountId" json:"accountId"`

	FileName     string `bson:"fileName" json:"fileName"`
	DeclaredSize int64  `bson:"declaredSize" json:"declaredSize"`
	MimeType     string `bson:"mimeType" json:"mimeType"`
	S3ObjectKey  string `bson:"s3ObjectKey" json:"-"`

	Status        SessionStatus `bson:"status" json:"status"`
	RetryCount    int           `bson:"retryCount" json:"retryCount"`
	BytesUploaded int64         `bson:"bytesUploaded" json:"bytesUploaded"` // Monotonically non-decreasing
	ErrorMessage  string        `bson:"errorMessage,omitempty" json:"errorMessage,omitempty"`

	// ResultingArtifactID is set exactly when Status is SessionCompleted.
	ResultingArtifactID *primitive.ObjectID `bson:"resultingArtifactId,omitempty" json:"resultingArtifactId,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Terminal reports whether the session can still make progress given the
// configured retry ceiling.
func (s *UploadSession) Terminal(maxRetries int) bool {
	if s.Status == SessionCompleted {
		return true
	}
	return s.Status == SessionFailed && s.RetryCount >= maxRetries
}
