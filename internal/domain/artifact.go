package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Artifact is the committed result of a successful upload. The actual image
// bytes live in S3 under S3ObjectKey; this record is what a short link
// resolves to.
type Artifact struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	AccountID   primitive.ObjectID `bson:"accountId" json:"accountId"`
	ShortID     string             `bson:"shortId" json:"shortId"`         // Unique, immutable once assigned
	ContentHash string             `bson:"contentHash" json:"contentHash"` // Unique per account
	S3ObjectKey string             `bson:"s3ObjectKey" json:"-"`
	FileName    string             `bson:"fileName" json:"fileName"`
	MimeType    string             `bson:"mimeType" json:"mimeType"`
	ByteSize    int64              `bson:"byteSize" json:"byteSize"`
	Width       int                `bson:"width" json:"width"`
	Height      int                `bson:"height" json:"height"`

	// ExpiresAt is assigned once at creation from the account's plan policy.
	// Nil means the artifact never expires.
	ExpiresAt *time.Time `bson:"expiresAt,omitempty" json:"expiresAt,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
}

// Expired reports whether the artifact's TTL has elapsed at the given time.
func (a *Artifact) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}
