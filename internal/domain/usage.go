package domain

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Usage is the per-account monthly counter backing quota enforcement.
// Month is a UTC calendar month key in "YYYY-MM" form, so the window resets
// at the month boundary regardless of signup date.
type Usage struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	AccountID primitive.ObjectID `bson:"accountId" json:"accountId"`
	Month     string             `bson:"month" json:"month"`
	Count     int64              `bson:"count" json:"count"`
	Bytes     int64              `bson:"bytes" json:"bytes"`
}
