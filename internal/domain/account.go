package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Plan identifies the subscription tier of an account.
type Plan string

// Closed set of plans. Unknown values coming from the database are treated
// as metered (see service.PlanPolicyFor).
const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
	PlanTeam Plan = "team"
)

// Account represents a registered user of the image service.
type Account struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email        string             `bson:"email" json:"email"` // Should be unique
	PasswordHash string             `bson:"passwordHash" json:"-"`
	Plan         Plan               `bson:"plan" json:"plan"`

	// PlanChangedAt records the last plan transition. When an account is
	// downgraded to a metered plan mid-month, usage is counted from this
	// point forward rather than from the start of the calendar month.
	PlanChangedAt time.Time `bson:"planChangedAt,omitempty" json:"-"`

	// UsageBaseline is the month's artifact count captured at the moment of
	// a mid-month downgrade. The effective usage for quota purposes is the
	// raw counter minus this baseline while the downgrade month is current.
	UsageBaseline int64 `bson:"usageBaseline,omitempty" json:"-"`

	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Metered reports whether the account's plan enforces a monthly ceiling.
func (a *Account) Metered() bool {
	return a.Plan != PlanPro && a.Plan != PlanTeam
}
