package service

import (
	"fmt"
	"pixbin/image-app/internal/domain"
	"time"
)

// Unlimited is the sentinel reported for limit/remaining on unmetered
// plans. It is not a numeric bound; callers must branch on
// QuotaSnapshot.Unlimited before doing arithmetic.
const Unlimited int64 = -1

// QuotaLimits are the configurable inputs of the plan policy.
type QuotaLimits struct {
	FreeMonthlyLimit   int64
	MeteredArtifactTTL time.Duration
}

// PlanPolicy is the resolved policy for one plan: whether a monthly ceiling
// applies, what it is, and what TTL new artifacts receive.
type PlanPolicy struct {
	Metered      bool
	MonthlyLimit int64
	ArtifactTTL  time.Duration // zero means artifacts never expire
}

// PlanPolicyFor maps the closed plan set to its policy. A plan value we do
// not recognize (bad data, future migration) falls back to the most
// restrictive policy rather than an unenforced one.
func PlanPolicyFor(plan domain.Plan, limits QuotaLimits) PlanPolicy {
	switch plan {
	case domain.PlanPro, domain.PlanTeam:
		return PlanPolicy{Metered: false}
	case domain.PlanFree:
		return PlanPolicy{Metered: true, MonthlyLimit: limits.FreeMonthlyLimit, ArtifactTTL: limits.MeteredArtifactTTL}
	default:
		return PlanPolicy{Metered: true, MonthlyLimit: limits.FreeMonthlyLimit, ArtifactTTL: limits.MeteredArtifactTTL}
	}
}

// QuotaSnapshot is the usage view returned to callers, including with
// quota-exceeded denials so clients can render an upgrade prompt.
type QuotaSnapshot struct {
	Plan      domain.Plan `json:"plan"`
	Unlimited bool        `json:"unlimited"`
	Limit     int64       `json:"limit"`
	Used      int64       `json:"used"`
	Remaining int64       `json:"remaining"`
}

// CheckQuota is the pure quota decision: given a plan's policy and the
// effective usage for the current window, may one more artifact be
// committed?
func CheckQuota(plan domain.Plan, policy PlanPolicy, used int64) (QuotaSnapshot, bool) {
	if !policy.Metered {
		return QuotaSnapshot{
			Plan:      plan,
			Unlimited: true,
			Limit:     Unlimited,
			Used:      used,
			Remaining: Unlimited,
		}, true
	}

	remaining := policy.MonthlyLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return QuotaSnapshot{
		Plan:      plan,
		Limit:     policy.MonthlyLimit,
		Used:      used,
		Remaining: remaining,
	}, used < policy.MonthlyLimit
}

// ExpiryFor computes the artifact expiration once, at creation time.
func ExpiryFor(policy PlanPolicy, createdAt time.Time) *time.Time {
	if !policy.Metered || policy.ArtifactTTL <= 0 {
		return nil
	}
	t := createdAt.Add(policy.ArtifactTTL)
	return &t
}

// MonthKey is the UTC calendar-month window key ("YYYY-MM"). The window
// resets exactly at the month boundary regardless of signup date.
func MonthKey(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// EffectiveUsed applies the downgrade baseline: when the account's last
// plan change falls inside the current window, only artifacts committed
// since the change count against the quota.
func EffectiveUsed(account *domain.Account, raw int64, now time.Time) int64 {
	if account.UsageBaseline > 0 && MonthKey(account.PlanChangedAt) == MonthKey(now) {
		used := raw - account.UsageBaseline
		if used < 0 {
			used = 0
		}
		return used
	}
	return raw
}

// QuotaExceededError carries the usage snapshot with the denial so the
// caller can show limit/used/remaining.
type QuotaExceededError struct {
	Snapshot QuotaSnapshot
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("monthly quota exceeded: %d of %d artifacts used", e.Snapshot.Used, e.Snapshot.Limit)
}
