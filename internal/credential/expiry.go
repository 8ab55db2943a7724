package credential

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/jafarshop/labconnect/internal/config"
)

// ExpiryPolicy decides when a freshly acquired partner credential stops being usable
type ExpiryPolicy interface {
	ExpiresAt(acquiredAt time.Time) time.Time
}

// DailyReset expires credentials at the next Hour:00 in Location strictly after acquisition.
// Every acquisition within one reset-zone day shares the same expiry instant.
type DailyReset struct {
	Location *time.Location
	Hour     int
}

func (p DailyReset) ExpiresAt(acquiredAt time.Time) time.Time {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	local := acquiredAt.In(loc)
	reset := time.Date(local.Year(), local.Month(), local.Day(), p.Hour, 0, 0, 0, loc)
	if !reset.After(local) {
		reset = time.Date(local.Year(), local.Month(), local.Day()+1, p.Hour, 0, 0, 0, loc)
	}
	return reset
}

// FixedTTL expires credentials a fixed duration after acquisition
type FixedTTL struct {
	TTL time.Duration
}

func (p FixedTTL) ExpiresAt(acquiredAt time.Time) time.Time {
	return acquiredAt.Add(p.TTL)
}

// PolicyFromConfig builds the configured expiry policy
func PolicyFromConfig(cfg config.CredentialConfig) (ExpiryPolicy, error) {
	switch cfg.ExpiryPolicy {
	case config.ExpiryPolicyTTL:
		if cfg.TTL <= 0 {
			return nil, fmt.Errorf("credential TTL must be positive, got %s", cfg.TTL)
		}
		return FixedTTL{TTL: cfg.TTL}, nil
	case config.ExpiryPolicyDailyReset, "":
		loc, err := time.LoadLocation(cfg.TimeZone)
		if err != nil {
			return nil, fmt.Errorf("invalid partner time zone %q: %w", cfg.TimeZone, err)
		}
		if cfg.ResetHour < 0 || cfg.ResetHour > 23 {
			return nil, fmt.Errorf("reset hour must be between 0 and 23, got %d", cfg.ResetHour)
		}
		return DailyReset{Location: loc, Hour: cfg.ResetHour}, nil
	default:
		return nil, fmt.Errorf("unknown credential expiry policy %q", cfg.ExpiryPolicy)
	}
}
