package config

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// EngineConfig tunes the allocation engine and its resync scheduler.
type EngineConfig struct {
	DefaultAllowReplace  bool   `env:"DEFAULT_ALLOW_REPLACE" envDefault:"false"`
	InvitationExpireDays int    `env:"INVITATION_EXPIRE_DAYS" envDefault:"7"`
	BatchSize            int    `env:"BATCH_SIZE" envDefault:"100"`
	DataRetentionDays    int    `env:"DATA_RETENTION_DAYS" envDefault:"365"` // 0 keeps events forever
	ExpiringSoonDays     int    `env:"EXPIRING_SOON_DAYS" envDefault:"7"`
	ResyncSchedule       string `env:"RESYNC_SCHEDULE" envDefault:"@daily"` // empty disables the schedule
}

// DefaultEngineConfig returns the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultAllowReplace:  false,
		InvitationExpireDays: 7,
		BatchSize:            100,
		DataRetentionDays:    365,
		ExpiringSoonDays:     7,
		ResyncSchedule:       "@daily",
	}
}

// Validate rejects out-of-range values and unparsable schedules.
func (c EngineConfig) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchSize)
	}
	if c.DataRetentionDays < 0 {
		return fmt.Errorf("DATA_RETENTION_DAYS must not be negative, got %d", c.DataRetentionDays)
	}
	if c.ExpiringSoonDays < 0 {
		return fmt.Errorf("EXPIRING_SOON_DAYS must not be negative, got %d", c.ExpiringSoonDays)
	}
	if c.InvitationExpireDays < 0 {
		return fmt.Errorf("INVITATION_EXPIRE_DAYS must not be negative, got %d", c.InvitationExpireDays)
	}
	if c.ResyncSchedule != "" {
		if _, err := cron.ParseStandard(c.ResyncSchedule); err != nil {
			return fmt.Errorf("RESYNC_SCHEDULE %q: %w", c.ResyncSchedule, err)
		}
	}
	return nil
}

// ExpiringSoonHorizon is how far ahead a closing pool is reported as
// expiring_soon.
func (c EngineConfig) ExpiringSoonHorizon() time.Duration {
	return days(c.ExpiringSoonDays)
}

// InvitationTTL is how long a pending seat invitation stays valid.
func (c EngineConfig) InvitationTTL() time.Duration {
	return days(c.InvitationExpireDays)
}

// RetentionCutoff returns the instant before which events may be pruned.
// It reports false when retention is unlimited.
func (c EngineConfig) RetentionCutoff(now time.Time) (time.Time, bool) {
	if c.DataRetentionDays <= 0 {
		return time.Time{}, false
	}
	return now.Add(-days(c.DataRetentionDays)), true
}

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }
