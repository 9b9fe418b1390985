package switchover

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings are the operational tunables of a switchover run. Zero values in
// a loaded file fall back to the defaults.
type Settings struct {
	// PollInterval is the fixed interval between restore phase reads.
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollCeiling is the hard ceiling on waiting for the activation restore.
	PollCeiling time.Duration `yaml:"poll_ceiling"`

	// MemberWaitCeiling bounds the wait for each fleet member to report
	// Available and Joined after activation.
	MemberWaitCeiling time.Duration `yaml:"member_wait_ceiling"`

	// BackupWaitCeiling bounds the wait for a new backup to appear during
	// finalization.
	BackupWaitCeiling time.Duration `yaml:"backup_wait_ceiling"`

	// AbsenceWaitCeiling bounds the wait for a deleted restore to actually
	// disappear before recreation.
	AbsenceWaitCeiling time.Duration `yaml:"absence_wait_ceiling"`

	// WorkerLimit caps the parallel fleet-member verification fan-out.
	WorkerLimit int `yaml:"worker_limit"`

	// CallTimeout is the client-side timeout applied to every API call.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// DefaultSettings returns the tunables used when no settings file is given.
func DefaultSettings() Settings {
	return Settings{
		PollInterval:       30 * time.Second,
		PollCeiling:        60 * time.Minute,
		MemberWaitCeiling:  20 * time.Minute,
		BackupWaitCeiling:  30 * time.Minute,
		AbsenceWaitCeiling: 5 * time.Minute,
		WorkerLimit:        4,
		CallTimeout:        30 * time.Second,
	}
}

// LoadSettings reads a YAML settings file, overlaying it on the defaults.
func LoadSettings(path string) (Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("failed to unmarshal settings file: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return settings, err
	}
	return settings, nil
}

// Validate rejects settings that would stall or hammer the API.
func (s Settings) Validate() error {
	if s.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if s.PollCeiling < s.PollInterval {
		return fmt.Errorf("poll_ceiling must be at least poll_interval")
	}
	if s.MemberWaitCeiling <= 0 {
		return fmt.Errorf("member_wait_ceiling must be positive")
	}
	if s.BackupWaitCeiling <= 0 {
		return fmt.Errorf("backup_wait_ceiling must be positive")
	}
	if s.AbsenceWaitCeiling <= 0 {
		return fmt.Errorf("absence_wait_ceiling must be positive")
	}
	if s.WorkerLimit < 1 {
		return fmt.Errorf("worker_limit must be at least 1")
	}
	if s.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	return nil
}
