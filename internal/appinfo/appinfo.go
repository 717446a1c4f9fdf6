// Package appinfo provides application identity constants.
// These are used across packages for consistent naming.
package appinfo

const (
	// AppName is the display name of the application.
	AppName = "Attention Collector"

	// DirName is the directory name used for storing application data.
	// Location: %LOCALAPPDATA%/attention-collector/ (Windows) or ~/.config/attention-collector/ (other)
	DirName = "attention-collector"

	// MutexName is the Windows mutex name for single instance control.
	// "Local\" prefix scopes the mutex to the current user session.
	MutexName = "Local\\attention-collector"

	// LockFileName guards the data directory against a second daemon on
	// platforms with flock.
	LockFileName = "collectord.lock"

	// ConfigFileName is the configuration file name.
	ConfigFileName = "config.json"

	// SecretsFileName is the secrets file name.
	SecretsFileName = "secrets.json"

	// DatabaseFileName is the SQLite database file name.
	DatabaseFileName = "collector.sqlite"

	// PricingFileName is the optional pricing model override file.
	PricingFileName = "pricing.yaml"

	// EventLogKey is the storage key holding the persisted event log.
	EventLogKey = "attention_events"
)
