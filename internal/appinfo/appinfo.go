// Package appinfo holds the names the application uses on disk and in
// messages.
package appinfo

const (
	AppName = "Valheim Watcher"

	// DirName is the data directory under os.UserConfigDir.
	DirName = "valheim-watcher"

	// MutexName is the Windows single-instance mutex. Global because
	// dedicated servers usually run under a service account.
	MutexName = "Global\\valheim-watcher"

	LockFileName     = "valheim-watcher.lock"
	ConfigFileName   = "config.json"
	SecretsFileName  = "secrets.json"
	DatabaseFileName = "valheim-watcher.sqlite"

	// ServerLogDirName holds the rotated copies of server output written by run.
	ServerLogDirName = "logs"
)
