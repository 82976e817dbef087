package cli

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cardbox/cardbox/internal/service"
	"github.com/cardbox/cardbox/internal/store"
)

// dataDir holds the --data-dir persistent flag value (set on root command).
var dataDir string

// resolveDataDir returns the data directory from the --data-dir flag,
// the CARDBOX_DATA_DIR env var, or ~/.cardbox as fallback.
func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	if envDir := os.Getenv("CARDBOX_DATA_DIR"); envDir != "" {
		return envDir
	}
	home, _ := os.UserHomeDir()
	return home + "/.cardbox"
}

// openStore opens the configured store: an external Postgres or MySQL
// database when store.driver is set, the embedded SQLite file under
// the data dir otherwise.
func openStore() (*store.Store, error) {
	driver := viper.GetString("store.driver")
	if driver != "" && driver != store.DriverSQLite {
		return store.Open(driver, viper.GetString("store.dsn"))
	}
	return store.NewStore(resolveDataDir())
}

// keyConfigFromViper assembles the card-key lifecycle settings from the
// effective configuration.
func keyConfigFromViper() service.KeyConfig {
	cfg := service.DefaultKeyConfig()
	if ttl := viper.GetDuration("keys.ttl"); ttl > 0 {
		cfg.DefaultTTL = ttl
	}
	if max := viper.GetInt("keys.max_issue"); max > 0 {
		cfg.MaxIssuePerCall = max
	}
	cfg.SingleUse = viper.GetBool("keys.single_use")
	return cfg
}

func inboxConfigFromViper() service.InboxConfig {
	cfg := service.DefaultInboxConfig()
	if max := viper.GetInt("inbox.max_per_owner"); max > 0 {
		cfg.MaxPerOwner = max
	}
	if size := viper.GetInt("inbox.page_size"); size > 0 {
		cfg.ListPageSize = size
	}
	return cfg
}

// jwtSecretFromViper returns the configured admin JWT secret with a
// development fallback.
func jwtSecretFromViper() string {
	secret := viper.GetString("auth.jwt_secret")
	if secret == "" {
		secret = "cardbox-dev-secret-change-me"
	}
	return secret
}

const defaultSessionTTL = 24 * time.Hour

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}
