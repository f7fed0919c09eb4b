package processor

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the processing settings. It is built once at startup and
// passed to the pipeline constructor; nothing mutates it afterwards.
type Config struct {
	// ExtractTimeout bounds archive extraction.
	ExtractTimeout time.Duration
	// ExtractTmpDir is the working directory for extracted archives.
	// Empty means the system temp directory.
	ExtractTmpDir string
	// TargetComponents selects enabled analysis components by name prefix.
	// Empty enables every component the engine offers.
	TargetComponents []string
	// UnpackedSizeLimit is the inclusive upper bound, in bytes, on the total
	// size of an extracted archive. Negative disables the check.
	UnpackedSizeLimit int64
	// DefaultErrorKey is assigned to rule hits whose engine output does not
	// carry an error key of its own.
	DefaultErrorKey string
}

// DefaultConfig returns the default processing configuration.
func DefaultConfig() Config {
	return Config{
		ExtractTimeout:    300 * time.Second,
		ExtractTmpDir:     "",
		TargetComponents:  nil,
		UnpackedSizeLimit: -1,
		DefaultErrorKey:   "GENERIC_ERROR",
	}
}

// LoadConfig reads the processing section of a YAML config file via viper,
// with INSIGHTS_* environment variables taking precedence. A missing file is
// not an error; defaults apply.
//
//	service:
//	  extract_timeout: 300
//	  extract_tmp_dir: /tmp/insights-uploads
//	  target_components: [ccx_rules_ocp.external]
//	  unpacked_archive_size_limit: -1
//	  default_error_key: GENERIC_ERROR
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetDefault("service.extract_timeout", 300)
	v.SetDefault("service.extract_tmp_dir", "")
	v.SetDefault("service.target_components", []string{})
	v.SetDefault("service.unpacked_archive_size_limit", int64(-1))
	v.SetDefault("service.default_error_key", "GENERIC_ERROR")

	v.SetEnvPrefix("INSIGHTS")
	v.AutomaticEnv()

	// A missing config file falls through to defaults; a present but
	// malformed one is a hard error.
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return cfg, fmt.Errorf("read processing config %s: %w", path, err)
			}
		}
	}

	cfg.ExtractTimeout = time.Duration(v.GetInt("service.extract_timeout")) * time.Second
	cfg.ExtractTmpDir = v.GetString("service.extract_tmp_dir")
	cfg.TargetComponents = v.GetStringSlice("service.target_components")
	cfg.UnpackedSizeLimit = v.GetInt64("service.unpacked_archive_size_limit")
	cfg.DefaultErrorKey = v.GetString("service.default_error_key")

	return cfg, nil
}
