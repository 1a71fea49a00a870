package internal

import (
	"log"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// DefaultConfigPath is the default path to the config file
	DefaultAppName    = "rlds"
	DefaultEnvPrefix  = "RLDS"
	DefaultConfigPath = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir   = filepath.Join(DefaultConfigPath, ".cache")

	// DefaultIgnoreFile lists files to skip when a dataset directory is loaded.
	DefaultIgnoreFile = "." + DefaultAppName + "ignore"

	// Default remote dataset settings
	DefaultRemoteEndpoint = "https://datasets-server.huggingface.co"
	DefaultRemoteConfig   = "default"
)

// ImagePlaceholder marks where an image belongs inside a raw prompt.
const ImagePlaceholder = "<image>"

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a properly configured zerolog logger instance
func GetLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
