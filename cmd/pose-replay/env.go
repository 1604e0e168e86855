package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

const (
	envConfig   = "POSE_REPLAY_CONFIG"
	envLogLevel = "POSE_REPLAY_LOG_LEVEL"
)

// loadDotEnv reads KEY=value pairs from the given files (.env when none)
// into the environment. Variables already set are kept. A missing file is
// not an error.
func loadDotEnv(files ...string) error {
	err := godotenv.Load(files...)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
