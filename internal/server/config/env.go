package config

import (
	"errors"
	"io/fs"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// dotenvFile is the optional file loaded before decoding the environment.
var dotenvFile = ".env"

// parseEnv overlays fields tagged with `env` from the process environment.
// Variables already present in the environment win over the .env file.
// A malformed value panics, like a malformed JSON config.
func parseEnv(config *Config) {
	if err := godotenv.Load(dotenvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		panic(err)
	}

	// StrictDecode reports an empty environment as ErrInvalidTarget.
	err := envdecode.StrictDecode(config)
	if err != nil && !errors.Is(err, envdecode.ErrInvalidTarget) && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		panic(err)
	}
}
