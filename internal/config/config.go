// Package config resolves the pipeline's environment-variable surface
// (spec.md §6) into typed configuration structs, grounded on the teacher's
// cmd/server/main.go env-override convention (resolveInt/resolveDuration:
// an explicit value wins, otherwise fall back to the environment, otherwise
// a default) generalized from flag+env pairs to env-only resolution. This
// package reads no flags; farmhand-admin parses its own flags on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every environment variable spec.md §6 names.
type Config struct {
	DatabaseURL string
	NATSURL     string
	Port        int
	Storage     string

	UploadBucket       string
	R2AccountID        string
	R2Endpoint         string
	R2AccessKeyID      string
	R2SecretAccessKey  string
	R2Region           string

	JWTSecret string

	FFmpegLocation string

	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string

	FrontendURL string

	RedisURL string
}

// Load resolves Config from the process environment, applying spec.md §6's
// defaults (PORT=3000, STORAGE=storage, R2_REGION=auto,
// FFMPEG_LOCATION=/usr/bin/ffmpeg).
func Load() Config {
	return Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		NATSURL:     envOr("NATS_URL", "nats://127.0.0.1:4222"),
		Port:        envInt("PORT", 3000),
		Storage:     envOr("STORAGE", "storage"),

		UploadBucket:      os.Getenv("UPLOAD_BUCKET"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2Endpoint:        os.Getenv("R2_ENDPOINT"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2Region:          envOr("R2_REGION", "auto"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		FFmpegLocation: envOr("FFMPEG_LOCATION", "/usr/bin/ffmpeg"),

		TwitchClientID:     os.Getenv("TWITCH_CLIENT_ID"),
		TwitchClientSecret: os.Getenv("TWITCH_CLIENT_SECRET"),
		TwitchRedirectURI:  os.Getenv("TWITCH_REDIRECT_URI"),

		FrontendURL: envOr("FRONTEND_URL", "http://localhost:3000"),

		RedisURL: os.Getenv("REDIS_URL"),
	}
}

// Validate checks the subset of fields every process needs regardless of
// role (bootstrap failures here are meant to terminate with a non-zero exit
// code per spec.md §6).
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.NATSURL) == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	return nil
}

// FFprobeLocation derives the ffprobe binary path from FFmpegLocation,
// assuming both ship in the same directory (the common distro layout).
func (c Config) FFprobeLocation() string {
	dir := strings.TrimSuffix(c.FFmpegLocation, "ffmpeg")
	if dir == c.FFmpegLocation {
		return "ffprobe"
	}
	return dir + "ffprobe"
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// EnvDuration resolves a duration-valued environment variable, returning
// fallback when unset or unparsable.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
