// Package config loads worker configuration from the environment, with an
// optional .env file for development.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds the worker's knobs. Everything has a default; a worker started
// with an empty environment is fully functional.
type Config struct {
	Env        string `validate:"required,oneof=dev prod"`
	WorkerName string `validate:"required"`
	Log        struct {
		Level string `validate:"required,oneof=debug info warn error"`
		File  string
	}
	// InvokeTimeoutMS is the deadline the worker applies to its own outbound
	// calls (e.g. host callbacks), in milliseconds.
	InvokeTimeoutMS int `validate:"min=1"`
	RateLimit       struct {
		// PerSecond of 0 disables dispatch rate limiting.
		PerSecond float64 `validate:"min=0"`
		Burst     int     `validate:"min=0"`
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and an optional .env.
func Load() (Config, error) {
	_ = godotenv.Load()

	var c Config
	c.Env = getenv("SQLBRIDGE_ENV", "prod")
	c.WorkerName = getenv("SQLBRIDGE_WORKER_NAME", "sqlworker")
	c.Log.Level = strings.ToLower(getenv("SQLBRIDGE_LOG_LEVEL", "info"))
	c.Log.File = os.Getenv("SQLBRIDGE_LOG_FILE")

	var err error
	if c.InvokeTimeoutMS, err = getint("SQLBRIDGE_INVOKE_TIMEOUT_MS", 30000); err != nil {
		return Config{}, err
	}
	if c.RateLimit.PerSecond, err = getfloat("SQLBRIDGE_RATE_LIMIT", 0); err != nil {
		return Config{}, err
	}
	if c.RateLimit.Burst, err = getint("SQLBRIDGE_RATE_BURST", 32); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	return c, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func getfloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	return strconv.ParseFloat(v, 64)
}
