package utils

import (
	"os"
	"strconv"
)

// GetEnv returns the value of key or fallback when it is unset or empty.
func GetEnv(key string, fallback ...string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	if len(fallback) > 0 {
		return fallback[0]
	}
	return ""
}

// GetEnvFloat parses key as a float, returning fallback on absence or parse failure.
func GetEnvFloat(key string, fallback float64) float64 {
	raw := GetEnv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

func CreateFolder(folderPath string) error {
	return os.MkdirAll(folderPath, 0755)
}
