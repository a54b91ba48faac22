package main

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// loadEnv loads process configuration from a .env file in the working
// directory, if present. Missing files are not an error: all settings
// fall back to their defaults.
func loadEnv() {
	if err := godotenv.Load(); err != nil {
		log.Println("hdcptx-demo: no .env file found, using defaults")
	}
}

func envBool(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("hdcptx-demo: invalid bool for %s=%q, using default", key, v)
		return def
	}
	return b
}

func envUint64(key string, def uint64) uint64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.ParseUint(v, 0, 64)
	if err != nil {
		log.Printf("hdcptx-demo: invalid uint for %s=%q, using default", key, v)
		return def
	}
	return n
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}
