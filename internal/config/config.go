package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Port              int
	APIKey            string // empty = no auth required
	DBPath            string // empty = degraded mode, no persistence
	ModelPath         string
	ModelConfigPath   string
	Device            string // "cpu", "cuda", "cuda:0" ...; empty = auto
	PersonClassID     int    // model class id restricted to people
	ModelPoolSize     int    // number of model instances held in the pool
	OutputDirectory   string // empty = no on-disk artifacts
	LogDirectory      string
	CORSOrigins       string
	DefaultConfidence float64
	LineThickness     int
	ShowLabels        bool
	BannerCorner      string // top_left, top_right, bottom_left, bottom_right
}

func Load() *Config {
	// Best effort; env vars win over missing .env files.
	_ = godotenv.Load()

	return &Config{
		Port:              getEnvAsInt("PORT", 8080),
		APIKey:            getEnv("API_KEY", ""),
		DBPath:            getEnv("DB_PATH", ""),
		ModelPath:         getEnv("MODEL_PATH", filepath.Join(".", "models", "mask_rcnn_inception_v2_coco.pb")),
		ModelConfigPath:   getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "mask_rcnn_inception_v2_coco.pbtxt")),
		Device:            getEnv("DEVICE", ""),
		PersonClassID:     getEnvAsInt("PERSON_CLASS_ID", 0),
		ModelPoolSize:     getEnvAsInt("MODEL_POOL_SIZE", 2),
		OutputDirectory:   getEnv("OUTPUT_DIR", ""),
		LogDirectory:      getEnv("LOG_DIR", filepath.Join(".", "logs")),
		CORSOrigins:       getEnv("CORS_ORIGINS", "http://localhost:8501,http://127.0.0.1:8501"),
		DefaultConfidence: getEnvAsFloat("DEFAULT_CONFIDENCE", 0.25),
		LineThickness:     getEnvAsInt("LINE_THICKNESS", 3),
		ShowLabels:        getEnvAsBool("SHOW_LABELS", true),
		BannerCorner:      getEnv("BANNER_CORNER", "top_left"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
