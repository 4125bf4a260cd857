package config

import (
	"os"
	"strconv"
)

type Config struct {
	Addr          string
	DBDSN         string
	PublicBaseURL string

	LogLevel string

	// Upstream OpenAI-compatible API. The API key here is the server's
	// own key, used by the async image worker; interactive commands
	// carry a per-request key instead.
	OpenAIBaseURL string
	OpenAIAPIKey  string

	// Redis (optional): cross-process sync notices + image byte cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// RabbitMQ (optional): async image generation jobs.
	RabbitURL   string
	RabbitQueue string

	// When true, deleting the last remaining chat is allowed.
	AllowEmptyChats bool
}

func Load() Config {
	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":3001"
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "file:parlor.db?cache=shared"
	}

	publicBaseURL := os.Getenv("PUBLIC_BASE_URL")
	if publicBaseURL == "" {
		publicBaseURL = "http://localhost:3001"
	}

	openAIBaseURL := os.Getenv("OPENAI_BASE_URL")
	if openAIBaseURL == "" {
		openAIBaseURL = "https://api.openai.com/v1"
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "image_jobs"
	}

	return Config{
		Addr:          addr,
		DBDSN:         dsn,
		PublicBaseURL: publicBaseURL,

		LogLevel: os.Getenv("LOG_LEVEL"),

		OpenAIBaseURL: openAIBaseURL,
		OpenAIAPIKey:  os.Getenv("OPENAI_API_KEY"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		AllowEmptyChats: os.Getenv("ALLOW_EMPTY_CHATS") == "1",
	}
}
