// Package config reads process configuration from the environment. Each main
// loads .env via godotenv first, so local overrides need no shell exports.
package config

import "os"

const (
	DefaultPort     = "8080"
	DefaultRelayURL = "ws://localhost:8080/ws"
)

type Server struct {
	Port  string // PORT
	Debug bool   // DEBUG enables development logging
}

type Client struct {
	RelayURL string // RELAY_URL, base websocket endpoint
	Room     string // ROOM, defaults to the relay's default room when empty
	UserID   string // USER_ID, generated when empty
	Debug    bool   // DEBUG
}

func ServerFromEnv() Server {
	return Server{
		Port:  getenv("PORT", DefaultPort),
		Debug: os.Getenv("DEBUG") != "",
	}
}

func ClientFromEnv() Client {
	return Client{
		RelayURL: getenv("RELAY_URL", DefaultRelayURL),
		Room:     os.Getenv("ROOM"),
		UserID:   os.Getenv("USER_ID"),
		Debug:    os.Getenv("DEBUG") != "",
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
