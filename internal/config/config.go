package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	// ServerURL is the websocket endpoint of the lobby coordinator.
	ServerURL string
	// ContentURL is the HTTP base of the content service.
	ContentURL string
	// Name is the player's display name / identity.
	Name string
	// AuthToken promotes reconnecting sockets to the authenticated
	// identity.
	AuthToken string
}

// Load reads an optional .env file, then the environment. A missing .env
// is fine; unset required vars are not.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		ServerURL:  os.Getenv("TRIVIALINK_SERVER_URL"),
		ContentURL: os.Getenv("TRIVIALINK_CONTENT_URL"),
		Name:       os.Getenv("TRIVIALINK_NAME"),
		AuthToken:  os.Getenv("TRIVIALINK_AUTH_TOKEN"),
	}
	if cfg.ServerURL == "" {
		return Config{}, fmt.Errorf("TRIVIALINK_SERVER_URL is required")
	}
	if cfg.Name == "" {
		cfg.Name = "guest"
	}
	return cfg, nil
}
