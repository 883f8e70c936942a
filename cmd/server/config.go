package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type config struct {
	Port           string        `yaml:"port"`
	BackendURL     string        `yaml:"backendURL"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay"`
	WelcomeMessage string        `yaml:"welcomeMessage"`
	LogLevel       string        `yaml:"logLevel"`
}

const (
	defaultPort           = "8080"
	defaultBackendURL     = "http://localhost:8000"
	defaultReconnectDelay = 3 * time.Second
	defaultWelcomeMessage = "¡Hola! Soy tu asistente de traducción al maya. " +
		"Escríbeme una palabra o frase en cualquier idioma y te ayudo a traducirla."
)

func defaultConfigPath() string {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(cfgDir, "mayachat", "config.yaml")
}

// loadConfig reads the config file at path. A missing file is only an error when the path was
// given explicitly; otherwise the defaults are used.
func loadConfig(path string, explicit bool) (config, error) {
	cfg := config{}

	cfgFile, err := os.Open(path)
	switch {
	case err == nil:
		defer cfgFile.Close()
		if err := yaml.NewDecoder(cfgFile).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return config{}, fmt.Errorf("error decoding config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.BackendURL == "" {
		cfg.BackendURL = defaultBackendURL
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.WelcomeMessage == "" {
		cfg.WelcomeMessage = defaultWelcomeMessage
	}

	return cfg, nil
}

func (c config) logLevel() (slog.Level, error) {
	var level slog.Level
	if c.LogLevel == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
