package app

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/shrimpsizemoose/trekker/logger"
)

type HeaderConfig struct {
	Name  string `toml:"name"`
	Value string `toml:"value"`
}

type Config struct {
	Server struct {
		Port       string `toml:"port"`
		EnableAuth bool   `toml:"enable_auth"`
		// BaseURL is what gets embedded into scannable QR images,
		// e.g. https://points.example.edu
		BaseURL string `toml:"base_url"`
	} `toml:"server"`

	Auth struct {
		RedisURL         string `toml:"redis_url"`
		TokenHeader      string `toml:"token_header"`
		TokenKeyTemplate string `toml:"token_key_template"`
	} `toml:"auth"`

	API struct {
		TeacherIDHeader string         `toml:"teacher_id_header"`
		RequiredHeaders []HeaderConfig `toml:"required_headers"`
	} `toml:"api"`

	Database struct {
		DSN           string `toml:"dsn"`
		MigrationsDir string `toml:"migrations_dir"`
	} `toml:"database"`

	Display struct {
		TimestampFormat string `toml:"timestamp_format"`
	} `toml:"display"`

	// GSheet is keyed by classroom id; each classroom may export its
	// standings to more than one sheet.
	GSheet        map[string][]GSheetConfig `toml:"gsheet"`
	EmojiVariants []string                  `toml:"emoji_variants"`
}

type GSheetConfig struct {
	CredentialsPath string `toml:"credentials_path"`
	Schedule        string `toml:"schedule"`
	SheetID         string `toml:"sheet_id"`
	SheetName       string `toml:"sheet_name"`
	StandingsRange  string `toml:"standings_range"`
	TimestampRange  string `toml:"timestamp_range"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf(
			"error reading config file %s\n> Error: %w\n> Content:\n%s",
			path,
			err,
			string(data),
		)
	}

	if config.Server.Port == "" {
		return nil, fmt.Errorf("Server port is not specified in config, use a value like :9999")
	}
	if config.API.TeacherIDHeader == "" {
		config.API.TeacherIDHeader = "X-Teacher-Id"
	}

	logger.Debug.Printf("Loaded config for server on %s", config.Server.Port)

	return &config, nil
}
