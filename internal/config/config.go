package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"ticketdesk/internal/agents"
)

const FileName = "ticketdesk.yml"

const (
	DraftsGateway = "gateway"
	DraftsLocal   = "local"
)

// Config models ticketdesk.yml.
type Config struct {
	Gateway struct {
		BaseURL string        `yaml:"base_url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"gateway"`
	Refresh struct {
		Schedule          string        `yaml:"schedule"`
		BootstrapAttempts int           `yaml:"bootstrap_attempts"`
		BootstrapDelay    time.Duration `yaml:"bootstrap_delay"`
	} `yaml:"refresh"`
	LLM struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"llm"`
	Agents struct {
		Default  string           `yaml:"default"`
		Profiles []agents.Profile `yaml:"profiles"`
	} `yaml:"agents"`
	KnowledgeBase map[string]string `yaml:"knowledge_base"`
	Drafts        struct {
		Mode   string `yaml:"mode"`
		Author string `yaml:"author"`
	} `yaml:"drafts"`
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`
}

// Validate ensures the config can be wired into a running desk.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return errors.New("config.gateway.base_url is required")
	}
	if c.Gateway.Timeout < 0 {
		return errors.New("config.gateway.timeout must not be negative")
	}
	if _, err := cron.ParseStandard(c.Refresh.Schedule); err != nil {
		return fmt.Errorf("config.refresh.schedule %q: %w", c.Refresh.Schedule, err)
	}
	if c.Refresh.BootstrapAttempts < 1 {
		return errors.New("config.refresh.bootstrap_attempts must be at least 1")
	}
	if c.Refresh.BootstrapDelay < 0 {
		return errors.New("config.refresh.bootstrap_delay must not be negative")
	}
	if _, err := c.Registry(); err != nil {
		return fmt.Errorf("config.agents: %w", err)
	}
	switch c.Drafts.Mode {
	case DraftsGateway, DraftsLocal:
	default:
		return fmt.Errorf("config.drafts.mode must be %q or %q, got %q", DraftsGateway, DraftsLocal, c.Drafts.Mode)
	}
	return nil
}

// Registry builds the responder registry described by the agents section.
func (c *Config) Registry() (*agents.Registry, error) {
	return agents.NewRegistry(c.Agents.Default, c.Agents.Profiles)
}

// Path returns the config file path for a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the parsed default config.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
}

// FromYAML overlays raw YAML onto the defaults and validates the result.
// Keys missing from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional reads path when it exists and falls back to Default otherwise.
func LoadOptional(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromFile(path)
}

// Marshal renders cfg as YAML.
func Marshal(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

const defaultTemplate = `gateway:
  base_url: http://localhost:3000/api
  timeout: 10s

refresh:
  schedule: "@every 5m"
  bootstrap_attempts: 3
  bootstrap_delay: 2s

llm:
  base_url: https://api.groq.com/openai/v1
  model: mixtral-8x7b-32768

agents:
  default: customer_service
  profiles:
    - name: customer_service
      description: general customer service specialist
      skills: [customer service, general inquiries, basic assistance]
    - name: technical_support
      description: specialist in resolving technical issues
      skills: [troubleshooting, configuration, technical problems]
    - name: sales
      description: specialist in sales and product inquiries
      skills: [products, pricing, promotions]

knowledge_base: {}

drafts:
  mode: gateway
  author: support@ticketdesk.local

server:
  addr: ":8080"

journal:
  path: ""
`
