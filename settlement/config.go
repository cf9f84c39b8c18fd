package settlement

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	URL                   string        `envconfig:"SETTLEMENT_URL" required:"true"`
	APIKey                string        `envconfig:"SETTLEMENT_API_KEY"`
	Timeout               time.Duration `envconfig:"SETTLEMENT_TIMEOUT" default:"15s"`
	StatusRetries         uint64        `envconfig:"SETTLEMENT_STATUS_RETRIES" default:"2"`
	PlatformAddress       string        `envconfig:"SETTLEMENT_PLATFORM_ADDRESS" required:"true"`
	PlatformAccountSecret string        `envconfig:"SETTLEMENT_PLATFORM_SECRET"`
}

func LoadConfig() (c *Config, err error) {
	c = &Config{}
	err = envconfig.Process("", c)
	if err != nil {
		return nil, err
	}
	return c, nil
}
