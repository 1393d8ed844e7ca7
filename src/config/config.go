package config

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"8000"`
	MySQLDSN       string   `env:"MYSQL_DSN" envDefault:"raidikalu:raidikalu@tcp(127.0.0.1:3306)/raidikalu"`
	RedisURL       string   `env:"REDIS_URL" envDefault:"redis://127.0.0.1:6379/0"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	BaseImageURL   string   `env:"BASE_RAID_IMAGE_URL" envDefault:"/static/img/monsters/%d.png"`
}

func Load() (Config, error) {
	return env.ParseAs[Config]()
}
