package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Gateways - учётные данные платёжных шлюзов из YAML-файла.
// Значения вида ${VAR} подставляются из окружения.
type Gateways struct {
	SSLCommerz *SSLCommerzGateway `yaml:"sslcommerz"`
	BKash      *BKashGateway      `yaml:"bkash"`
}

type SSLCommerzGateway struct {
	Enabled       bool   `yaml:"enabled"`
	BaseURL       string `yaml:"base_url"`
	StoreID       string `yaml:"store_id"`
	StorePassword string `yaml:"store_password"`
	SuccessURL    string `yaml:"success_url"`
	FailURL       string `yaml:"fail_url"`
	CancelURL     string `yaml:"cancel_url"`
	IPNURL        string `yaml:"ipn_url"`
}

type BKashGateway struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	AppKey      string `yaml:"app_key"`
	AppSecret   string `yaml:"app_secret"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CallbackURL string `yaml:"callback_url"`
}

// LoadGateways читает файл шлюзов. Отсутствующий файл означает, что шлюзы не настроены.
func LoadGateways(path string) (*Gateways, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Gateways{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: чтение %s: %w", path, err)
	}
	return ParseGateways(data)
}

// ParseGateways разбирает YAML шлюзов с подстановкой переменных окружения.
func ParseGateways(data []byte) (*Gateways, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var g Gateways
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("config: разбор шлюзов: %w", err)
	}

	if s := g.SSLCommerz; s != nil && s.Enabled {
		if s.BaseURL == "" || s.StoreID == "" || s.StorePassword == "" {
			return nil, fmt.Errorf("config: sslcommerz: base_url, store_id и store_password обязательны")
		}
	}
	if b := g.BKash; b != nil && b.Enabled {
		if b.BaseURL == "" || b.AppKey == "" || b.AppSecret == "" || b.Username == "" || b.Password == "" {
			return nil, fmt.Errorf("config: bkash: base_url, app_key, app_secret, username и password обязательны")
		}
	}
	return &g, nil
}
