package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// SysConfig system configuration
type SysConfig struct {
	Appid    string `yaml:"appid" json:"appid"`
	Location string `yaml:"location" json:"location"`
	Workdir  string `yaml:"workdir" json:"workdir"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// WebConfig web server configuration
type WebConfig struct {
	Host   string `yaml:"host" json:"host"`
	Port   int    `yaml:"port" json:"port"`
	Secret string `yaml:"secret" json:"secret"`
}

// DBConfig database configuration
type DBConfig struct {
	Type     string `yaml:"type" json:"type"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Name     string `yaml:"name" json:"name"`
	User     string `yaml:"user" json:"user"`
	Passwd   string `yaml:"passwd" json:"passwd"`
	MaxConn  int    `yaml:"max_conn" json:"max_conn"`
	IdleConn int    `yaml:"idle_conn" json:"idle_conn"`
	Debug    bool   `yaml:"debug" json:"debug"`
}

// LogConfig logger configuration
type LogConfig struct {
	Mode       string `yaml:"mode" json:"mode"`
	FileEnable bool   `yaml:"file_enable" json:"file_enable"`
	Filename   string `yaml:"filename" json:"filename"`
}

// CloudConfig holds WhatsApp Cloud API credentials for the direct channel.
type CloudConfig struct {
	ApiURL        string `yaml:"api_url" json:"api_url"`
	PhoneNumberID string `yaml:"phone_number_id" json:"phone_number_id"`
	AccessToken   string `yaml:"access_token" json:"access_token"`
	BusinessPhone string `yaml:"business_phone" json:"business_phone"`
	VerifyToken   string `yaml:"verify_token" json:"verify_token"`
	Timeout       int    `yaml:"timeout" json:"timeout"` // seconds
}

// RelayConfig holds the automation relay endpoint for the relay channel.
type RelayConfig struct {
	URL     string `yaml:"url" json:"url"`
	Token   string `yaml:"token" json:"token"`
	Timeout int    `yaml:"timeout" json:"timeout"` // seconds
}

type AppConfig struct {
	System   SysConfig   `yaml:"system" json:"system"`
	Web      WebConfig   `yaml:"web" json:"web"`
	Database DBConfig    `yaml:"database" json:"database"`
	Logger   LogConfig   `yaml:"logger" json:"logger"`
	Cloud    CloudConfig `yaml:"cloud" json:"cloud"`
	Relay    RelayConfig `yaml:"relay" json:"relay"`
}

var DefaultAppConfig = &AppConfig{
	System: SysConfig{
		Appid:    "waplane",
		Location: "America/Sao_Paulo",
		Workdir:  "/var/waplane",
		Debug:    false,
	},
	Web: WebConfig{
		Host:   "0.0.0.0",
		Port:   1880,
		Secret: "9b6de5cc-waplane-1880-secret",
	},
	Database: DBConfig{
		Type:     "postgres",
		Host:     "127.0.0.1",
		Port:     5432,
		Name:     "waplane",
		User:     "postgres",
		MaxConn:  100,
		IdleConn: 10,
	},
	Logger: LogConfig{
		Mode:       "development",
		FileEnable: true,
		Filename:   "/var/waplane/waplane.log",
	},
	Cloud: CloudConfig{
		ApiURL:  "https://graph.facebook.com/v18.0",
		Timeout: 15,
	},
	Relay: RelayConfig{
		Timeout: 15,
	},
}

func setEnvString(name string, val *string) {
	if v := os.Getenv(name); v != "" {
		*val = v
	}
}

func setEnvInt(name string, val *int) {
	if v := os.Getenv(name); v != "" {
		*val = cast.ToInt(v)
	}
}

// LoadConfig reads configuration from a YAML file, falling back to defaults,
// and applies environment variable overrides last.
func LoadConfig(cfile string) *AppConfig {
	cfg := new(AppConfig)
	*cfg = *DefaultAppConfig
	if cfile != "" {
		if data, err := os.ReadFile(filepath.Clean(cfile)); err == nil {
			_ = yaml.Unmarshal(data, cfg)
		}
	}

	setEnvString("WAPLANE_SYSTEM_WORKDIR", &cfg.System.Workdir)
	setEnvString("WAPLANE_WEB_HOST", &cfg.Web.Host)
	setEnvInt("WAPLANE_WEB_PORT", &cfg.Web.Port)
	setEnvString("WAPLANE_WEB_SECRET", &cfg.Web.Secret)
	setEnvString("WAPLANE_DB_TYPE", &cfg.Database.Type)
	setEnvString("WAPLANE_DB_HOST", &cfg.Database.Host)
	setEnvInt("WAPLANE_DB_PORT", &cfg.Database.Port)
	setEnvString("WAPLANE_DB_NAME", &cfg.Database.Name)
	setEnvString("WAPLANE_DB_USER", &cfg.Database.User)
	setEnvString("WAPLANE_DB_PWD", &cfg.Database.Passwd)
	setEnvString("WAPLANE_CLOUD_API_URL", &cfg.Cloud.ApiURL)
	setEnvString("WAPLANE_CLOUD_PHONE_NUMBER_ID", &cfg.Cloud.PhoneNumberID)
	setEnvString("WAPLANE_CLOUD_ACCESS_TOKEN", &cfg.Cloud.AccessToken)
	setEnvString("WAPLANE_CLOUD_BUSINESS_PHONE", &cfg.Cloud.BusinessPhone)
	setEnvString("WAPLANE_CLOUD_VERIFY_TOKEN", &cfg.Cloud.VerifyToken)
	setEnvString("WAPLANE_RELAY_URL", &cfg.Relay.URL)
	setEnvString("WAPLANE_RELAY_TOKEN", &cfg.Relay.Token)

	if cfg.System.Location == "" {
		cfg.System.Location = "America/Sao_Paulo"
	}
	return cfg
}
