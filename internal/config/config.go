package config

import "github.com/spf13/viper"

type Config struct {
	Running struct {
		Port int `mapstructure:"port"`
	} `mapstructure:"running"`
	Mysql struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"mysql"`
	Redis struct {
		Addrs    []string `mapstructure:"addrs"`
		Password string   `mapstructure:"password"`
	} `mapstructure:"redis"`
	Kafka struct {
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`
	Presence struct {
		StaleAfterSeconds    int `mapstructure:"staleAfterSeconds"`
		SweepIntervalSeconds int `mapstructure:"sweepIntervalSeconds"`
		CursorTTLSeconds     int `mapstructure:"cursorTTLSeconds"`
	} `mapstructure:"presence"`
}

// Load 读取 yaml 配置。兼容从项目根目录或 cmd 目录启动。
func Load() (*Config, error) {
	cfg := &Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetDefault("running.port", 8090)
	v.SetDefault("presence.staleAfterSeconds", 300)
	v.SetDefault("presence.sweepIntervalSeconds", 60)
	v.SetDefault("presence.cursorTTLSeconds", 60)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
