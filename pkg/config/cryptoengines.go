package config

type CryptoEngineProvider string

const (
	FilesystemProvider CryptoEngineProvider = "filesystem"
)

type CryptoEngines struct {
	LogLevel        LogLevel                 `mapstructure:"log_level"`
	DefaultEngineID string                   `mapstructure:"default_id"`
	Filesystem      []FilesystemEngineConfig `mapstructure:"filesystem"`
}

type FilesystemEngineConfig struct {
	ID               string `mapstructure:"id"`
	Name             string `mapstructure:"name"`
	StorageDirectory string `mapstructure:"storage_directory"`
}
