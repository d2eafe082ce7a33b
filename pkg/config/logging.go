package config

// LogLevel values are parsed by logrus. None silences the subsystem.
type LogLevel string

const (
	Error LogLevel = "error"
	Warn  LogLevel = "warn"
	Info  LogLevel = "info"
	Debug LogLevel = "debug"
	Trace LogLevel = "trace"
	None  LogLevel = "none"
)

type Logging struct {
	Level LogLevel `mapstructure:"level"`
}
