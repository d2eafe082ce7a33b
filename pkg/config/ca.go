package config

type SerialNumberPolicy string

const (
	SerialNumberPolicyRandom     SerialNumberPolicy = "random"
	SerialNumberPolicySequential SerialNumberPolicy = "sequential"
)

type SerialNumberScope string

const (
	SerialNumberScopePerCA  SerialNumberScope = "per_ca"
	SerialNumberScopeGlobal SerialNumberScope = "global"
)

type SerialNumberSettings struct {
	Policy SerialNumberPolicy `mapstructure:"policy"`
	Scope  SerialNumberScope  `mapstructure:"scope"`
	// RandomBits applies to the random policy only. Allowed range is 64 to
	// 160 bits.
	RandomBits int `mapstructure:"random_bits"`
	// MaxRetries bounds the collision retry loop before the allocator gives
	// up with an exhaustion error.
	MaxRetries int `mapstructure:"max_retries"`
}

type CAConfig struct {
	Logs          Logging                `mapstructure:"logs"`
	Server        HttpServer             `mapstructure:"server"`
	Storage       PluggableStorageEngine `mapstructure:"storage"`
	CryptoEngines CryptoEngines          `mapstructure:"crypto_engines"`
	SerialNumber  SerialNumberSettings   `mapstructure:"serial_number"`
	// VAServerDomains are the externally reachable hosts stamped into AIA
	// and CRL distribution point URLs of issued certificates.
	VAServerDomains []string   `mapstructure:"va_server_domains"`
	VA              VAConfig   `mapstructure:"va"`
	ACME            ACMEConfig `mapstructure:"acme"`
}

func DefaultSerialNumberSettings() SerialNumberSettings {
	return SerialNumberSettings{
		Policy:     SerialNumberPolicyRandom,
		Scope:      SerialNumberScopePerCA,
		RandomBits: 128,
		MaxRetries: 32,
	}
}
