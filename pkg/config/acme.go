package config

type ACMEConfig struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	Enabled  bool     `mapstructure:"enabled"`

	// DirectoryBaseURL is the externally visible base every ACME URL hangs
	// off, e.g. https://ca.example.com. The /acme prefix is appended.
	DirectoryBaseURL string `mapstructure:"directory_base_url"`

	TermsOfServiceURL string   `mapstructure:"terms_of_service_url"`
	WebsiteURL        string   `mapstructure:"website_url"`
	CAAIdentities     []string `mapstructure:"caa_identities"`
	RequireContact    bool     `mapstructure:"require_contact"`

	// CAID and ProfileID select the issuer and issuance profile used when
	// finalizing orders.
	CAID      string `mapstructure:"ca_id"`
	ProfileID string `mapstructure:"profile_id"`

	NonceValidity         string `mapstructure:"nonce_validity"`
	OrderValidity         string `mapstructure:"order_validity"`
	AuthorizationValidity string `mapstructure:"authorization_validity"`
	ChallengeTimeout      string `mapstructure:"challenge_timeout"`

	AllowWildcards bool `mapstructure:"allow_wildcards"`

	// HTTP01Port is the port contacted during http-01 validation, normally
	// 80. Tests point it at an ephemeral listener.
	HTTP01Port int `mapstructure:"http01_port"`
	// DNSResolver overrides the system resolver for dns-01 lookups,
	// "host:port" form.
	DNSResolver string `mapstructure:"dns_resolver"`
}
