package config

type FSStorageConfig struct {
	DirectoryPath string `mapstructure:"directory_path"`
}

type VAConfig struct {
	LogLevel LogLevel `mapstructure:"log_level"`
	// FilesystemStorage backs the CRL blob store.
	FilesystemStorage FSStorageConfig `mapstructure:"filesystem_storage"`
	CRL               CRLConfig       `mapstructure:"crl"`
	OCSP              OCSPConfig      `mapstructure:"ocsp"`
}

type CRLConfig struct {
	// RefreshInterval and Validity accept extended duration strings such as
	// "30m", "12h" or "7d".
	RefreshInterval    string `mapstructure:"refresh_interval"`
	Validity           string `mapstructure:"validity"`
	RegenerateOnRevoke bool   `mapstructure:"regenerate_on_revoke"`
}

type OCSPConfig struct {
	ResponseValidity string `mapstructure:"response_validity"`
	// DelegatedSignerKeyID selects a dedicated OCSP signing key. Empty means
	// the CA key signs responses directly.
	DelegatedSignerKeyID string `mapstructure:"delegated_signer_key_id"`
}
