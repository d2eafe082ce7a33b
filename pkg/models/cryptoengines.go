package models

type CryptoEngineType string

const (
	Filesystem CryptoEngineType = "FILESYSTEM"
)

type CryptoEngineInfo struct {
	Type          CryptoEngineType `json:"type"`
	SecurityLevel int              `json:"security_level"`
	Provider      string           `json:"provider"`
	Name          string           `json:"name"`
	Metadata      map[string]any   `json:"metadata"`
	SupportedKeys []SupportedKey   `json:"supported_key_types"`
}

type SupportedKey struct {
	Type  KeyType `json:"type"`
	Sizes []int   `json:"sizes"`
}

type CryptoEngineProvider struct {
	CryptoEngineInfo
	ID      string `json:"id"`
	Default bool   `json:"default"`
}
