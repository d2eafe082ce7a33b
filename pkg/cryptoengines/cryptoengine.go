package cryptoengines

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/sirupsen/logrus"
)

type CryptoEngine interface {
	GetEngineConfig() models.CryptoEngineInfo

	ListPrivateKeyIDs() ([]string, error)
	GetPrivateKeyByID(keyID string) (crypto.Signer, error)

	CreateRSAPrivateKey(keySize int) (string, crypto.Signer, error)
	CreateECDSAPrivateKey(curve elliptic.Curve) (string, crypto.Signer, error)
	CreateEd25519PrivateKey() (string, crypto.Signer, error)

	ImportRSAPrivateKey(key *rsa.PrivateKey) (string, crypto.Signer, error)
	ImportECDSAPrivateKey(key *ecdsa.PrivateKey) (string, crypto.Signer, error)

	DeleteKey(keyID string) error
}

var cryptoEngineBuilders = make(map[config.CryptoEngineProvider]func(*logrus.Entry, config.FilesystemEngineConfig) (CryptoEngine, error))

func RegisterCryptoEngine(name config.CryptoEngineProvider, builder func(*logrus.Entry, config.FilesystemEngineConfig) (CryptoEngine, error)) {
	cryptoEngineBuilders[name] = builder
}

func GetEngineBuilder(name config.CryptoEngineProvider) func(*logrus.Entry, config.FilesystemEngineConfig) (CryptoEngine, error) {
	return cryptoEngineBuilders[name]
}
