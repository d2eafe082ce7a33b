package filesystem

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/ocelotpki/ocelot/pkg/config"
	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/sirupsen/logrus"
)

func Register() {
	cryptoengines.RegisterCryptoEngine(config.FilesystemProvider, func(logger *logrus.Entry, conf config.FilesystemEngineConfig) (cryptoengines.CryptoEngine, error) {
		return NewFilesystemPEMEngine(logger, conf)
	})
}

type FilesystemCryptoEngine struct {
	config           models.CryptoEngineInfo
	storageDirectory string
	logger           *logrus.Entry
}

func NewFilesystemPEMEngine(logger *logrus.Entry, conf config.FilesystemEngineConfig) (cryptoengines.CryptoEngine, error) {
	lFs := logger.WithField("subsystem-provider", "Filesystem")

	if err := checkAndCreateStorageDir(lFs, conf.StorageDirectory); err != nil {
		return nil, err
	}

	return &FilesystemCryptoEngine{
		logger:           lFs,
		storageDirectory: conf.StorageDirectory,
		config: models.CryptoEngineInfo{
			Type:          models.Filesystem,
			SecurityLevel: 0,
			Provider:      "Golang",
			Name:          runtime.Version(),
			Metadata: map[string]any{
				"storage-path": conf.StorageDirectory,
			},
			SupportedKeys: []models.SupportedKey{
				{
					Type:  models.KeyTypeRSA,
					Sizes: []int{2048, 3072, 4096},
				},
				{
					Type:  models.KeyTypeECDSA,
					Sizes: []int{224, 256, 384, 521},
				},
				{
					Type:  models.KeyTypeEd25519,
					Sizes: []int{256},
				},
			},
		},
	}, nil
}

func (engine *FilesystemCryptoEngine) GetEngineConfig() models.CryptoEngineInfo {
	return engine.config
}

func (engine *FilesystemCryptoEngine) ListPrivateKeyIDs() ([]string, error) {
	entries, err := os.ReadDir(engine.storageDirectory)
	if err != nil {
		return nil, err
	}

	keyIDs := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		keyIDs = append(keyIDs, entry.Name())
	}

	return keyIDs, nil
}

func (engine *FilesystemCryptoEngine) GetPrivateKeyByID(keyID string) (crypto.Signer, error) {
	engine.logger.Debugf("reading %s Key", keyID)
	file := filepath.Join(engine.storageDirectory, keyID)

	pemBytes, err := os.ReadFile(file)
	if err != nil {
		engine.logger.Errorf("could not read %s Key: %s", keyID, err)
		return nil, err
	}

	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no key found")
	}

	genericKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	switch key := genericKey.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return key, nil
	case ed25519.PrivateKey:
		return key, nil
	default:
		return nil, errors.New("unsupported key type")
	}
}

func (engine *FilesystemCryptoEngine) CreateRSAPrivateKey(keySize int) (string, crypto.Signer, error) {
	engine.logger.Debugf("creating RSA %d private key", keySize)

	key, err := rsa.GenerateKey(rand.Reader, keySize)
	if err != nil {
		engine.logger.Errorf("could not create RSA private key: %s", err)
		return "", nil, err
	}

	return engine.importKey(key)
}

func (engine *FilesystemCryptoEngine) CreateECDSAPrivateKey(curve elliptic.Curve) (string, crypto.Signer, error) {
	engine.logger.Debugf("creating ECDSA %s private key", curve.Params().Name)

	key, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		engine.logger.Errorf("could not create ECDSA private key: %s", err)
		return "", nil, err
	}

	return engine.importKey(key)
}

func (engine *FilesystemCryptoEngine) CreateEd25519PrivateKey() (string, crypto.Signer, error) {
	engine.logger.Debugf("creating Ed25519 private key")

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		engine.logger.Errorf("could not create Ed25519 private key: %s", err)
		return "", nil, err
	}

	return engine.importKey(key)
}

func (engine *FilesystemCryptoEngine) ImportRSAPrivateKey(key *rsa.PrivateKey) (string, crypto.Signer, error) {
	engine.logger.Debugf("importing RSA private key")
	return engine.importKey(key)
}

func (engine *FilesystemCryptoEngine) ImportECDSAPrivateKey(key *ecdsa.PrivateKey) (string, crypto.Signer, error) {
	engine.logger.Debugf("importing ECDSA private key")
	return engine.importKey(key)
}

func (engine *FilesystemCryptoEngine) DeleteKey(keyID string) error {
	return os.Remove(filepath.Join(engine.storageDirectory, keyID))
}

func (engine *FilesystemCryptoEngine) importKey(key any) (string, crypto.Signer, error) {
	var pubKey any
	switch k := key.(type) {
	case *rsa.PrivateKey:
		pubKey = &k.PublicKey
	case *ecdsa.PrivateKey:
		pubKey = &k.PublicKey
	case ed25519.PrivateKey:
		pubKey = k.Public()
	default:
		return "", nil, errors.New("unsupported key type")
	}

	keyID, err := EncodePKIXPublicKeyDigest(pubKey)
	if err != nil {
		engine.logger.Errorf("could not encode public key digest: %s", err)
		return "", nil, err
	}

	keyBytes, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		engine.logger.Errorf("could not marshal private key: %s", err)
		return "", nil, err
	}

	pemKey := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
	file := filepath.Join(engine.storageDirectory, keyID)
	if err := os.WriteFile(file, pemKey, 0600); err != nil {
		engine.logger.Errorf("could not store private key: %s", err)
		return "", nil, err
	}

	signer, err := engine.GetPrivateKeyByID(keyID)
	if err != nil {
		engine.logger.Errorf("could not get private key by ID: %s", err)
		return "", nil, err
	}

	return keyID, signer, nil
}

// EncodePKIXPublicKeyDigest derives the engine wide key identifier: the hex
// SHA-256 digest of the PKIX encoded public key.
func EncodePKIXPublicKeyDigest(pubKey any) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pubKey)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(der)
	return hex.EncodeToString(digest[:]), nil
}

func checkAndCreateStorageDir(logger *logrus.Entry, dir string) error {
	var err error
	if _, err = os.Stat(dir); os.IsNotExist(err) {
		logger.Warnf("storage directory %s does not exist. Will create such directory", dir)
		err = os.MkdirAll(dir, 0750)
		if err != nil {
			logger.Errorf("something went wrong while creating storage path: %s", err)
		}
		return err
	} else if err != nil {
		logger.Errorf("something went wrong while checking storage: %s", err)
		return err
	}

	return nil
}
