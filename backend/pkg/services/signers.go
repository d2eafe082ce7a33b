package services

import (
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"time"

	"github.com/ocelotpki/ocelot/pkg/cryptoengines"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/models"
)

// resolveSigner returns the private key a CA signs with. When keyID is empty
// the CA's own key is used, otherwise keyID selects a delegated key held by
// the same crypto engine.
func resolveSigner(engines map[string]*cryptoengines.CryptoEngine, ca *models.CACertificate, keyID string) (crypto.Signer, error) {
	enginePtr, ok := engines[ca.Certificate.EngineID]
	if !ok {
		return nil, errs.ErrCryptoEngineNotFound
	}

	if keyID == "" {
		keyID = ca.Certificate.KeyID
	}

	engine := *enginePtr
	signer, err := engine.GetPrivateKeyByID(keyID)
	if err != nil {
		return nil, errs.ErrKeyNotFound
	}

	return signer, nil
}

// delegatedSignerCertificate issues a certificate binding a delegated
// signing key to its CA. The CA signs it with its own key, so relying
// parties can chain responses produced by the delegate back to the CA they
// already trust. The certificate names the delegated key in its subject
// key identifier, matching the convention used for CA certificates.
func delegatedSignerCertificate(engines map[string]*cryptoengines.CryptoEngine, ca *models.CACertificate, keyID string, commonName string, keyUsage x509.KeyUsage, extKeyUsage []x509.ExtKeyUsage) (*x509.Certificate, error) {
	delegated, err := resolveSigner(engines, ca, keyID)
	if err != nil {
		return nil, err
	}

	caSigner, err := resolveSigner(engines, ca, "")
	if err != nil {
		return nil, err
	}

	caCert := (*x509.Certificate)(ca.Certificate.Certificate)

	sn, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	rawHex, _ := hex.DecodeString(keyID)

	template := x509.Certificate{
		SerialNumber:          sn,
		Subject:               pkix.Name{CommonName: commonName},
		SubjectKeyId:          rawHex,
		AuthorityKeyId:        caCert.SubjectKeyId,
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              caCert.NotAfter,
		KeyUsage:              keyUsage,
		ExtKeyUsage:           extKeyUsage,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, caCert, delegated.Public(), caSigner)
	if err != nil {
		return nil, err
	}

	return x509.ParseCertificate(der)
}
