package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/ocelotpki/ocelot/pkg/errs"
	"github.com/ocelotpki/ocelot/pkg/models"
	"github.com/sirupsen/logrus"
)

// RFC 8737, section 6.1. id-pe-acmeIdentifier.
var oidACMEIdentifier = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

const acmeTLSALPNProtocol = "acme-tls/1"

// challengeValidator performs the outbound side of ACME challenge
// validation: HTTP fetches, DNS TXT lookups and TLS-ALPN probes against the
// host that claims an identifier.
type challengeValidator struct {
	logger      *logrus.Entry
	httpPort    int
	dnsResolver string
	timeout     time.Duration
}

func newChallengeValidator(logger *logrus.Entry, httpPort int, dnsResolver string, timeout time.Duration) *challengeValidator {
	if httpPort <= 0 {
		httpPort = 80
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &challengeValidator{
		logger:      logger,
		httpPort:    httpPort,
		dnsResolver: dnsResolver,
		timeout:     timeout,
	}
}

func (v *challengeValidator) Validate(ctx context.Context, challenge *models.ACMEChallenge, identifier models.ACMEIdentifier, keyAuthorization string) error {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	switch challenge.Type {
	case models.ChallengeTypeHTTP01:
		return v.validateHTTP01(ctx, identifier.Value, challenge.Token, keyAuthorization)
	case models.ChallengeTypeDNS01:
		return v.validateDNS01(ctx, identifier.Value, keyAuthorization)
	case models.ChallengeTypeTLSALPN01:
		return v.validateTLSALPN01(ctx, identifier.Value, keyAuthorization)
	default:
		return errs.ACMEMalformedProblem("unknown challenge type %q", challenge.Type)
	}
}

func (v *challengeValidator) validateHTTP01(ctx context.Context, host, token, keyAuthorization string) error {
	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", net.JoinHostPort(host, fmt.Sprintf("%d", v.httpPort)), token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errs.ACMEConnectionProblem("could not build validation request")
	}

	client := http.Client{Timeout: v.timeout}
	resp, err := client.Do(req)
	if err != nil {
		return errs.ACMEConnectionProblem("could not fetch %s: %s", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errs.ACMEIncorrectResponseProblem("%s answered with status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return errs.ACMEConnectionProblem("could not read response of %s: %s", url, err)
	}

	got := strings.TrimSpace(string(body))
	if got != keyAuthorization {
		return errs.ACMEIncorrectResponseProblem("key authorization mismatch at %s", url)
	}

	return nil
}

func (v *challengeValidator) validateDNS01(ctx context.Context, domain, keyAuthorization string) error {
	digest := sha256.Sum256([]byte(keyAuthorization))
	expected := base64.RawURLEncoding.EncodeToString(digest[:])

	fqdn := dns.Fqdn("_acme-challenge." + domain)

	resolver := v.dnsResolver
	if resolver == "" {
		conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
		if err != nil || len(conf.Servers) == 0 {
			return errs.ACMEDNSProblem("no DNS resolver available")
		}

		resolver = net.JoinHostPort(conf.Servers[0], conf.Port)
	} else if !strings.Contains(resolver, ":") {
		resolver = net.JoinHostPort(resolver, "53")
	}

	msg := new(dns.Msg)
	msg.SetQuestion(fqdn, dns.TypeTXT)
	msg.RecursionDesired = true

	client := dns.Client{Timeout: v.timeout}
	resp, _, err := client.ExchangeContext(ctx, msg, resolver)
	if err != nil {
		return errs.ACMEDNSProblem("could not resolve %s: %s", fqdn, err)
	}

	if resp.Rcode != dns.RcodeSuccess {
		return errs.ACMEDNSProblem("lookup of %s failed with rcode %s", fqdn, dns.RcodeToString[resp.Rcode])
	}

	for _, answer := range resp.Answer {
		txt, ok := answer.(*dns.TXT)
		if !ok {
			continue
		}

		if strings.Join(txt.Txt, "") == expected {
			return nil
		}
	}

	return errs.ACMEIncorrectResponseProblem("no TXT record of %s matches the key authorization", fqdn)
}

func (v *challengeValidator) validateTLSALPN01(ctx context.Context, host, keyAuthorization string) error {
	digest := sha256.Sum256([]byte(keyAuthorization))

	dialer := tls.Dialer{
		Config: &tls.Config{
			// The presented certificate is self signed per RFC 8737. Its
			// contents are what get verified, not its chain.
			InsecureSkipVerify: true,
			NextProtos:         []string{acmeTLSALPNProtocol},
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
		},
	}

	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, "443"))
	if err != nil {
		return errs.ACMEConnectionProblem("could not open TLS connection to %s: %s", host, err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return errs.ACMEConnectionProblem("unexpected connection type")
	}

	state := tlsConn.ConnectionState()
	if state.NegotiatedProtocol != acmeTLSALPNProtocol {
		return errs.ACMEIncorrectResponseProblem("%s did not negotiate %s", host, acmeTLSALPNProtocol)
	}

	if len(state.PeerCertificates) == 0 {
		return errs.ACMEIncorrectResponseProblem("%s presented no certificate", host)
	}

	cert := state.PeerCertificates[0]
	if len(cert.DNSNames) != 1 || !strings.EqualFold(cert.DNSNames[0], host) {
		return errs.ACMEIncorrectResponseProblem("validation certificate of %s carries the wrong subject alternative name", host)
	}

	return checkACMEIdentifierExtension(cert, digest[:], host)
}

func checkACMEIdentifierExtension(cert *x509.Certificate, digest []byte, host string) error {
	for _, ext := range cert.Extensions {
		if !ext.Id.Equal(oidACMEIdentifier) {
			continue
		}

		if !ext.Critical {
			return errs.ACMEIncorrectResponseProblem("acmeIdentifier extension of %s is not critical", host)
		}

		var value []byte
		if _, err := asn1.Unmarshal(ext.Value, &value); err != nil {
			return errs.ACMEIncorrectResponseProblem("acmeIdentifier extension of %s is malformed", host)
		}

		if !bytes.Equal(value, digest) {
			return errs.ACMEIncorrectResponseProblem("acmeIdentifier digest of %s does not match the key authorization", host)
		}

		return nil
	}

	return errs.ACMEIncorrectResponseProblem("validation certificate of %s is missing the acmeIdentifier extension", host)
}
