// Package service implements token loading and the in-memory token catalogue.
// Certificates are parsed natively with crypto/x509; the legacy text scraping
// of openssl output is gone.
package service

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"os"
	"strings"

	"github.com/mrscotty/keynanny/internal/config"
	apperrors "github.com/mrscotty/keynanny/internal/errors"
	"github.com/mrscotty/keynanny/internal/token/domain"
)

// timeLayout is the 14-digit validity bound format.
const timeLayout = "20060102150405"

// Extension OIDs surfaced in CertInfo.
var (
	oidIssuerAltName = asn1.ObjectIdentifier{2, 5, 29, 18}
)

// LoadToken reads and parses the certificate and private key named by one
// token config section.
func LoadToken(cfg config.TokenConfig) (*domain.Token, error) {
	certPEM, err := os.ReadFile(cfg.Certificate)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenLoad, "token %s: read certificate: %v", cfg.Name, err)
	}
	cert, info, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenLoad, "token %s: %v", cfg.Name, err)
	}

	keyPEM, err := os.ReadFile(cfg.Key)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenLoad, "token %s: read key: %v", cfg.Name, err)
	}
	key, err := parsePrivateKey(keyPEM, cfg.Passphrase)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrTokenLoad, "token %s: %v", cfg.Name, err)
	}

	return &domain.Token{
		Name:            cfg.Name,
		CertificatePath: cfg.Certificate,
		KeyPath:         cfg.Key,
		Passphrase:      cfg.Passphrase,
		Info:            info,
		Certificate:     cert,
		PrivateKey:      key,
	}, nil
}

// ParseCertificatePEM parses a PEM X.509 certificate and derives the
// normalized CertInfo fields. A certificate missing a mandatory field is a
// parse failure.
func ParseCertificatePEM(data []byte) (*x509.Certificate, domain.CertInfo, error) {
	var info domain.CertInfo

	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, info, fmt.Errorf("no CERTIFICATE block in PEM input")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, info, fmt.Errorf("parse certificate: %w", err)
	}

	if cert.SerialNumber == nil || cert.SerialNumber.Sign() < 0 {
		return nil, info, fmt.Errorf("certificate has no usable serial number")
	}
	if cert.NotAfter.Before(cert.NotBefore) {
		return nil, info, fmt.Errorf("certificate validity bounds are inverted")
	}

	info = domain.CertInfo{
		Version:      cert.Version,
		SubjectName:  domain.NormalizeDN(cert.Subject),
		IssuerName:   domain.NormalizeDN(cert.Issuer),
		SerialNumber: domain.FormatSerialHex(cert.SerialNumber),
		Serial:       cert.SerialNumber,
		NotBefore:    cert.NotBefore.UTC().Format(timeLayout),
		NotAfter:     cert.NotAfter.UTC().Format(timeLayout),
		PublicKey:    base64.StdEncoding.EncodeToString(cert.RawSubjectPublicKeyInfo),
		Certificate:  base64.StdEncoding.EncodeToString(cert.Raw),
		KeyUsage:     keyUsageSummary(cert),
	}

	digest := sha1.Sum(cert.Raw)
	info.Fingerprint = domain.FormatFingerprint(digest[:])

	if info.SubjectName == "" || info.IssuerName == "" {
		return nil, info, fmt.Errorf("certificate is missing subject or issuer")
	}

	fillExtensions(cert, &info)
	return cert, info, nil
}

// keyUsageSummary renders the key usage bits and extended usages as a
// comma-separated list.
func keyUsageSummary(cert *x509.Certificate) string {
	names := []string{}
	usageBits := []struct {
		bit  x509.KeyUsage
		name string
	}{
		{x509.KeyUsageDigitalSignature, "Digital Signature"},
		{x509.KeyUsageContentCommitment, "Content Commitment"},
		{x509.KeyUsageKeyEncipherment, "Key Encipherment"},
		{x509.KeyUsageDataEncipherment, "Data Encipherment"},
		{x509.KeyUsageKeyAgreement, "Key Agreement"},
		{x509.KeyUsageCertSign, "Certificate Sign"},
		{x509.KeyUsageCRLSign, "CRL Sign"},
		{x509.KeyUsageEncipherOnly, "Encipher Only"},
		{x509.KeyUsageDecipherOnly, "Decipher Only"},
	}
	for _, usage := range usageBits {
		if cert.KeyUsage&usage.bit != 0 {
			names = append(names, usage.name)
		}
	}
	return strings.Join(names, ", ")
}

// fillExtensions populates the optional extension fields present on the
// certificate.
func fillExtensions(cert *x509.Certificate, info *domain.CertInfo) {
	var san []string
	san = append(san, cert.DNSNames...)
	san = append(san, cert.EmailAddresses...)
	for _, ip := range cert.IPAddresses {
		san = append(san, ip.String())
	}
	for _, uri := range cert.URIs {
		san = append(san, uri.String())
	}
	info.SubjectAltName = strings.Join(san, ", ")

	if cert.BasicConstraintsValid {
		constraint := "CA:FALSE"
		if cert.IsCA {
			constraint = "CA:TRUE"
			if cert.MaxPathLen > 0 || cert.MaxPathLenZero {
				constraint = fmt.Sprintf("%s, pathlen:%d", constraint, cert.MaxPathLen)
			}
		}
		info.BasicConstraints = constraint
	}

	if len(cert.SubjectKeyId) > 0 {
		info.SubjectKeyIdentifier = domain.FormatFingerprint(cert.SubjectKeyId)
	}
	if len(cert.AuthorityKeyId) > 0 {
		info.AuthorityKeyIdentifier = domain.FormatFingerprint(cert.AuthorityKeyId)
	}
	info.CRLDistributionPoints = strings.Join(cert.CRLDistributionPoints, ", ")

	for _, ext := range cert.Extensions {
		if ext.Id.Equal(oidIssuerAltName) {
			info.IssuerAltName = base64.StdEncoding.EncodeToString(ext.Value)
		}
	}
}

// parsePrivateKey parses a PEM private key in PKCS#1, PKCS#8, or SEC1 form.
// Legacy encrypted PEM blocks are decrypted with the configured passphrase.
func parsePrivateKey(data []byte, passphrase string) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key input")
	}

	der := block.Bytes
	//nolint:staticcheck // legacy encrypted PEM keys are still in the field
	if x509.IsEncryptedPEMBlock(block) {
		if passphrase == "" {
			return nil, fmt.Errorf("key is encrypted and no passphrase is configured")
		}
		//nolint:staticcheck
		decrypted, err := x509.DecryptPEMBlock(block, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("decrypt key: %w", err)
		}
		der = decrypted
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(der)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(der)
	default:
		key, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse key: %w", err)
		}
		switch key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
	}
}
