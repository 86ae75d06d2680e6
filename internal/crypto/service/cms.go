package service

import (
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/pem"
	"math/big"
	"sync"

	"github.com/smallstep/pkcs7"

	apperrors "github.com/mrscotty/keynanny/internal/errors"
	tokenDomain "github.com/mrscotty/keynanny/internal/token/domain"
)

// cmsPEMType is the PEM block type wrapping envelope blobs, matching what
// openssl smime/cms emits so either backend can read the other's output.
const cmsPEMType = "PKCS7"

// configureOnce sets the package-level content encryption algorithm exactly
// once; pkcs7 keeps it as a global.
var configureOnce sync.Once

// CMSBackend is the native envelope backend built on the pkcs7 library.
// It is the default; the openssl subprocess backend exists as a fallback for
// hosts that mandate an external crypto provider.
type CMSBackend struct{}

// NewCMSBackend creates the native CMS backend with AES-256-CBC content
// encryption.
func NewCMSBackend() *CMSBackend {
	configureOnce.Do(func() {
		pkcs7.ContentEncryptionAlgorithm = pkcs7.EncryptionAlgorithmAES256CBC
	})
	return &CMSBackend{}
}

// Encrypt envelope-encrypts plaintext to the recipient token's certificate
// and returns a PEM blob.
func (b *CMSBackend) Encrypt(plaintext []byte, recipient *tokenDomain.Token) ([]byte, error) {
	der, err := pkcs7.Encrypt(plaintext, []*x509.Certificate{recipient.Certificate})
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "cms encrypt: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: cmsPEMType, Bytes: der}), nil
}

// Decrypt opens a PEM envelope blob with the token's certificate and key.
func (b *CMSBackend) Decrypt(blob []byte, token *tokenDomain.Token) ([]byte, error) {
	der, err := decodeEnvelopePEM(blob)
	if err != nil {
		return nil, err
	}
	p7, err := pkcs7.Parse(der)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "cms parse: %v", err)
	}
	plaintext, err := p7.Decrypt(token.Certificate, token.PrivateKey)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "cms decrypt: %v", err)
	}
	return plaintext, nil
}

// RecipientInfos enumerates the issuerAndSerialNumber recipients of a PEM
// envelope blob in envelope order.
func (b *CMSBackend) RecipientInfos(blob []byte) ([]tokenDomain.Recipient, error) {
	der, err := decodeEnvelopePEM(blob)
	if err != nil {
		return nil, err
	}
	return parseRecipientInfos(der)
}

// decodeEnvelopePEM unwraps the PEM armor around an envelope blob.
func decodeEnvelopePEM(blob []byte) ([]byte, error) {
	block, _ := pem.Decode(blob)
	if block == nil {
		return nil, apperrors.Wrap(apperrors.ErrCrypto, "no PEM block in envelope")
	}
	return block.Bytes, nil
}

// Minimal ASN.1 view of CMS EnvelopedData, just deep enough to reach the
// recipient identifiers. The pkcs7 library keeps its envelope types
// unexported, so recipient routing parses the structure itself.
type cmsContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

type cmsEnvelopedData struct {
	Version              int
	RecipientInfos       []cmsRecipientInfo `asn1:"set"`
	EncryptedContentInfo asn1.RawValue
	UnprotectedAttrs     asn1.RawValue `asn1:"optional,tag:1"`
}

type cmsRecipientInfo struct {
	Version                int
	IssuerAndSerialNumber  cmsIssuerAndSerial
	KeyEncryptionAlgorithm pkix.AlgorithmIdentifier
	EncryptedKey           []byte
}

type cmsIssuerAndSerial struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// oidEnvelopedData is the CMS enveloped-data content type.
var oidEnvelopedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 3}

// parseRecipientInfos extracts the issuer+serial of every key-transport
// recipient from a DER envelope.
func parseRecipientInfos(der []byte) ([]tokenDomain.Recipient, error) {
	var content cmsContentInfo
	if _, err := asn1.Unmarshal(der, &content); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "parse content info: %v", err)
	}
	if !content.ContentType.Equal(oidEnvelopedData) {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto,
			"unexpected content type %s", content.ContentType.String())
	}

	var envelope cmsEnvelopedData
	if _, err := asn1.Unmarshal(content.Content.Bytes, &envelope); err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrCrypto, "parse enveloped data: %v", err)
	}

	recipients := make([]tokenDomain.Recipient, 0, len(envelope.RecipientInfos))
	for _, info := range envelope.RecipientInfos {
		var seq pkix.RDNSequence
		if _, err := asn1.Unmarshal(info.IssuerAndSerialNumber.Issuer.FullBytes, &seq); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrCrypto, "parse recipient issuer: %v", err)
		}
		recipients = append(recipients, tokenDomain.Recipient{
			Issuer: tokenDomain.NormalizeDNSequence(seq),
			Serial: info.IssuerAndSerialNumber.SerialNumber,
		})
	}
	return recipients, nil
}
