package domain

import (
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"strings"
)

// NormalizeDN renders a distinguished name with ", " separators so issuer
// strings compare equal regardless of which layer produced them.
func NormalizeDN(name pkix.Name) string {
	return strings.ReplaceAll(name.String(), ",", ", ")
}

// NormalizeDNSequence renders a raw RDN sequence the same way NormalizeDN
// renders a parsed name. Used when only the ASN.1 issuer bytes are available.
func NormalizeDNSequence(seq pkix.RDNSequence) string {
	var name pkix.Name
	name.FillFromRDNSequence(&seq)
	return NormalizeDN(name)
}

// FormatSerialHex renders a serial number as colon-separated upper-case hex
// with an even digit count.
func FormatSerialHex(serial *big.Int) string {
	hex := strings.ToUpper(serial.Text(16))
	if len(hex)%2 != 0 {
		hex = "0" + hex
	}
	return joinPairs(hex)
}

// FormatFingerprint renders a digest as colon-separated upper-case hex.
func FormatFingerprint(digest []byte) string {
	return joinPairs(strings.ToUpper(fmt.Sprintf("%x", digest)))
}

// joinPairs inserts a colon between every hex digit pair. The input length
// must be even.
func joinPairs(hex string) string {
	pairs := make([]string, 0, len(hex)/2)
	for i := 0; i < len(hex); i += 2 {
		pairs = append(pairs, hex[i:i+2])
	}
	return strings.Join(pairs, ":")
}
