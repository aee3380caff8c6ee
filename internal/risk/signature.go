package risk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Signature is a short-lived binding proving a specific order instance
// passed risk validation. It hashes the economically relevant fields and
// carries its issuance timestamp; the gateway can refuse stale signatures.
type Signature struct {
	Hash     string
	IssuedAt time.Time
}

// Sign derives the signature for one order instance.
func Sign(orderID, symbol, side string, volume, price float64) Signature {
	issued := time.Now()
	payload := fmt.Sprintf("%s|%s|%s|%.8f|%.8f|%d",
		orderID, symbol, side, volume, price, issued.UnixMilli())
	sum := sha256.Sum256([]byte(payload))
	return Signature{Hash: hex.EncodeToString(sum[:]), IssuedAt: issued}
}

// Encode renders the wire form: "<hex>.<unix-millis>".
func (s Signature) Encode() string {
	return s.Hash + "." + strconv.FormatInt(s.IssuedAt.UnixMilli(), 10)
}

// DecodeSignature parses the wire form back into a Signature.
func DecodeSignature(encoded string) (Signature, error) {
	i := strings.LastIndexByte(encoded, '.')
	if i <= 0 || i == len(encoded)-1 {
		return Signature{}, fmt.Errorf("malformed risk signature %q", encoded)
	}
	ms, err := strconv.ParseInt(encoded[i+1:], 10, 64)
	if err != nil {
		return Signature{}, fmt.Errorf("malformed risk signature timestamp: %w", err)
	}
	return Signature{Hash: encoded[:i], IssuedAt: time.UnixMilli(ms)}, nil
}
