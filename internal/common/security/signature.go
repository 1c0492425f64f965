package security

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"contest_judge/internal/common"
)

const (
	HeaderTimestamp   = "X-Timestamp"
	HeaderSignature   = "X-Sign"
	HeaderContentHash = "X-Content-Hash"
)

// SignedHeaders are the authentication headers of a judge request.
type SignedHeaders struct {
	Timestamp   string
	Signature   string
	ContentHash string
}

// Verifier checks HMAC-SHA256 signatures over "{timestamp}\n{contentHash}".
type Verifier struct {
	tolerance time.Duration
	now       func() time.Time
}

func NewVerifier(tolerance time.Duration) *Verifier {
	return &Verifier{tolerance: tolerance, now: time.Now}
}

// Verify accepts when any candidate secret produces the signature. fields is
// the validated payload used to derive the content hash when the sender did
// not supply one.
func (v *Verifier) Verify(h SignedHeaders, fields map[string]any, secrets []string) error {
	if h.Timestamp == "" || h.Signature == "" {
		return common.ErrSignatureMissing
	}
	ts, err := strconv.ParseInt(h.Timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed timestamp: %w", common.ErrSignatureInvalid)
	}
	skew := v.now().Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > v.tolerance {
		return common.ErrSignatureExpired
	}

	contentHash := h.ContentHash
	if contentHash == "" {
		contentHash, err = CanonicalHash(fields)
		if err != nil {
			return err
		}
	}

	provided, err := hex.DecodeString(h.Signature)
	if err != nil {
		return common.ErrSignatureInvalid
	}
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		if hmac.Equal(provided, mac(secret, h.Timestamp, contentHash)) {
			return nil
		}
	}
	return common.ErrSignatureInvalid
}

// Sign returns the hex signature a judge or the dispatcher attaches to a request.
func Sign(secret string, timestamp int64, contentHash string) string {
	return hex.EncodeToString(mac(secret, strconv.FormatInt(timestamp, 10), contentHash))
}

func mac(secret, timestamp, contentHash string) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(timestamp))
	m.Write([]byte{'\n'})
	m.Write([]byte(contentHash))
	return m.Sum(nil)
}

// CanonicalHash is the hex SHA-256 of fields serialised as compact JSON with
// sorted keys. Numbers should be passed as json.Number to keep their exact text.
func CanonicalHash(fields map[string]any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return "", fmt.Errorf("failed to canonicalise payload: %w", err)
	}
	return HashBytes(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
