// Package signature implements Celerity Signature v1 request signing and
// verification (spec.md §6): an HMAC-SHA256 signature over a
// caller-selected subset of request headers plus a timestamp header,
// carried in a single structured "Celerity-Signature-V1" header value.
//
// HMAC-SHA256 and base64url are standard-library primitives in every
// pack repo that touches them; this package is a deliberate stdlib-only
// exception (crypto/hmac, crypto/sha256, encoding/base64), grounded on
// original_source/libs/runtime/signature/src/sigv1.rs.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// SignatureHeaderName is the header carrying the structured signature.
const SignatureHeaderName = "Celerity-Signature-V1"

// DateHeaderName is the header carrying the signing timestamp, UNIX
// seconds.
const DateHeaderName = "Celerity-Date"

// DefaultClockSkew is the tolerance applied when no explicit skew is
// passed to VerifySignature.
const DefaultClockSkew = 300 * time.Second

// KeyPair is one signing identity: a public key ID and the shared
// secret used to compute and verify HMACs.
type KeyPair struct {
	KeyID     string
	SecretKey string
}

// Clock abstracts the current time so verification and signing can be
// tested deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock, backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

var (
	ErrSignatureHeaderMissing = errors.New("signature: " + SignatureHeaderName + " header missing")
	ErrDateHeaderMissing      = errors.New("signature: " + DateHeaderName + " header missing")
)

// InvalidSignatureError reports a structurally valid signature header
// that failed verification (unknown key ID, HMAC mismatch, malformed
// encoding, or expired timestamp).
type InvalidSignatureError struct {
	Reason string
}

func (e *InvalidSignatureError) Error() string { return "signature: invalid signature: " + e.Reason }

// MissingHeadersError reports that one or more headers named in a
// signature's header list were absent when building the signed message.
type MissingHeadersError struct {
	Headers []string
}

func (e *MissingHeadersError) Error() string {
	return fmt.Sprintf("signature: missing headers required for signing: %v", e.Headers)
}

type signatureParts struct {
	keyID     string
	headers   []string
	signature string
}

// VerifySignature checks headers[SignatureHeaderName] against keyPairs
// and the headers it names, then checks headers[DateHeaderName] against
// clock within clockSkew (DefaultClockSkew if clockSkew is nil).
func VerifySignature(keyPairs map[string]KeyPair, headers http.Header, clock Clock, clockSkew *time.Duration) error {
	raw := headers.Get(SignatureHeaderName)
	if raw == "" {
		return ErrSignatureHeaderMissing
	}

	parts, err := unpackSignature(raw)
	if err != nil {
		return err
	}

	keyPair, ok := keyPairs[parts.keyID]
	if !ok {
		return &InvalidSignatureError{Reason: "invalid key ID"}
	}

	message, err := createMessage(keyPair, headers, parts.headers)
	if err != nil {
		return err
	}

	if err := verifyMessage(keyPair, message, parts.signature); err != nil {
		return err
	}

	skew := DefaultClockSkew
	if clockSkew != nil {
		skew = *clockSkew
	}
	provided, err := extractDateHeader(headers)
	if err != nil {
		return err
	}
	now := clock.Now().Unix()
	if now > provided+int64(skew.Seconds()) || now < provided-int64(skew.Seconds()) {
		return &InvalidSignatureError{Reason: "signature has expired"}
	}
	return nil
}

// CreateSignatureHeader signs headers (named by customHeaderNames, plus
// the implicit date header) with keyPair and returns the value to set
// on headers[SignatureHeaderName]. It sets headers[DateHeaderName] from
// clock if not already present.
func CreateSignatureHeader(keyPair KeyPair, headers http.Header, customHeaderNames []string, clock Clock) (string, error) {
	if headers.Get(DateHeaderName) == "" {
		headers.Set(DateHeaderName, strconv.FormatInt(clock.Now().Unix(), 10))
	}

	message, err := createMessage(keyPair, headers, customHeaderNames)
	if err != nil {
		return "", err
	}
	sig := signMessage(keyPair, message)

	names := make([]string, 0, len(customHeaderNames)+1)
	names = append(names, strings.ToLower(DateHeaderName))
	for _, h := range customHeaderNames {
		names = append(names, strings.ToLower(h))
	}

	return fmt.Sprintf(`keyId="%s", headers="%s", signature="%s"`, keyPair.KeyID, strings.Join(names, " "), sig), nil
}

func unpackSignature(header string) (signatureParts, error) {
	parts := strings.Split(header, ",")
	if len(parts) != 3 {
		return signatureParts{}, &InvalidSignatureError{Reason: "malformed signature header"}
	}

	keyID, err := unpackQuotedField(parts[0], "keyId")
	if err != nil {
		return signatureParts{}, err
	}
	headerList, err := unpackQuotedField(parts[1], "headers")
	if err != nil {
		return signatureParts{}, err
	}
	sig, err := unpackQuotedField(parts[2], "signature")
	if err != nil {
		return signatureParts{}, err
	}

	return signatureParts{keyID: keyID, headers: strings.Fields(headerList), signature: sig}, nil
}

func unpackQuotedField(field, name string) (string, error) {
	kv := strings.SplitN(field, "=", 2)
	if len(kv) != 2 || strings.TrimSpace(kv[0]) != name {
		return "", &InvalidSignatureError{Reason: fmt.Sprintf("malformed %q field in signature header", name)}
	}
	val := strings.Trim(kv[1], `" `)
	return val, nil
}

// createMessage builds the signed message: "<keyId>,celerity-date=<ts><,name=value>*",
// in the order headerNames is given, skipping the date header itself
// (it's always injected right after the key ID).
func createMessage(keyPair KeyPair, headers http.Header, headerNames []string) ([]byte, error) {
	date, err := extractDateHeader(headers)
	if err != nil {
		return nil, err
	}

	var missing []string
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s,celerity-date=%d", keyPair.KeyID, date)
	for _, name := range headerNames {
		if strings.EqualFold(name, DateHeaderName) {
			continue
		}
		val := headers.Get(name)
		if val == "" {
			missing = append(missing, name)
			continue
		}
		fmt.Fprintf(&sb, ",%s=%s", strings.ToLower(name), val)
	}
	if len(missing) > 0 {
		return nil, &MissingHeadersError{Headers: missing}
	}
	return []byte(sb.String()), nil
}

func signMessage(keyPair KeyPair, message []byte) string {
	mac := hmac.New(sha256.New, []byte(keyPair.SecretKey))
	mac.Write(message)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func verifyMessage(keyPair KeyPair, message []byte, signature string) error {
	sigBytes, err := base64.RawURLEncoding.DecodeString(signature)
	if err != nil {
		return &InvalidSignatureError{Reason: "invalid signature"}
	}
	mac := hmac.New(sha256.New, []byte(keyPair.SecretKey))
	mac.Write(message)
	if !hmac.Equal(mac.Sum(nil), sigBytes) {
		return &InvalidSignatureError{Reason: "invalid signature"}
	}
	return nil
}

func extractDateHeader(headers http.Header) (int64, error) {
	raw := headers.Get(DateHeaderName)
	if raw == "" {
		return 0, ErrDateHeaderMissing
	}
	ts, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, &InvalidSignatureError{Reason: "invalid date header"}
	}
	return ts, nil
}
