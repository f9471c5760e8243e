package signature

import (
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2nd October 2024 19:00:52 UTC
const testTimestamp int64 = 1727895652

type testClock struct{ now int64 }

func (c testClock) Now() time.Time { return time.Unix(c.now, 0) }

func TestCreateSignatureHeader(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyPair := KeyPair{KeyID: "test-key-id", SecretKey: "test-secret_key"}
	headers := http.Header{}
	headers.Set("X-Custom-Header", "custom-value")

	header, err := CreateSignatureHeader(keyPair, headers, []string{"X-Custom-Header"}, clock)
	require.NoError(t, err)

	assert.Equal(t,
		`keyId="test-key-id", headers="celerity-date x-custom-header", signature="ppBsB6jEDm48SoYcXmfpu-IWshzWI5S8b_MmLDXFy_4"`,
		header)
	assert.Equal(t, strconv.FormatInt(testTimestamp, 10), headers.Get(DateHeaderName))
}

func TestCreateSignatureHeaderMissingCustomHeader(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyPair := KeyPair{KeyID: "test-key-id", SecretKey: "test-secret_key"}
	headers := http.Header{}

	_, err := CreateSignatureHeader(keyPair, headers, []string{"X-Custom-Header"}, clock)
	require.Error(t, err)

	var missing *MissingHeadersError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"X-Custom-Header"}, missing.Headers)
}

func signedHeaders(t *testing.T, keyPair KeyPair, clock Clock) http.Header {
	t.Helper()
	headers := http.Header{}
	headers.Set("X-Custom-Header", "custom-value")
	header, err := CreateSignatureHeader(keyPair, headers, []string{"X-Custom-Header"}, clock)
	require.NoError(t, err)
	headers.Set(SignatureHeaderName, header)
	return headers
}

func TestVerifyValidSignatureHeader(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)

	err := VerifySignature(keyPairs, headers, clock, nil)
	assert.NoError(t, err)
}

func TestVerifyValidSignatureWithinClockSkew(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)

	// 3 minutes earlier, within the default 5-minute skew.
	verifyClock := testClock{now: testTimestamp - 180}
	assert.NoError(t, VerifySignature(keyPairs, headers, verifyClock, nil))

	// 4 minutes later, still within the default 5-minute skew.
	verifyClock2 := testClock{now: testTimestamp + 240}
	assert.NoError(t, VerifySignature(keyPairs, headers, verifyClock2, nil))
}

func TestVerifyExpiredSignature(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-3"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-3"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)

	// 6 minutes later, beyond the default 5-minute skew.
	verifyClock := testClock{now: testTimestamp + 360}
	err := VerifySignature(keyPairs, headers, verifyClock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "signature has expired", invalid.Reason)
}

func TestVerifyInvalidKeyID(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-4"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-4"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)
	headers.Set(SignatureHeaderName, strings.Replace(headers.Get(SignatureHeaderName), keyID, "invalid-key-id", 1))

	err := VerifySignature(keyPairs, headers, clock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "invalid key ID", invalid.Reason)
}

func TestVerifySignedWithDifferentSecretKey(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-4"
	signKeyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-other_secret_key"}}
	verifyKeyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-4"}}
	headers := signedHeaders(t, signKeyPairs[keyID], clock)

	err := VerifySignature(verifyKeyPairs, headers, clock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "invalid signature", invalid.Reason)
}

func TestVerifyDateHeaderTamperedAfterSigning(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-4"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-4"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)
	headers.Set(DateHeaderName, strconv.FormatInt(testTimestamp+60, 10))

	err := VerifySignature(keyPairs, headers, clock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "invalid signature", invalid.Reason)
}

func TestVerifyCustomHeaderTamperedAfterSigning(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-4"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-4"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)
	headers.Set("X-Custom-Header", "custom-value-5")

	err := VerifySignature(keyPairs, headers, clock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "invalid signature", invalid.Reason)
}

func TestVerifyNonBase64Signature(t *testing.T) {
	clock := testClock{now: testTimestamp}
	keyID := "test-key-id-4"
	keyPairs := map[string]KeyPair{keyID: {KeyID: keyID, SecretKey: "test-secret_key-4"}}
	headers := signedHeaders(t, keyPairs[keyID], clock)
	headers.Set(SignatureHeaderName, strings.Replace(headers.Get(SignatureHeaderName), `signature="`, `signature="invalid!!!`, 1))

	err := VerifySignature(keyPairs, headers, clock, nil)
	require.Error(t, err)
	var invalid *InvalidSignatureError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "invalid signature", invalid.Reason)
}

func TestVerifyMissingSignatureHeader(t *testing.T) {
	headers := http.Header{}
	err := VerifySignature(map[string]KeyPair{}, headers, testClock{now: testTimestamp}, nil)
	assert.ErrorIs(t, err, ErrSignatureHeaderMissing)
}
