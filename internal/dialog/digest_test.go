package dialog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseChallengeExtractsFields(t *testing.T) {
	header := `Digest realm="3402000000", nonce="abc123", qop="auth", opaque="xyz"`
	c, err := ParseChallenge(header)
	require.NoError(t, err)
	require.Equal(t, "3402000000", c.Realm)
	require.Equal(t, "abc123", c.Nonce)
	require.Equal(t, "auth", c.Qop)
	require.Equal(t, "xyz", c.Opaque)
}

func TestParseChallengeRejectsUnsupportedScheme(t *testing.T) {
	_, err := ParseChallenge(`Basic realm="x"`)
	require.Error(t, err)
}

func TestParseChallengeRejectsMissingNonce(t *testing.T) {
	_, err := ParseChallenge(`Digest realm="3402000000"`)
	require.Error(t, err)
}

func TestComputeResponseMatchesRFC2617Chain(t *testing.T) {
	creds := Credentials{Username: "81000000465001000001", Password: "admin123"}
	challenge := Challenge{Realm: "3402000000", Nonce: "abc123", Scheme: "Digest"}

	got := ComputeResponse(creds, challenge, "REGISTER", "sip:3402000000")

	ha1 := md5HexForTest(fmt.Sprintf("%s:%s:%s", creds.Username, challenge.Realm, creds.Password))
	ha2 := md5HexForTest(fmt.Sprintf("%s:%s", "REGISTER", "sip:3402000000"))
	want := md5HexForTest(fmt.Sprintf("%s:%s:%s", ha1, challenge.Nonce, ha2))

	require.Equal(t, want, got)
}

func TestBuildAuthorizationHeaderIncludesOpaqueWhenPresent(t *testing.T) {
	creds := Credentials{Username: "u", Password: "p"}
	challenge := Challenge{Realm: "r", Nonce: "n", Opaque: "o"}

	header := BuildAuthorizationHeader(creds, challenge, "REGISTER", "sip:r")
	require.Contains(t, header, `opaque="o"`)
	require.Contains(t, header, `username="u"`)
}

func md5HexForTest(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
