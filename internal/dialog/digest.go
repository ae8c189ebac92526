// Package dialog implements the GB28181 SIP dialog engine: the
// registration state machine, keepalive timer, and inbound request
// dispatcher, all sitting on top of internal/siptransport.
package dialog

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// Challenge is a parsed WWW-Authenticate/Proxy-Authenticate header.
type Challenge struct {
	Realm  string
	Nonce  string
	Scheme string // always "Digest" for GB28181
	Qop    string
	Opaque string
}

// ParseChallenge extracts realm/nonce/qop/opaque from a
// WWW-Authenticate or Proxy-Authenticate header value of the form
// `Digest realm="...", nonce="...", qop="auth", opaque="..."`.
func ParseChallenge(header string) (Challenge, error) {
	fields := strings.SplitN(header, " ", 2)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "Digest") {
		return Challenge{}, fmt.Errorf("dialog: unsupported auth scheme in %q", header)
	}
	c := Challenge{Scheme: "Digest"}
	for _, part := range splitAuthParams(fields[1]) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch strings.ToLower(key) {
		case "realm":
			c.Realm = val
		case "nonce":
			c.Nonce = val
		case "qop":
			c.Qop = val
		case "opaque":
			c.Opaque = val
		}
	}
	if c.Realm == "" || c.Nonce == "" {
		return Challenge{}, fmt.Errorf("dialog: challenge missing realm/nonce: %q", header)
	}
	return c, nil
}

// splitAuthParams splits a comma-separated auth-param list, tolerating
// commas embedded inside quoted values (none of GB28181's fields carry
// commas in practice, but this is cheap to get right).
func splitAuthParams(s string) []string {
	var out []string
	var cur strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			cur.WriteRune(r)
		case r == ',' && !inQuotes:
			out = append(out, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		out = append(out, strings.TrimSpace(cur.String()))
	}
	return out
}

// Credentials holds the digest inputs needed to answer a challenge.
type Credentials struct {
	Username string
	Password string
}

// ComputeResponse implements the qop-less RFC 2617 digest form:
// HA1 = MD5(username:realm:password), HA2 = MD5(method:digest-uri),
// response = MD5(HA1:nonce:HA2). The challenge's qop is not used, so
// the qop="auth" form (with nc and cnonce) is never computed.
func ComputeResponse(creds Credentials, challenge Challenge, method, digestURI string) string {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", creds.Username, challenge.Realm, creds.Password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, digestURI))
	return md5Hex(fmt.Sprintf("%s:%s:%s", ha1, challenge.Nonce, ha2))
}

// BuildAuthorizationHeader renders the Authorization header value sent
// back on the credentialed REGISTER retry. Spec §8 Scenario A lists
// `algorithm=MD5` as a MUST element of the re-sent REGISTER, so it is
// always appended even though this device only ever computes MD5.
func BuildAuthorizationHeader(creds Credentials, challenge Challenge, method, digestURI string) string {
	response := ComputeResponse(creds, challenge, method, digestURI)
	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		creds.Username, challenge.Realm, challenge.Nonce, digestURI, response)
	if challenge.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque="%s"`, challenge.Opaque)
	}
	sb.WriteString(`, algorithm=MD5`)
	return sb.String()
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
