package oauthtest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// VerifyHMACSHA1 recomputes the HMAC-SHA1 signature of r as RFC 5849
// section 3.4 defines it and compares it with the oauth_signature r
// carries in its Authorization header or query. body holds the
// url-encoded body parameters of r, if any.
func VerifyHMACSHA1(r *http.Request, body url.Values, consumerSecret, tokenSecret string) bool {
	var (
		pairs     [][2]string
		signature string
	)

	add := func(k, v string) {
		if k == "oauth_signature" {
			signature = v
			return
		}

		pairs = append(pairs, [2]string{percentEncode(k), percentEncode(v)})
	}

	for k, vs := range r.URL.Query() {
		for _, v := range vs {
			add(k, v)
		}
	}

	for k, vs := range body {
		for _, v := range vs {
			add(k, v)
		}
	}

	if h, ok := strings.CutPrefix(r.Header.Get("Authorization"), "OAuth "); ok {
		for _, part := range strings.Split(h, ",") {
			k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok || k == "realm" {
				continue
			}

			unq, err := url.PathUnescape(strings.Trim(v, `"`))
			if err != nil {
				return false
			}

			add(k, unq)
		}
	}

	if signature == "" {
		return false
	}

	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}

		return pairs[i][1] < pairs[j][1]
	})

	normalized := make([]string, len(pairs))
	for i, p := range pairs {
		normalized[i] = p[0] + "=" + p[1]
	}

	base := strings.ToUpper(r.Method) + "&" +
		percentEncode(baseURI(r)) + "&" +
		percentEncode(strings.Join(normalized, "&"))

	mac := hmac.New(sha1.New, []byte(percentEncode(consumerSecret)+"&"+percentEncode(tokenSecret)))
	mac.Write([]byte(base))

	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(want), []byte(signature))
}

func baseURI(r *http.Request) string {
	scheme := r.URL.Scheme
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}

	host := r.URL.Host
	if host == "" {
		host = r.Host
	}

	return strings.ToLower(scheme) + "://" + strings.ToLower(host) + r.URL.EscapedPath()
}

// percentEncode applies the RFC 3986 unreserved-set encoding of RFC 5849
// section 3.6.
func percentEncode(s string) string {
	var b strings.Builder

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}

	return b.String()
}
