package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
)

// DefaultMaxResponseBytes caps proxied response bodies.
const DefaultMaxResponseBytes = 10 << 20

// hopHeaders are not copied from upstream responses.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Set-Cookie",
	"Content-Length",
}

// Response is a buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Forwarder performs the outbound proxied call.
type Forwarder struct {
	Client           *http.Client
	MaxResponseBytes int64
}

// Do sends the call described by pc with the authorization material
// attached. A non-empty query replaces the target's query string. The
// request is bounded by ctx.
func (f *Forwarder) Do(ctx context.Context, pc *Context, header http.Header, query string) (*Response, error) {
	target, err := pc.Target()
	if err != nil {
		return nil, err
	}

	if query != "" {
		target.RawQuery = query
	}

	var body io.Reader
	if data := pc.Params.Get("postData"); data != "" {
		body = strings.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, pc.Method(), target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", pc.ContentType())
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	limit := f.MaxResponseBytes
	if limit <= 0 {
		limit = DefaultMaxResponseBytes
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("reading upstream response: %w", err)
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("upstream response exceeds %d bytes", limit)
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
	}
	for _, h := range hopHeaders {
		out.Header.Del(h)
	}

	return out, nil
}

// Send copies the response to w.
func (r *Response) Send(w http.ResponseWriter) {
	for k, vs := range r.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}

	w.WriteHeader(r.StatusCode)
	_, _ = w.Write(r.Body)
}

// BlockPrivateAddresses is a net.Dialer Control function that refuses
// loopback, private, link-local and unspecified destinations. It runs
// after name resolution, so hostnames pointing at internal addresses are
// refused too.
func BlockPrivateAddresses(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrBlockedTarget, err)
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("%w: %s", apperrors.ErrBlockedTarget, host)
	}

	return nil
}

// NewTargetClient returns the client for proxied calls. With blockPrivate
// set, connections to internal addresses fail with ErrBlockedTarget,
// including those reached through redirects.
func NewTargetClient(timeout time.Duration, blockPrivate bool) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	if blockPrivate {
		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Control:   BlockPrivateAddresses,
		}
		transport.DialContext = dialer.DialContext
		transport.Proxy = nil
	}

	return &http.Client{Timeout: timeout, Transport: transport}
}
