// Package consumer holds the per-application, per-service OAuth consumer
// configuration. A Registry is validated when it is built and is
// read-only afterwards.
package consumer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/alexjbarnes/gadget-auth/internal/errors"
	"github.com/alexjbarnes/gadget-auth/internal/token"
	"gopkg.in/yaml.v3"
)

// Signature methods supported for OAuth 1.0a consumers.
const (
	SignatureHMACSHA1  = "HMAC-SHA1"
	SignatureRSASHA1   = "RSA-SHA1"
	SignaturePlaintext = "PLAINTEXT"
)

// ParamLocation selects where signing material is attached.
type ParamLocation string

const (
	LocationHeader ParamLocation = "header"
	LocationQuery  ParamLocation = "query"
)

// OAuth1Consumer configures an OAuth 1.0a service for one application.
type OAuth1Consumer struct {
	App             string        `yaml:"app"`
	Service         string        `yaml:"service"`
	ConsumerKey     string        `yaml:"consumer_key"`
	ConsumerSecret  string        `yaml:"consumer_secret"`
	PrivateKeyFile  string        `yaml:"private_key_file"`
	SignatureMethod string        `yaml:"signature_method"`
	RequestTokenURL string        `yaml:"request_token_url"`
	AuthorizeURL    string        `yaml:"authorization_url"`
	AccessTokenURL  string        `yaml:"access_token_url"`
	ParamLocation   ParamLocation `yaml:"param_location"`

	// PrivateKey is loaded from PrivateKeyFile for RSA-SHA1 consumers.
	PrivateKey *rsa.PrivateKey `yaml:"-"`
}

// OAuth2Consumer configures an OAuth2 service for one application.
type OAuth2Consumer struct {
	App           string        `yaml:"app"`
	Service       string        `yaml:"service"`
	ClientID      string        `yaml:"client_id"`
	ClientSecret  string        `yaml:"client_secret"`
	AuthURL       string        `yaml:"auth_url"`
	TokenURL      string        `yaml:"token_url"`
	Scopes        []string      `yaml:"scopes"`
	AuthStyle     string        `yaml:"auth_style"`
	ParamLocation ParamLocation `yaml:"param_location"`
}

type key struct {
	app     string
	service string
}

// Registry maps (app, service) to at most one consumer per scheme.
type Registry struct {
	oauth1 map[key]*OAuth1Consumer
	oauth2 map[key]*OAuth2Consumer
}

// file is the on-disk YAML layout.
type file struct {
	OAuth1 []OAuth1Consumer `yaml:"oauth1"`
	OAuth2 []OAuth2Consumer `yaml:"oauth2"`
}

// New validates the consumers and builds a registry. Two consumers with the
// same (app, service) under one scheme are rejected.
func New(oauth1 []OAuth1Consumer, oauth2 []OAuth2Consumer) (*Registry, error) {
	r := &Registry{
		oauth1: make(map[key]*OAuth1Consumer, len(oauth1)),
		oauth2: make(map[key]*OAuth2Consumer, len(oauth2)),
	}

	for i := range oauth1 {
		c := oauth1[i]
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("oauth1 consumer %d: %w", i+1, err)
		}

		k := key{c.App, c.Service}
		if _, dup := r.oauth1[k]; dup {
			return nil, fmt.Errorf("%w: oauth1 app %q service %q", apperrors.ErrDuplicateConsumer, c.App, c.Service)
		}

		r.oauth1[k] = &c
	}

	for i := range oauth2 {
		c := oauth2[i]
		if err := c.validate(); err != nil {
			return nil, fmt.Errorf("oauth2 consumer %d: %w", i+1, err)
		}

		k := key{c.App, c.Service}
		if _, dup := r.oauth2[k]; dup {
			return nil, fmt.Errorf("%w: oauth2 app %q service %q", apperrors.ErrDuplicateConsumer, c.App, c.Service)
		}

		r.oauth2[k] = &c
	}

	return r, nil
}

// Parse builds a registry from YAML. Relative private_key_file paths are
// resolved against baseDir.
func Parse(data []byte, baseDir string) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing consumers: %w", err)
	}

	for i := range f.OAuth1 {
		c := &f.OAuth1[i]
		if c.PrivateKeyFile == "" {
			continue
		}

		path := c.PrivateKeyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}

		pk, err := loadPrivateKey(path)
		if err != nil {
			return nil, fmt.Errorf("oauth1 consumer %d: %w", i+1, err)
		}

		c.PrivateKey = pk
	}

	return New(f.OAuth1, f.OAuth2)
}

// Load reads and parses a consumer file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading consumers: %w", err)
	}

	return Parse(data, filepath.Dir(path))
}

// Empty returns a registry with no consumers.
func Empty() *Registry {
	r, _ := New(nil, nil)
	return r
}

// OAuth1 returns the OAuth 1.0a consumer for (app, service).
func (r *Registry) OAuth1(app, service string) (*OAuth1Consumer, error) {
	c, ok := r.oauth1[key{app, service}]
	if !ok {
		return nil, fmt.Errorf("%w: oauth1 app %q service %q", apperrors.ErrConsumerNotFound, app, service)
	}

	return c, nil
}

// OAuth2 returns the OAuth2 consumer for (app, service).
func (r *Registry) OAuth2(app, service string) (*OAuth2Consumer, error) {
	c, ok := r.oauth2[key{app, service}]
	if !ok {
		return nil, fmt.Errorf("%w: oauth2 app %q service %q", apperrors.ErrConsumerNotFound, app, service)
	}

	return c, nil
}

// GetConsumer returns the consumer for (app, service) under scheme, as an
// *OAuth1Consumer or *OAuth2Consumer.
func (r *Registry) GetConsumer(app, service string, scheme token.Scheme) (any, error) {
	switch scheme {
	case token.SchemeOAuth1:
		return r.OAuth1(app, service)
	case token.SchemeOAuth2:
		return r.OAuth2(app, service)
	default:
		return nil, fmt.Errorf("%w: unknown scheme %q", apperrors.ErrConsumerNotFound, scheme)
	}
}

// Len returns the number of consumers across both schemes.
func (r *Registry) Len() int {
	return len(r.oauth1) + len(r.oauth2)
}

func (c *OAuth1Consumer) validate() error {
	if c.App == "" {
		return fmt.Errorf("app is required")
	}

	if c.ConsumerKey == "" {
		return fmt.Errorf("consumer_key is required")
	}

	if c.RequestTokenURL == "" || c.AuthorizeURL == "" || c.AccessTokenURL == "" {
		return fmt.Errorf("request_token_url, authorization_url and access_token_url are required")
	}

	if c.SignatureMethod == "" {
		c.SignatureMethod = SignatureHMACSHA1
	}

	c.SignatureMethod = strings.ToUpper(c.SignatureMethod)

	switch c.SignatureMethod {
	case SignatureHMACSHA1, SignaturePlaintext:
		if c.ConsumerSecret == "" {
			return fmt.Errorf("consumer_secret is required for %s", c.SignatureMethod)
		}
	case SignatureRSASHA1:
		if c.PrivateKey == nil {
			return fmt.Errorf("private_key_file is required for %s", SignatureRSASHA1)
		}
	default:
		return fmt.Errorf("unsupported signature_method %q", c.SignatureMethod)
	}

	return validateLocation(&c.ParamLocation)
}

func (c *OAuth2Consumer) validate() error {
	if c.App == "" {
		return fmt.Errorf("app is required")
	}

	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}

	if c.AuthURL == "" || c.TokenURL == "" {
		return fmt.Errorf("auth_url and token_url are required")
	}

	switch strings.ToLower(c.AuthStyle) {
	case "", "auto", "header", "params":
		c.AuthStyle = strings.ToLower(c.AuthStyle)
	default:
		return fmt.Errorf("unsupported auth_style %q", c.AuthStyle)
	}

	return validateLocation(&c.ParamLocation)
}

func validateLocation(l *ParamLocation) error {
	switch *l {
	case "":
		*l = LocationHeader
	case LocationHeader, LocationQuery:
	default:
		return fmt.Errorf("unsupported param_location %q", *l)
	}

	return nil
}

func loadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in %s", path)
	}

	if pk, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pk, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	pk, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key in %s is not RSA", path)
	}

	return pk, nil
}
