package auth

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// maxParamBody caps how much of a request body is read for parameters.
const maxParamBody = 1 << 20

// Parameter names observed on the wire.
const (
	ParamSecurityToken = "st"
	ParamGadget        = "gadget"
	ParamAuthz         = "authz"
	ParamOAuthState    = "oauthState"
	ParamServiceName   = "serviceName"
	ParamURL           = "url"
	ParamHTTPMethod    = "httpMethod"
	ParamPostData      = "postData"
)

// RequestParams collects the inbound gadget parameters. GET requests use
// the query string. POST requests overlay the body on the query string:
// form-encoded bodies are parsed as forms and JSON bodies read top-level
// members. The body is restored so it can be read again.
func RequestParams(r *http.Request) (url.Values, error) {
	params := r.URL.Query()

	if r.Method != http.MethodPost || r.Body == nil || r.Body == http.NoBody {
		return params, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxParamBody))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("parsing form body: %w", err)
		}

		for k, vs := range form {
			params[k] = vs
		}
	case "application/json":
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("parsing json body: invalid json")
		}

		root := gjson.ParseBytes(body)
		if !root.IsObject() {
			return nil, fmt.Errorf("parsing json body: expected an object")
		}

		root.ForEach(func(k, v gjson.Result) bool {
			params.Set(k.String(), v.String())
			return true
		})
	}

	return params, nil
}
