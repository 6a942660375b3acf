package tangguh

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"io"
	"maps"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Request describes one API call. Paths are resolved against the client's
// base URL unless they carry a scheme of their own. Zero-valued override
// fields inherit the client configuration.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Body is marshaled with the client's Marshaler. []byte and
	// json.RawMessage values pass through untouched.
	Body any

	// Timeout overrides the configured per-attempt timeout when positive.
	Timeout time.Duration

	// Attempts overrides the configured total try count when positive.
	// NoRetry (-1) forces a single try.
	Attempts int

	// CacheTTL overrides the configured cache TTL when positive.
	CacheTTL      time.Duration
	CacheDisabled bool
	DedupDisabled bool

	// ID names the call in the cancellation registry. Generated when empty.
	ID string

	// Metadata is carried through interceptors untouched by the pipeline.
	Metadata map[string]any
}

// NoRetry disables retries for one call when assigned to Request.Attempts.
const NoRetry = -1

// RequestOption tweaks a single Request.
type RequestOption func(*Request)

// NewRequest builds a descriptor for Method and path with the given options.
func NewRequest(method, path string, opts ...RequestOption) *Request {
	r := &Request{
		Method: strings.ToUpper(strings.TrimSpace(method)),
		Path:   path,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithQuery adds a query parameter.
func WithQuery(key, value string) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		r.Query.Add(key, value)
	}
}

// WithQueryValues merges a set of query parameters.
func WithQueryValues(values url.Values) RequestOption {
	return func(r *Request) {
		if r.Query == nil {
			r.Query = url.Values{}
		}
		for k, vs := range values {
			for _, v := range vs {
				r.Query.Add(k, v)
			}
		}
	}
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *Request) {
		if r.Header == nil {
			r.Header = http.Header{}
		}
		r.Header.Set(key, value)
	}
}

// WithBody sets the request body.
func WithBody(body any) RequestOption {
	return func(r *Request) { r.Body = body }
}

// WithRequestTimeout overrides the per-attempt timeout for this call.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(r *Request) { r.Timeout = d }
}

// WithAttempts overrides the total number of tries for this call.
func WithAttempts(n int) RequestOption {
	return func(r *Request) { r.Attempts = n }
}

// WithNoRetry forces a single try for this call.
func WithNoRetry() RequestOption {
	return func(r *Request) { r.Attempts = NoRetry }
}

// WithCacheTTL overrides the cache TTL for this call.
func WithCacheTTL(ttl time.Duration) RequestOption {
	return func(r *Request) { r.CacheTTL = ttl }
}

// WithNoCache bypasses the response cache for this call.
func WithNoCache() RequestOption {
	return func(r *Request) { r.CacheDisabled = true }
}

// WithNoDedup opts this call out of in-flight request coalescing.
func WithNoDedup() RequestOption {
	return func(r *Request) { r.DedupDisabled = true }
}

// WithRequestID pins the cancellation-registry id for this call.
func WithRequestID(id string) RequestOption {
	return func(r *Request) { r.ID = id }
}

// WithMetadata attaches a named value for interceptors to read.
func WithMetadata(key string, value any) RequestOption {
	return func(r *Request) {
		if r.Metadata == nil {
			r.Metadata = map[string]any{}
		}
		r.Metadata[key] = value
	}
}

// Clone returns a copy safe for mutation by interceptors. The body value is
// shared; everything else is copied.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	out := *r
	if r.Query != nil {
		out.Query = url.Values{}
		for k, vs := range r.Query {
			out.Query[k] = append([]string(nil), vs...)
		}
	}
	if r.Header != nil {
		out.Header = r.Header.Clone()
	}
	if r.Metadata != nil {
		out.Metadata = maps.Clone(r.Metadata)
	}
	return &out
}

func (r *Request) validate() error {
	if r.Path == "" {
		return fmt.Errorf("path is empty")
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
		http.MethodPatch, http.MethodDelete, http.MethodOptions:
		return nil
	case "":
		return fmt.Errorf("method is empty")
	default:
		return fmt.Errorf("unsupported method %q", r.Method)
	}
}

// resolveURL joins the descriptor path with base and folds in Query.
// Paths carrying their own scheme are taken verbatim.
func (r *Request) resolveURL(base string) (*url.URL, error) {
	target := strings.TrimSpace(r.Path)

	var full, inlineQuery string
	if strings.Contains(target, "://") {
		full = target
	} else {
		if base == "" {
			return nil, fmt.Errorf("relative path %q requires a base URL", target)
		}
		// JoinPath escapes "?", so an inline query rides separately.
		pathPart, rawQuery, _ := strings.Cut(target, "?")
		joined, err := url.JoinPath(base, pathPart)
		if err != nil {
			return nil, err
		}
		full, inlineQuery = joined, rawQuery
	}

	u, err := url.Parse(full)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("unresolvable url %q", full)
	}
	if inlineQuery != "" {
		if u.RawQuery != "" {
			u.RawQuery += "&" + inlineQuery
		} else {
			u.RawQuery = inlineQuery
		}
	}

	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// bodyBytes marshals the body once per call so every retry reuses the same
// payload. The returned content type is empty for raw []byte bodies.
func (r *Request) bodyBytes(marshal Marshaler) ([]byte, string, error) {
	switch b := r.Body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return b, "", nil
	case json.RawMessage:
		return []byte(b), contentTypeJSON, nil
	default:
		raw, err := marshal(b)
		if err != nil {
			return nil, "", err
		}
		return raw, contentTypeJSON, nil
	}
}

// Fingerprint digests method, path, sorted query parameters and body into a
// stable identity. Identical descriptors always produce identical
// fingerprints, so the cache and the in-flight registry agree on what
// "the same request" means.
func (r *Request) Fingerprint(marshal Marshaler) (string, error) {
	h := fnv.New64a()
	_, _ = io.WriteString(h, r.Method)
	_, _ = h.Write([]byte{0})
	_, _ = io.WriteString(h, r.Path)
	_, _ = h.Write([]byte{0})
	// url.Values.Encode sorts by key, giving a canonical parameter order.
	_, _ = io.WriteString(h, r.Query.Encode())

	if r.Body != nil {
		raw, _, err := r.bodyBytes(marshal)
		if err != nil {
			return "", err
		}
		sum := sha256.Sum256(raw)
		_, _ = h.Write(sum[:])
	}

	return fmt.Sprintf("%x", h.Sum64()), nil
}

const contentTypeJSON = "application/json"

// endpointLabel renders host+path for metric labels, collapsing empty paths
// to "/" so label cardinality stays bounded.
func endpointLabel(u *url.URL) string {
	if u == nil {
		return "unknown"
	}

	var b strings.Builder
	b.WriteString(u.Host)
	if u.Path != "" && u.Path != "/" {
		b.WriteString(u.Path)
	} else {
		b.WriteByte('/')
	}
	return b.String()
}
