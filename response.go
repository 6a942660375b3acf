package tangguh

import (
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Response is the settled result of a successful call. The body is fully
// buffered, so a Response is immutable and safe to share between the
// coalesced callers of one in-flight request.
type Response struct {
	Success     bool
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
	RequestID   string

	// FromCache marks responses served from the response cache.
	FromCache bool

	// Attempts is the number of network tries this call consumed.
	Attempts  int
	Duration  time.Duration
	Timestamp time.Time

	unmarshal Unmarshaler
}

// IsJSON reports whether the response declared a JSON content type.
func (r *Response) IsJSON() bool {
	mt, _, err := mime.ParseMediaType(r.ContentType)
	if err != nil {
		return false
	}
	return mt == contentTypeJSON || strings.HasSuffix(mt, "+json")
}

// Text returns the raw body as a string. Non-JSON responses pass through the
// pipeline untouched and are consumed this way.
func (r *Response) Text() string {
	return string(r.Body)
}

// Decode unmarshals the body into v using the client's Unmarshaler.
func (r *Response) Decode(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("tangguh: cannot decode %q response as JSON", r.ContentType)
	}
	return r.unmarshaler()(r.Body, v)
}

// DecodeData unwraps the conventional {success, data} server envelope before
// decoding. Bodies without the envelope decode whole.
func (r *Response) DecodeData(v any) error {
	if !r.IsJSON() {
		return fmt.Errorf("tangguh: cannot decode %q response as JSON", r.ContentType)
	}
	var env struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := r.unmarshaler()(r.Body, &env); err == nil && env.Success != nil && len(env.Data) > 0 {
		return r.unmarshaler()(env.Data, v)
	}
	return r.unmarshaler()(r.Body, v)
}

func (r *Response) unmarshaler() Unmarshaler {
	if r.unmarshal != nil {
		return r.unmarshal
	}
	return defaultUnmarshaler()
}

// Decode unmarshals resp's body into T.
func Decode[T any](resp *Response) (T, error) {
	var out T
	if resp == nil {
		return out, fmt.Errorf("tangguh: nil response")
	}
	err := resp.Decode(&out)
	return out, err
}

// wireError is the error half of the server envelope: {code, message, details}.
type wireError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

// parseErrorBody extracts message and details from a JSON error body. Both
// the bare {code, message, details} shape and the {success, error: {...}}
// envelope are understood; anything else yields empty values and the caller
// falls back to the status text.
func parseErrorBody(body []byte) (string, map[string]any) {
	if len(body) == 0 {
		return "", nil
	}

	var envelope struct {
		wireError
		Error *wireError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", nil
	}
	if envelope.Error != nil {
		return envelope.Error.Message, envelope.Error.Details
	}
	return envelope.Message, envelope.Details
}
