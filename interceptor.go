package tangguh

import (
	"context"
	"net/http"
)

// RequestInterceptor sees every descriptor before dispatch. It may mutate or
// replace the descriptor, or abort the call by returning an error. Returning
// a nil request keeps the current one.
type RequestInterceptor interface {
	InterceptRequest(ctx context.Context, req *Request) (*Request, error)
}

// RequestInterceptorFunc adapts a function to RequestInterceptor.
type RequestInterceptorFunc func(ctx context.Context, req *Request) (*Request, error)

func (f RequestInterceptorFunc) InterceptRequest(ctx context.Context, req *Request) (*Request, error) {
	return f(ctx, req)
}

// ResponseInterceptor sees every settled success before it reaches the
// caller. It may replace the response or turn it into an error.
type ResponseInterceptor interface {
	InterceptResponse(ctx context.Context, resp *Response) (*Response, error)
}

// ResponseInterceptorFunc adapts a function to ResponseInterceptor.
type ResponseInterceptorFunc func(ctx context.Context, resp *Response) (*Response, error)

func (f ResponseInterceptorFunc) InterceptResponse(ctx context.Context, resp *Response) (*Response, error) {
	return f(ctx, resp)
}

// ErrorInterceptor sees every terminal error before it reaches the caller.
// It may transform the error, or recover by returning a non-nil response with
// a nil error. Recovery short-circuits the remaining error interceptors and
// hands the response straight to the caller; lean on it sparingly, since it
// hides real failures from everything upstream.
type ErrorInterceptor interface {
	InterceptError(ctx context.Context, req *Request, err error) (*Response, error)
}

// ErrorInterceptorFunc adapts a function to ErrorInterceptor.
type ErrorInterceptorFunc func(ctx context.Context, req *Request, err error) (*Response, error)

func (f ErrorInterceptorFunc) InterceptError(ctx context.Context, req *Request, err error) (*Response, error) {
	return f(ctx, req, err)
}

// interceptors holds the three ordered chains. Registration order is
// execution order.
type interceptors struct {
	request  []RequestInterceptor
	response []ResponseInterceptor
	errs     []ErrorInterceptor
}

func (c *Client) runRequestInterceptors(ctx context.Context, req *Request) (*Request, error) {
	for _, ic := range c.interceptors.request {
		next, err := ic.InterceptRequest(ctx, req)
		if err != nil {
			return nil, err
		}
		if next != nil {
			req = next
		}
	}
	return req, nil
}

func (c *Client) runResponseInterceptors(ctx context.Context, resp *Response) (*Response, error) {
	for _, ic := range c.interceptors.response {
		next, err := ic.InterceptResponse(ctx, resp)
		if err != nil {
			return nil, err
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

// runErrorInterceptors walks the error chain. Each handler may rewrite the
// error for the next one; the first to return a response recovers the call.
func (c *Client) runErrorInterceptors(ctx context.Context, req *Request, err error) (*Response, error) {
	for _, ic := range c.interceptors.errs {
		resp, next := ic.InterceptError(ctx, req, err)
		if resp != nil && next == nil {
			return resp, nil
		}
		if next != nil {
			err = next
		}
	}
	return nil, err
}

// Middleware wraps the HTTP transport for cross-cutting concerns below the
// descriptor layer: wire logging, tracing headers, test fault injection.
type Middleware func(req *http.Request, next RoundTripper) (*http.Response, error)

// RoundTripper is the transport seam middleware composes over.
type RoundTripper interface {
	RoundTrip(*http.Request) (*http.Response, error)
}

// RoundTripperFunc adapts a function to RoundTripper.
type RoundTripperFunc func(*http.Request) (*http.Response, error)

func (f RoundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
