// Package httpclient builds the outbound HTTP clients used for the Crisp and
// wit.ai APIs.
package httpclient

import (
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// Options tunes a client. Zero values take the defaults.
type Options struct {
	Timeout         time.Duration // whole-request limit
	MaxConnsPerHost int           // caps parallel flows hitting one API host
	UserAgent       string
}

// New returns a client on a transport cloned from http.DefaultTransport, so
// proxy settings from the environment keep working. Every request carries
// the configured User-Agent unless the caller set one.
func New(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 16
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "crispdesk"
	}

	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxConnsPerHost = opts.MaxConnsPerHost
	t.MaxIdleConnsPerHost = opts.MaxConnsPerHost
	t.ResponseHeaderTimeout = opts.Timeout

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: &userAgent{next: t, value: opts.UserAgent},
	}
}

type userAgent struct {
	next  http.RoundTripper
	value string
}

func (u *userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	if r.Header.Get("User-Agent") != "" {
		return u.next.RoundTrip(r)
	}
	r = r.Clone(r.Context())
	r.Header.Set("User-Agent", u.value)
	return u.next.RoundTrip(r)
}
