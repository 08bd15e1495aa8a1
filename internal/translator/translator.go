// Package translator implements the Proxy Translator (C4): it turns a
// client's header block plus body into the upstream fetcher.Request that
// internal/fetcher submits to the backend origin.
//
// Grounded on the teacher's internal/routing rule-evaluation style (ordered
// steps producing a mutated request) combined with original_source's
// stellite/server/quic_proxy_stream.cc ConvertSpdyHeaderToHttpRequest and
// proxy_stream.cc's header-forwarding block.
package translator

import (
	"errors"
	"io"
	"net/url"
	"strings"

	"quicproxy/internal/fetcher"
	"quicproxy/internal/header"
	"quicproxy/internal/rewrite"
)

// ErrMissingPath is returned when the client's header block carries no
// :path pseudo-header.
var ErrMissingPath = errors.New("translator: missing :path")

// ErrInvalidBackendURL is returned when the computed backend URL does not
// parse, e.g. a malformed proxy_pass origin.
var ErrInvalidBackendURL = errors.New("translator: invalid backend url")

// knownMethods is the set of HTTP methods normalizeMethod recognizes;
// anything else defaults to GET per spec.md §4.2 step 3.
var knownMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true, "CONNECT": true, "TRACE": true,
}

// Config is the subset of the proxy's runtime configuration the translator
// needs: the fixed backend origin and an optional rewriter applied to the
// client's absolute URL before rebasing onto that origin.
type Config struct {
	// ProxyPassOrigin is proxy_pass's scheme+host+port component, e.g.
	// "https://backend.internal:8443". Only the path and query of a
	// request are taken from the client; the origin is always this value.
	ProxyPassOrigin string

	// Rewriter is applied to the client's absolute URL before rebasing
	// onto ProxyPassOrigin, when RewriteBeforeRebase is true (the default,
	// see SPEC_FULL.md §6 "Rewriter-vs-rebase ordering"). A nil Rewriter
	// means no rewrite rules are configured.
	Rewriter *rewrite.Rewriter

	// RewriteBeforeRebase controls whether the rewriter sees the client's
	// original absolute URL (true, default) or the already-rebased
	// backend URL (false).
	RewriteBeforeRebase bool
}

// Translated is the result of translating one client request: the upstream
// fetcher.Request plus metadata the caller (internal/proxystream) needs for
// access logging and upload-mode handling.
type Translated struct {
	Request       fetcher.Request
	Method        string
	URL           string
	ChunkedUpload bool
	// UnknownMethod is true when the client's :method did not match a
	// known HTTP method and was defaulted to GET (spec.md §4.2 step 3).
	UnknownMethod bool
}

// peerAddress is the downstream QUIC peer's textual address (no port), as
// spec.md §4.2 step 5 requires for X-Real-IP / X-Forwarded-For.
type peerAddress = string

// Translate builds the upstream request from the client's header block and
// body, applying every step of spec.md §4.2 in order. body may be nil for
// requests with no payload; chunkedUpload indicates the client sent
// Transfer-Encoding: chunked, in which case body is ignored (the caller
// streams chunks in separately via fetcher.Registry.Append).
func Translate(cfg Config, clientHeaders *header.Block, body io.Reader, chunkedUpload bool, peer peerAddress) (Translated, error) {
	path, ok := clientHeaders.Get(header.PseudoPath)
	if !ok || path == "" {
		return Translated{}, ErrMissingPath
	}

	backendURL, err := computeBackendURL(cfg, clientHeaders, path)
	if err != nil {
		return Translated{}, err
	}

	rawMethod, _ := clientHeaders.Get(header.PseudoMethod)
	method, unknown := normalizeMethod(rawMethod)

	// clientHeaders.Range already excludes pseudo-headers; only their
	// de-colonized bare forms ("method", "scheme", "version") can still
	// appear here as regular headers, and header.ForbiddenUpstream covers
	// those too.
	upstreamHeaders := header.New()
	clientHeaders.Range(func(name, value string) {
		if header.ForbiddenUpstream(name) {
			return
		}
		upstreamHeaders.Add(name, value)
	})

	applyForwardingHeaders(upstreamHeaders, clientHeaders, backendURL, peer)

	isUpload := method == "POST" || method == "PUT" || method == "PATCH"
	if chunkedUpload {
		// Transfer-Encoding: chunked forces streaming upload regardless of
		// the method classification above (spec.md §4.2 step 7).
		isUpload = true
	}
	if !isUpload {
		upstreamHeaders.Del("content-length")
		upstreamHeaders.Del("transfer-encoding")
		body = nil
		chunkedUpload = false
	}

	req := fetcher.Request{
		Method:        method,
		URL:           backendURL,
		Headers:       upstreamHeaders,
		Body:          body,
		ChunkedUpload: chunkedUpload,
	}

	return Translated{
		Request:       req,
		Method:        method,
		URL:           backendURL,
		ChunkedUpload: chunkedUpload,
		UnknownMethod: unknown,
	}, nil
}

// computeBackendURL implements spec.md §4.2 step 2: rewrite then rebase, or
// rebase then rewrite, depending on Config.RewriteBeforeRebase.
func computeBackendURL(cfg Config, clientHeaders *header.Block, path string) (string, error) {
	authority, _ := clientHeaders.Get(header.PseudoAuthority)
	scheme, _ := clientHeaders.Get(header.PseudoScheme)
	if scheme == "" {
		scheme = "https"
	}
	clientAbsoluteURL := scheme + "://" + authority + path

	rebase := func(u string) (string, error) {
		origin, err := url.Parse(cfg.ProxyPassOrigin)
		if err != nil {
			return "", ErrInvalidBackendURL
		}
		parsed, err := url.Parse(u)
		if err != nil {
			return "", ErrInvalidBackendURL
		}
		origin.Path = parsed.Path
		origin.RawQuery = parsed.RawQuery
		return origin.String(), nil
	}

	if cfg.Rewriter == nil {
		return rebase(clientAbsoluteURL)
	}

	if cfg.RewriteBeforeRebase {
		if rewritten, matched := cfg.Rewriter.Rewrite(clientAbsoluteURL); matched {
			return rebase(rewritten)
		}
		return rebase(clientAbsoluteURL)
	}

	rebased, err := rebase(clientAbsoluteURL)
	if err != nil {
		return "", err
	}
	if rewritten, matched := cfg.Rewriter.Rewrite(rebased); matched {
		return rewritten, nil
	}
	return rebased, nil
}

// normalizeMethod implements spec.md §4.2 step 3: case-insensitive parse,
// unknown methods default to GET.
func normalizeMethod(raw string) (method string, unknown bool) {
	upper := strings.ToUpper(raw)
	if knownMethods[upper] {
		return upper, false
	}
	return "GET", true
}

// applyForwardingHeaders implements spec.md §4.2 steps 5-6.
func applyForwardingHeaders(upstream *header.Block, client *header.Block, backendURL string, peer peerAddress) {
	if parsed, err := url.Parse(backendURL); err == nil {
		upstream.Set("host", parsed.Host)
	}

	upstream.Set("x-real-ip", peer)

	if existing, ok := upstream.Get("x-forwarded-for"); ok && existing != "" {
		upstream.Set("x-forwarded-for", existing+","+peer)
	} else {
		upstream.Set("x-forwarded-for", peer)
	}

	if host, ok := client.Get("host"); ok && host != "" {
		upstream.Set("x-forwarded-host", host)
	}
}
