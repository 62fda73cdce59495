// Package assets turns object store references into public URLs.
package assets

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// URLBuilder joins object references onto a public base URL.
type URLBuilder struct {
	base *url.URL
}

// NewURLBuilder parses base, which must be an absolute http(s) URL.
func NewURLBuilder(base string) (*URLBuilder, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return nil, fmt.Errorf("assets: parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("assets: base url %q must be http or https", base)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("assets: base url %q has no host", base)
	}
	return &URLBuilder{base: u}, nil
}

// PublicURL returns the URL of ref. Absolute URLs pass through unchanged and
// an empty ref yields "".
func (b *URLBuilder) PublicURL(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if parsed, err := url.Parse(ref); err == nil && parsed.IsAbs() {
		return ref
	}

	u := *b.base
	u.Path = path.Join("/", b.base.Path, ref)
	u.RawPath = ""
	return u.String()
}

// FileName is the last path element of ref, used as the download name.
func FileName(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if parsed, err := url.Parse(ref); err == nil && parsed.IsAbs() {
		ref = parsed.Path
	}
	return path.Base(ref)
}
