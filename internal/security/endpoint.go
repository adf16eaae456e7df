package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrBlockedEndpoint is wrapped by every policy rejection.
var ErrBlockedEndpoint = errors.New("endpoint not allowed")

// Resolver looks up the addresses of a host.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// EndpointPolicy decides which outbound URLs are acceptable.
type EndpointPolicy struct {
	// AllowPrivate admits loopback and private addresses and skips DNS
	// resolution. The analyzer usually runs next to the server.
	AllowPrivate bool
	RequireHTTPS bool
	Resolver     Resolver // nil uses net.DefaultResolver
}

var (
	// WebhookPolicy keeps alert deliveries off the local network.
	WebhookPolicy = EndpointPolicy{}
	// AnalyzerPolicy only refuses metadata and link-local targets.
	AnalyzerPolicy = EndpointPolicy{AllowPrivate: true}
)

// metadataHosts are cloud instance-metadata names, refused under every policy.
var metadataHosts = []string{"metadata.google.internal", "metadata.google", "metadata"}

// Check validates rawURL against the policy.
func (p EndpointPolicy) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: invalid URL", ErrBlockedEndpoint)
	}
	switch {
	case u.Scheme == "https":
	case u.Scheme == "http" && !p.RequireHTTPS:
	default:
		return fmt.Errorf("%w: scheme %q not allowed", ErrBlockedEndpoint, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("%w: URL must have a host", ErrBlockedEndpoint)
	}
	for _, m := range metadataHosts {
		if strings.EqualFold(host, m) {
			return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
		}
	}
	if !p.AllowPrivate && strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: host %q", ErrBlockedEndpoint, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		return p.checkIP(ip)
	}
	if p.AllowPrivate {
		return nil
	}

	resolver := p.Resolver
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: cannot resolve %s", ErrBlockedEndpoint, host)
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			if err := p.checkIP(ip); err != nil {
				return fmt.Errorf("host %q resolves to %s: %w", host, a, err)
			}
		}
	}
	return nil
}

func (p EndpointPolicy) checkIP(ip net.IP) error {
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return fmt.Errorf("%w: link-local address", ErrBlockedEndpoint)
	}
	if ip.IsUnspecified() || ip.IsMulticast() {
		return fmt.Errorf("%w: unroutable address", ErrBlockedEndpoint)
	}
	if p.AllowPrivate {
		return nil
	}
	if ip.IsLoopback() {
		return fmt.Errorf("%w: loopback address", ErrBlockedEndpoint)
	}
	if ip.IsPrivate() {
		return fmt.Errorf("%w: private address", ErrBlockedEndpoint)
	}
	return nil
}

// ValidateEndpointURL checks a webhook target under WebhookPolicy.
func ValidateEndpointURL(rawURL string) error {
	return WebhookPolicy.Check(context.Background(), rawURL)
}
