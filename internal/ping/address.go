package ping

import (
	"context"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"voip-monitor/internal/models"
)

var (
	hostLabel   = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?$`)
	numericOnly = regexp.MustCompile(`^[0-9]+$`)
)

// ValidateAddress accepts IPv4 and IPv6 literals and RFC 1123 host names.
func ValidateAddress(address string) error {
	if address == "" || strings.TrimSpace(address) != address {
		return fmt.Errorf("%w: %q", models.ErrInvalidTarget, address)
	}
	if net.ParseIP(address) != nil {
		return nil
	}

	host := strings.TrimSuffix(address, ".")
	if len(host) == 0 || len(host) > 253 {
		return fmt.Errorf("%w: %q", models.ErrInvalidTarget, address)
	}
	labels := strings.Split(host, ".")
	for _, label := range labels {
		if !hostLabel.MatchString(label) {
			return fmt.Errorf("%w: %q", models.ErrInvalidTarget, address)
		}
	}
	// a numeric top-level label is a malformed IP, not a host name
	if numericOnly.MatchString(labels[len(labels)-1]) {
		return fmt.Errorf("%w: %q", models.ErrInvalidTarget, address)
	}
	return nil
}

// Resolver maps host names to IPs, caching answers for a fixed TTL.
type Resolver struct {
	cache  *ttlcache.Cache[string, net.IP]
	lookup func(ctx context.Context, host string) ([]net.IPAddr, error)
}

// NewResolver creates a resolver backed by the system resolver.
func NewResolver(ttl time.Duration) *Resolver {
	return &Resolver{
		cache:  ttlcache.New(ttlcache.WithTTL[string, net.IP](ttl)),
		lookup: net.DefaultResolver.LookupIPAddr,
	}
}

// Resolve returns the IP for address. IP literals are returned as is.
func (r *Resolver) Resolve(ctx context.Context, address string) (net.IP, error) {
	if ip := net.ParseIP(address); ip != nil {
		return ip, nil
	}
	if item := r.cache.Get(address); item != nil {
		return item.Value(), nil
	}

	addrs, err := r.lookup(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", address, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve %s: no addresses", address)
	}
	ip := addrs[0].IP
	for _, a := range addrs {
		if a.IP.To4() != nil {
			ip = a.IP
			break
		}
	}
	r.cache.Set(address, ip, ttlcache.DefaultTTL)
	return ip, nil
}
