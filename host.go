package warp

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unique"
)

// Host is a normalized WARP host URI. Two hosts with the same Key share
// one connection.
type Host struct {
	Key unique.Handle[string]
	URL *url.URL
}

// NormalizeHostURI maps `warp` to `ws` and `warps` to `wss`, any other
// scheme than those four is rejected.
func NormalizeHostURI(uri string) (Host, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Host{}, fmt.Errorf("%w: %w", ErrInvalidHostURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "warp":
		u.Scheme = "ws"
	case "wss", "warps":
		u.Scheme = "wss"
	default:
		return Host{}, fmt.Errorf("%w: %q", ErrInvalidScheme, u.Scheme)
	}

	if u.Host == "" {
		return Host{}, fmt.Errorf("%w: %q has no host", ErrInvalidHostURI, uri)
	}
	u.Host = strings.ToLower(u.Host)

	return Host{
		Key: unique.Make(u.String()),
		URL: u,
	}, nil
}

func (host Host) String() string {
	return host.Key.Value()
}

func (host Host) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scheme", host.URL.Scheme),
		slog.String("addr", host.URL.Host),
	)
}
