package debug

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	DefaultAddr   = "127.0.0.1:6060"
	DefaultPrefix = "/debug/pprof/"
)

// Config controls the debug HTTP server. A non-loopback Addr needs a Token
// unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

// Validate normalizes c in place. Address and auth are only checked when
// the server is enabled; profiling rates always are.
func (c *Config) Validate() error {
	c.Addr = cmp.Or(strings.TrimSpace(c.Addr), DefaultAddr)
	c.Prefix = normalizePrefix(c.Prefix)
	c.Token = strings.TrimSpace(c.Token)

	if min(c.MutexProfileFraction, c.BlockProfileRate, c.MemProfileRate) < 0 {
		return errors.New("debug: profiling rates must be >= 0")
	}
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("debug.addr: want host:port, got %q: %w", c.Addr, err)
	}
	if c.Token == "" && !c.AllowInsecure && !isLoopbackAddr(c.Addr) {
		return fmt.Errorf("debug: %s is not loopback; set a token or allow_insecure", c.Addr)
	}
	return nil
}

// listenerKey is the part of Config that requires a new listener when it
// changes. Profiling rates and Enabled are handled separately.
type listenerKey struct {
	addr, prefix, token string
	insecure            bool
	read, write, idle   time.Duration
}

func (c Config) listenerKey() listenerKey {
	return listenerKey{
		addr: c.Addr, prefix: normalizePrefix(c.Prefix), token: c.Token,
		insecure: c.AllowInsecure,
		read:     c.ReadTimeout, write: c.WriteTimeout, idle: c.IdleTimeout,
	}
}

func needsRestart(a, b Config) bool { return a.listenerKey() != b.listenerKey() }

// normalizePrefix returns p with exactly one leading and trailing slash
// (DefaultPrefix when blank).
func normalizePrefix(p string) string {
	p = strings.Trim(strings.TrimSpace(p), "/")
	if p == "" {
		return DefaultPrefix
	}
	return "/" + p + "/"
}

func isLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	switch {
	case err != nil, host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

