// Command socksd is a minimal SOCKS4/4a/5 proxy server binary built on
// top of package socks, generalizing Abdullah2993-socks5-server's
// main.go from a SOCKS5-only flag-driven CLI to both protocol versions
// with an optional TOML config file layered underneath the flags.
package main

import (
	"flag"
	"net"
	"os"
	"time"

	igd "github.com/abdullah2993/go-fwdlistener"

	"github.com/mway-proxy/socks5/internal/config"
	"github.com/mway-proxy/socks5/internal/logging"
	"github.com/mway-proxy/socks5/socks"
)

func main() {
	var (
		addr       string
		user       string
		pass       string
		host       string
		upnp       bool
		configPath string
		logLevel   string
	)

	flag.StringVar(&configPath, "config", "", "path to an optional TOML config file")
	flag.StringVar(&addr, "addr", "", "address to listen on (default :1080)")
	flag.StringVar(&user, "username", "", "username for SOCKS5 user/pass authentication")
	flag.StringVar(&pass, "password", "", "password for SOCKS5 user/pass authentication")
	flag.StringVar(&host, "host", "", "hostname reported in BIND replies in place of the listener's own address")
	flag.BoolVar(&upnp, "upnp", false, "forward the listening port and BIND ports via UPnP instead of binding directly")
	flag.StringVar(&logLevel, "log-level", "", "debug, info, warn, or error (default info)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Errorf("", "loading config %s: %v", configPath, err)
		os.Exit(1)
	}

	addr = firstNonEmpty(addr, cfg.Addr, ":1080")
	user = firstNonEmpty(user, cfg.Username)
	pass = firstNonEmpty(pass, cfg.Password)
	host = firstNonEmpty(host, cfg.Host)
	if !upnp {
		upnp = cfg.UPnP
	}
	if logLevel == "" {
		logLevel = firstNonEmpty(cfg.LogLevel, "info")
	}
	logging.SetLevel(parseLevel(logLevel))

	h := &socks.DefaultHandler{}
	if user != "" || pass != "" {
		h.UserPass = socks.NewUserPassAuth(user, pass)
	}
	if cfg.BindAcceptTimeout > 0 {
		h.BindAcceptTimeout = time.Duration(cfg.BindAcceptTimeout) * time.Second
	}

	s := &socks.Server{Addr: addr, Handler: h}
	if host != "" {
		h.Listen = hostRewritingListener(host)
	}
	if upnp {
		s.Listen = igd.Listen
		h.Listen = igd.Listen
	}

	logging.Infof("", "listening on %s", addr)
	if err := s.ListenAndServe(); err != nil {
		logging.Errorf("", "server exited: %v", err)
		os.Exit(1)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseLevel(s string) logging.Level {
	switch s {
	case "debug":
		return logging.Debug
	case "warn":
		return logging.Warn
	case "error":
		return logging.Error
	default:
		return logging.Info
	}
}

// hostRewritingListener wraps net.Listen so a BIND listener reports
// host:port (rather than the listener's own, possibly NAT-hidden
// address) to callers that read back its Addr(), mirroring the
// teacher's HostAddrProvider for embedders behind a fixed public host.
func hostRewritingListener(host string) func(network, address string) (net.Listener, error) {
	return func(network, address string) (net.Listener, error) {
		l, err := net.Listen(network, address)
		if err != nil {
			return nil, err
		}
		return &hostRewritingTCPListener{Listener: l, host: host}, nil
	}
}

type hostRewritingTCPListener struct {
	net.Listener
	host string
}

func (l *hostRewritingTCPListener) Addr() net.Addr {
	_, port, err := net.SplitHostPort(l.Listener.Addr().String())
	if err != nil {
		return l.Listener.Addr()
	}
	return rewrittenAddr(net.JoinHostPort(l.host, port))
}

type rewrittenAddr string

func (a rewrittenAddr) Network() string { return "tcp" }
func (a rewrittenAddr) String() string  { return string(a) }
