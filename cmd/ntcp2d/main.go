// Command ntcp2d is a minimal standalone NTCP2 daemon: it generates (or
// would, in a real deployment, load) a router identity, listens for
// inbound NTCP2 connections, and logs established sessions. It exists to
// exercise ntcp2.Server end to end; a full router wires its own netdb and
// i2np dispatcher in instead of the in-memory stand-ins used here.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-i2p/ntcp2router/netdb"
	"github.com/go-i2p/ntcp2router/ntcp2"
	"github.com/go-i2p/ntcp2router/proxy"
	"github.com/go-i2p/ntcp2router/routercontext"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/go-i2p/logger"
)

var log = logger.GetGoI2PLogger()

// fileConfig mirrors the "ntcp2.*" section of a router's YAML config.
type fileConfig struct {
	NTCP2 struct {
		Enabled   bool   `yaml:"enabled"`
		AddressV6 string `yaml:"addressv6"`
		Host      string `yaml:"host"`
		Port      int    `yaml:"port"`
		NetworkID byte   `yaml:"networkid"`
		Proxy     string `yaml:"proxy"` // "", "socks5", or "http"
		ProxyAddr string `yaml:"proxyaddress"`
		ProxyPort int    `yaml:"proxyport"`
	} `yaml:"ntcp2"`
}

func loadConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Code("CONFIG_READ_FAILED").In("ntcp2d").With("path", path).Wrap(err)
	}
	cfg := &fileConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, oops.Code("CONFIG_PARSE_FAILED").In("ntcp2d").With("path", path).Wrap(err)
	}
	return cfg, nil
}

func proxyKind(name string) (proxy.Kind, error) {
	switch name {
	case "":
		return proxy.KindNone, nil
	case "socks5":
		return proxy.KindSOCKS5, nil
	case "http":
		return proxy.KindHTTPConnect, nil
	default:
		return proxy.KindNone, oops.Code("UNKNOWN_PROXY_KIND").In("ntcp2d").
			With("kind", name).Errorf("unrecognized ntcp2.proxy value")
	}
}

func main() {
	configPath := flag.String("config", "ntcp2d.yaml", "path to router YAML configuration")
	flag.Parse()

	fcfg, err := loadConfig(*configPath)
	if err != nil {
		log.WithField("error", err).Fatal("failed to load configuration")
	}
	if !fcfg.NTCP2.Enabled {
		log.Info("ntcp2 disabled in configuration, exiting")
		return
	}

	ctx, err := routercontext.Generate(fcfg.NTCP2.NetworkID)
	if err != nil {
		log.WithField("error", err).Fatal("failed to generate router identity")
	}

	ri, err := ctx.RouterInfo(time.Now(), map[string]string{
		"host": fcfg.NTCP2.Host,
		"port": fmt.Sprintf("%d", fcfg.NTCP2.Port),
	})
	if err != nil {
		log.WithField("error", err).Fatal("failed to build local RouterInfo")
	}
	db := netdb.New(ri, ntcp2.NetDbMinExpirationTimeout)

	listenAddr := net.JoinHostPort(fcfg.NTCP2.Host, fmt.Sprintf("%d", fcfg.NTCP2.Port))
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		log.WithFields(logrus.Fields{"error": err, "addr": listenAddr}).Fatal("failed to bind listener")
	}

	cfg, err := ntcp2.NewConfig(ctx.RouterHash[:], ctx.StaticKey[:], ctx.StaticPublicKey[:], false)
	if err != nil {
		log.WithField("error", err).Fatal("failed to build ntcp2 config")
	}
	cfg = cfg.WithNetworkID(fcfg.NTCP2.NetworkID).WithRemote(nil, nil, ctx.ObfuscationIV[:])

	server, err := ntcp2.NewServer(listener, cfg, db)
	if err != nil {
		log.WithField("error", err).Fatal("failed to start ntcp2 server")
	}

	if kind, err := proxyKind(fcfg.NTCP2.Proxy); err != nil {
		log.WithField("error", err).Fatal("invalid proxy configuration")
	} else if kind != proxy.KindNone {
		proxyAddr := net.JoinHostPort(fcfg.NTCP2.ProxyAddr, fmt.Sprintf("%d", fcfg.NTCP2.ProxyPort))
		dialer, err := proxy.New(kind, proxyAddr)
		if err != nil {
			log.WithField("error", err).Fatal("failed to configure outbound proxy")
		}
		server.SetDialer(dialer)
		log.WithFields(logrus.Fields{"kind": fcfg.NTCP2.Proxy, "addr": proxyAddr}).
			Info("outbound NTCP2 connections will tunnel through a proxy")
	}

	go func() {
		err := server.Accept(func(session *ntcp2.Session) {
			log.WithField("remote", session.RemoteAddr()).Info("NTCP2 session established")
		})
		if err != nil {
			log.WithField("error", err).Warn("NTCP2 accept loop stopped")
		}
	}()

	log.WithField("addr", listenAddr).Info("ntcp2d listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down ntcp2d")
	if err := server.Close(); err != nil {
		log.WithField("error", err).Warn("error while closing ntcp2 server")
	}
}
