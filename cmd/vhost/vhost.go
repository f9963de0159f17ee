package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	protocol "tcp-core-pa/pkg"
	tcp_protocol "tcp-core-pa/tcp_pkg"
)

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
}

// listen feeds packets from the UDP socket to the host until the socket is
// closed.
func listen(ctx context.Context, udpConn *net.UDPConn, h *host) error {
	buf := make([]byte, protocol.MAX_PACKET_SIZE)
	for {
		n, _, err := udpConn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read udp")
		}
		if err := h.packetReceived(buf[:n]); err != nil {
			log.Debug().Err(err).Msg("dropping packet")
		}
	}
}

func tickLoop(ctx context.Context, h *host, tickMs uint64) error {
	ticker := time.NewTicker(time.Duration(tickMs) * time.Millisecond)
	defer ticker.Stop()
	clock := tickClock{last: time.Now()}
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			h.tick(clock.advance(now))
		}
	}
}

// tickClock turns wall time into whole milliseconds. The fraction left over
// on each tick is carried into the next one.
type tickClock struct {
	last time.Time
}

func (c *tickClock) advance(now time.Time) uint64 {
	ms := now.Sub(c.last).Milliseconds()
	if ms <= 0 {
		return 0
	}
	c.last = c.last.Add(time.Duration(ms) * time.Millisecond)
	return uint64(ms)
}

func repl(h *host, stop context.CancelFunc) {
	defer stop()
	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("Enter command:")
	for scanner.Scan() {
		if !h.handleCommand(scanner.Text(), os.Stdout) {
			return
		}
	}
}

func run(cfg HostConfig) error {
	metrics := tcp_protocol.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return errors.Wrap(err, "register metrics")
	}

	listenAddr, err := net.ResolveUDPAddr("udp4", cfg.UDPListen)
	if err != nil {
		return errors.Wrap(err, "udp_listen")
	}
	peerAddr, err := net.ResolveUDPAddr("udp4", cfg.UDPPeer)
	if err != nil {
		return errors.Wrap(err, "udp_peer")
	}
	udpConn, err := net.ListenUDP("udp4", listenAddr)
	if err != nil {
		return errors.Wrap(err, "listen udp")
	}

	h, err := newHost(cfg, metrics, func(packet []byte) error {
		_, err := udpConn.WriteToUDP(packet, peerAddr)
		return err
	})
	if err != nil {
		udpConn.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	var srv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsListen, Handler: mux}
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return errors.Wrap(err, "metrics server")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		udpConn.Close()
		if srv != nil {
			srv.Close()
		}
		return nil
	})
	g.Go(func() error { return listen(ctx, udpConn, h) })
	g.Go(func() error { return tickLoop(ctx, h, cfg.TickMs) })

	log.Info().
		Str("udp_listen", cfg.UDPListen).
		Str("udp_peer", cfg.UDPPeer).
		Stringer("local_ip", cfg.LocalIP).
		Uint16("local_port", cfg.LocalPort).
		Bool("active", cfg.Active).
		Msg("host up")
	if cfg.Active {
		h.connect()
	}
	// The REPL blocks on stdin, so it is not waited for
	go repl(h, stop)

	return g.Wait()
}

func main() {
	if len(os.Args) != 3 || os.Args[1] != "--config" {
		fmt.Println("Usage: ./vhost --config <yaml file>")
		return
	}
	cfg, err := LoadConfig(os.Args[2])
	if err != nil {
		fmt.Println("error parsing config file:", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("host stopped")
	}
}
