// Command agentproto-server is a reference listener: it accepts agent
// connections, completes the responder handshake, and echoes every
// FileChunk request or stream chunk it receives back to its sender.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/lyrinoxtech/agentproto"
	"github.com/lyrinoxtech/agentproto/examplepackets"
	"github.com/lyrinoxtech/agentproto/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentproto-server",
		Short: "Reference listener for the agentproto transport",
		RunE:  runServer,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/TOML config file")
	cmd.Flags().String("address", "", "listen address (overrides config)")
	cmd.Flags().Bool("multiplex", false, "use multiplexer demux mode instead of request-manager")
	cmd.Flags().String("metrics-address", "", "serve Prometheus metrics on this address")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		return err
	}
	if err := v.BindPFlag("multiplex", cmd.Flags().Lookup("multiplex")); err != nil {
		return err
	}
	if err := v.BindPFlag("metrics_address", cmd.Flags().Lookup("metrics-address")); err != nil {
		return err
	}

	cfg, err := config.Load(v, configPath)
	if err != nil {
		return err
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)

	if err := examplepackets.Register(); err != nil {
		return fmt.Errorf("registering example packets: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := agentproto.NewMetrics(reg, "agentproto_server")
	if cfg.MetricsAddress != "" {
		go serveMetrics(cfg.MetricsAddress, reg, log)
	}

	listener, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Address, err)
	}
	log.WithField("address", cfg.Address).Info("listening")

	mode := agentproto.DemuxRequestManager
	if cfg.Multiplex {
		mode = agentproto.DemuxMultiplex
	}

	server := agentproto.NewServer(listener, mode, log.WithField("component", "server"), metrics)
	server.SetConnectionHandler(func(client *agentproto.Client) {
		log.WithField("conn_id", client.Connection().ID()).Info("agent connected")
		if cfg.Multiplex {
			echoStreams(client, log)
			return
		}
		<-client.Done()
	})
	if !cfg.Multiplex {
		server.SetRequestHandler(echoRequest(log))
	}

	return server.Start()
}

// echoRequest answers every inbound request-manager request by decoding a
// FileChunk and sending it straight back, so the reference agent's request
// demo gets a real response instead of timing out waiting for one.
func echoRequest(log *logrus.Entry) agentproto.RequestHandler {
	return func(packetType byte, payload []byte) (byte, []byte, error) {
		switch packetType {
		case examplepackets.FileChunkCode:
			chunk := &examplepackets.FileChunk{}
			if err := chunk.Unmarshal(payload); err != nil {
				return 0, nil, fmt.Errorf("decoding file chunk: %w", err)
			}
			log.WithField("path", chunk.Path).Info("echoing file chunk back to sender")
			body, err := chunk.Marshal()
			if err != nil {
				return 0, nil, err
			}
			return examplepackets.FileChunkCode, body, nil
		default:
			return 0, nil, fmt.Errorf("unsupported request packet type %d", packetType)
		}
	}
}

// echoStreams accepts every stream the peer opens and echoes its chunks
// back until the stream or connection closes.
func echoStreams(client *agentproto.Client, log *logrus.Entry) {
	for {
		stream, ok := client.AcceptStream()
		if !ok {
			return
		}
		go func(s *agentproto.Stream) {
			for {
				data, ok := s.Receive()
				if !ok {
					return
				}
				if err := s.SendBytes(data); err != nil {
					log.WithError(err).WithField("stream_id", s.ID()).Warn("echo send failed")
					return
				}
			}
		}(stream)
	}
}

func serveMetrics(address string, reg *prometheus.Registry, log *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("address", address).Info("serving metrics")
	if err := http.ListenAndServe(address, mux); err != nil {
		log.WithError(err).Error("metrics server stopped")
	}
}

func newLogger(level, format string) *logrus.Entry {
	l := logrus.New()
	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	}
	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	}
	return logrus.NewEntry(l)
}
