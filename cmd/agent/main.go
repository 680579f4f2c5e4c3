// Command agentproto-agent is a reference initiator: it dials a listener,
// completes the handshake, and sends one piece of sample traffic through
// the demux mode selected by its own --multiplex setting.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/lyrinoxtech/agentproto"
	"github.com/lyrinoxtech/agentproto/examplepackets"
	"github.com/lyrinoxtech/agentproto/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configPath string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agentproto-agent",
		Short: "Reference initiator for the agentproto transport",
		RunE:  runAgent,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a YAML/TOML config file")
	cmd.Flags().String("address", "", "address to dial (overrides config)")
	cmd.Flags().Bool("multiplex", false, "use multiplexer demux mode instead of request-manager")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAgent(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := v.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		return err
	}
	if err := v.BindPFlag("multiplex", cmd.Flags().Lookup("multiplex")); err != nil {
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

	transport, err := net.DialTimeout("tcp", cfg.Address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", cfg.Address, err)
	}

	mode := agentproto.DemuxRequestManager
	if cfg.Multiplex {
		mode = agentproto.DemuxMultiplex
	}

	client, err := agentproto.DialClient(transport, mode, log, nil)
	if err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	defer client.Close()

	log.Info("handshake complete")

	if cfg.Multiplex {
		return runMultiplexDemo(client, log)
	}
	return runRequestDemo(client, log)
}

func runRequestDemo(client *agentproto.Client, log *logrus.Entry) error {
	chunk := &examplepackets.FileChunk{Path: "hello.txt", Offset: 0, Data: []byte("hello from the agent")}
	iter, err := client.SendRequest(examplepackets.FileChunkCode, chunk)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	frame, err := iter.NextFrameTimeout(5 * time.Second)
	if err != nil {
		return fmt.Errorf("waiting for response: %w", err)
	}
	log.WithField("payload_len", len(frame.Payload)).Info("received response frame")
	return nil
}

func runMultiplexDemo(client *agentproto.Client, log *logrus.Entry) error {
	stream, err := client.OpenStream()
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer stream.Close()

	if err := stream.SendBytes([]byte("hello from the agent")); err != nil {
		return fmt.Errorf("sending on stream: %w", err)
	}

	data, ok := stream.Receive()
	if !ok {
		return fmt.Errorf("stream closed before echo arrived")
	}
	log.WithField("echoed", string(data)).Info("received echo")
	return nil
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
