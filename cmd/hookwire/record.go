package main

import (
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/hookwire/hookwire"
	"github.com/hookwire/hookwire/collector"
	"github.com/hookwire/hookwire/event"
	"github.com/hookwire/hookwire/link"
	"github.com/hookwire/hookwire/vm"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Run the demo hooks and persist records to SQLite",
	Long: `record attaches the demo process hook and packet filter, fires
them on an interval with this process's identity and synthetic
packets, and stores every record until interrupted.`,
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().Duration("interval", time.Second, "time between synthetic events")
	recordCmd.Flags().Int("count", 0, "stop after this many events, 0 means run until interrupted")
}

// Minimal Ethernet and IPv4 framing, enough for the protocol byte the
// filter inspects.
func syntheticPacket(proto byte) []byte {
	pkt := make([]byte, 64)
	pkt[12], pkt[13] = 0x08, 0x00 // IPv4 ethertype
	pkt[14] = 0x45                // version and header length
	pkt[23] = proto
	return pkt
}

func runRecord(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	store, err := collector.OpenStore(viper.GetString("store.path"))
	if err != nil {
		return err
	}
	defer store.Close()

	registry := link.NewRegistry()
	registry.AddSymbol("sys_execve")
	registry.AddDevice(1)

	c, err := collector.New(collector.Config{
		Logger:     logger,
		Collection: demoCollection(),
		Attachments: []collector.Attachment{
			{Program: "trace_exec"},
			{Program: "drop_tcp"},
		},
		Registry:     registry,
		LaneCapacity: viper.GetInt("events.lane_capacity"),
		PollTimeout:  viper.GetDuration("events.poll_timeout"),
		HandleRecord: func(d event.Data) {
			if err := store.Insert(d); err != nil {
				logger.Errorw("store insert failed", "error", err)
				return
			}
			logger.Infow("record",
				"provenance", d.Provenance.String(),
				"pid", d.Pid, "uid", d.UID,
				"comm", d.CommString(), "message", d.MessageString())
		},
		HandleLost: func(lane int, n uint64) {
			logger.Warnw("records lost", "lane", lane, "count", n)
		},
	})
	if err != nil {
		return err
	}
	defer c.Close()

	for _, st := range c.Status() {
		logger.Infow("program", "name", st.Program, "state", st.State.String())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	interval, _ := cmd.Flags().GetDuration("interval")
	limit, _ := cmd.Flags().GetInt("count")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	identity := &vm.Context{
		PID:  uint32(unix.Getpid()),
		TGID: uint32(unix.Getpid()),
		UID:  uint32(unix.Getuid()),
		GID:  uint32(unix.Getgid()),
		Comm: "hookwire",
	}

	fired := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		if err := registry.FireSymbol("sys_execve", identity); err != nil {
			return fmt.Errorf("firing sys_execve: %w", err)
		}

		// Alternate TCP and UDP so the filter has something to drop.
		proto := byte(unix.IPPROTO_UDP)
		if fired%2 == 0 {
			proto = unix.IPPROTO_TCP
		}
		verdict, err := registry.FireXDP(1, &vm.Context{Packet: syntheticPacket(proto)})
		if err != nil {
			return fmt.Errorf("firing device 1: %w", err)
		}
		if verdict == hookwire.XDPDrop {
			logger.Debugw("packet dropped", "proto", proto)
		}

		fired++
		if limit > 0 && fired >= limit {
			break
		}
	}

	stop()
	if err := <-done; err != nil {
		return err
	}

	n, err := store.Count()
	if err != nil {
		return err
	}
	fmt.Printf("stored %d records in %s\n", n, viper.GetString("store.path"))
	return nil
}
