package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sys/unix"

	"github.com/hookwire/hookwire/collector"
	"github.com/hookwire/hookwire/event"
	"github.com/hookwire/hookwire/link"
	"github.com/hookwire/hookwire/vm"
)

var helloCmd = &cobra.Command{
	Use:   "hello",
	Short: "Verify and fire the demo hook once",
	RunE:  runHello,
}

func runHello(cmd *cobra.Command, args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	registry := link.NewRegistry()
	registry.AddSymbol("sys_execve")

	records := make(chan event.Data, 1)
	c, err := collector.New(collector.Config{
		Logger:     logger,
		Collection: demoCollection(),
		Attachments: []collector.Attachment{
			{Program: "trace_exec"},
		},
		Registry:     registry,
		LaneCapacity: viper.GetInt("events.lane_capacity"),
		PollTimeout:  viper.GetDuration("events.poll_timeout"),
		HandleRecord: func(d event.Data) { records <- d },
	})
	if err != nil {
		return err
	}
	defer c.Close()

	uid := uint32(unix.Getuid())

	if msg := viper.GetString("hello.message"); msg != "" {
		config, _ := c.Map("config")
		key := make([]byte, 4)
		binary.LittleEndian.PutUint32(key, uid)
		val := make([]byte, 12)
		copy(val[:11], msg)
		if err := config.Put(key, val); err != nil {
			return fmt.Errorf("seeding greeting: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	err = registry.FireSymbol("sys_execve", &vm.Context{
		PID:  uint32(unix.Getpid()),
		TGID: uint32(unix.Getpid()),
		UID:  uid,
		GID:  uint32(unix.Getgid()),
		Comm: "hookwire",
	})
	if err != nil {
		return fmt.Errorf("firing sys_execve: %w", err)
	}

	select {
	case rec := <-records:
		fmt.Printf("%s pid=%d uid=%d comm=%s: %s\n",
			rec.Provenance, rec.Pid, rec.UID, rec.CommString(), rec.MessageString())
	case <-time.After(time.Second):
		return errors.New("no record arrived")
	}

	cancel()
	return <-done
}
