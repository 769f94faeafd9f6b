package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/client"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/spf13/cobra"
)

func newPingCmd() *cobra.Command {
	var (
		transport string
		path      string
		count     int
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping <address>",
		Short: "Send Ping messages to a running server and print round trip times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := network.ParseTransportKind(transport)
			if err != nil {
				return err
			}
			c, err := client.Dial(kind, args[0], client.WithPath(path), client.WithTimeout(timeout))
			if err != nil {
				return err
			}
			defer c.Close()
			out := cmd.OutOrStdout()
			for seq := int64(1); seq <= int64(count); seq++ {
				rtt, err := ping(c, seq)
				if err != nil {
					return fmt.Errorf("ping %d: %w", seq, err)
				}
				fmt.Fprintf(out, "seq=%d time=%v\n", seq, rtt)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&transport, "transport", "t", "tcp", "tcp|udp|kcp|websocket")
	cmd.Flags().StringVar(&path, "path", "/", "websocket path")
	cmd.Flags().IntVarP(&count, "count", "n", 3, "number of pings")
	cmd.Flags().DurationVar(&timeout, "timeout", client.DefaultTimeout, "dial and reply timeout")
	return cmd
}

func ping(c *client.Client, seq int64) (time.Duration, error) {
	start := time.Now()
	req, err := json.Marshal(map[string]Ping{"Ping": {Seq: seq, SentAt: start.UnixMilli()}})
	if err != nil {
		return 0, err
	}
	frame, err := c.Request(req, packet.JSON)
	if err != nil {
		return 0, err
	}
	var resp map[string]Pong
	if err = json.Unmarshal(frame.Payload, &resp); err != nil {
		return 0, err
	}
	pong, ok := resp["Pong"]
	if !ok || pong.Seq != seq {
		return 0, fmt.Errorf("unexpected reply %s", frame.Payload)
	}
	return time.Since(start), nil
}
