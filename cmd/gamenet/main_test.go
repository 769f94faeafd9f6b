package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/YiuTerran/go-gamenet/config"
	"github.com/YiuTerran/go-gamenet/module"
	"github.com/YiuTerran/go-gamenet/network"
	"github.com/YiuTerran/go-gamenet/network/client"
	"github.com/YiuTerran/go-gamenet/network/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Equal(t, "gamenet dev\n", out.String())
}

func startEcho(t *testing.T) (*networkModule, func()) {
	cfg, err := config.Default()
	require.NoError(t, err)
	cfg.Network.Transports = []config.Transport{
		{Kind: "tcp", Address: "127.0.0.1:0"},
		{Kind: "websocket", Address: "127.0.0.1:0", Path: "/game"},
	}
	cfg.Metrics.Address = "127.0.0.1:0"
	mods, err := buildModules(cfg)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	s := module.NewServer()
	require.NoError(t, s.Load(mods...))
	return mods[0].(*networkModule), s.Destroy
}

func TestEchoApplication(t *testing.T) {
	nm, stop := startEcho(t)
	defer stop()
	addr := nm.svc.Addrs()[network.TCP].String()

	c, err := client.Dial(network.TCP, addr)
	require.NoError(t, err)
	defer c.Close()

	rtt, err := ping(c, 7)
	require.NoError(t, err)
	assert.Positive(t, rtt)

	frame, err := c.Request([]byte(`{"Echo":{"text":"hello"}}`), packet.JSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Echo":{"text":"hello"}}`, string(frame.Payload))

	frame, err = c.Request([]byte(`{"Login":{"player":"p1"}}`), packet.JSON)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Login":{"player":"p1"}}`, string(frame.Payload))
	sessions := nm.svc.Manager().Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "p1", sessions[0].Owner())

	frame, err = c.Request([]byte(`{"Bye":{}}`), packet.JSON)
	require.NoError(t, err)
	assert.True(t, frame.Header.Last)
	_, err = c.Recv()
	assert.Error(t, err)
}

func TestPingCommand(t *testing.T) {
	nm, stop := startEcho(t)
	defer stop()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"ping", "-t", "ws", "--path", "/game", "-n", "2", nm.svc.Addrs()[network.WebSocket].String()})
	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "seq=1")
	assert.Contains(t, out.String(), "seq=2")
}

func TestPingMessageLayout(t *testing.T) {
	data, err := json.Marshal(map[string]Ping{"Ping": {Seq: 1, SentAt: 2}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Ping":{"seq":1,"sentAt":2}}`, string(data))
}
