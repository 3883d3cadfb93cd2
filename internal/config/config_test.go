package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fixtureSession = `{
	"gateway": "203.0.113.10:4501",
	"c2s-spi": "0x54C277B0",
	"s2c-spi": "0x28E7990F",
	"ekey-c2s": "510f909f4014dfec78b3bb8c7cbe86ac",
	"akey-c2s": "678c7e80dd68ee69e1279da28054186de9ec113c",
	"ekey-s2c": "510f909f4014dfec78b3bb8c7cbe86ac",
	"akey-s2c": "678c7e80dd68ee69e1279da28054186de9ec113c"
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadClient(t *testing.T) {
	path := writeConfig(t, `{
		"role": "client",
		"relay": "ws://relay.example:8443/relay",
		"tcp-forwards": [{"listen": "127.0.0.1:8080", "target": "10.0.0.5:80"}],
		"udp-forwards": [{"listen": "127.0.0.1:5353", "target": "10.0.0.53:53"}],
		"session": `+fixtureSession+`,
		"probe-interval": "5s"
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, RoleClient, cfg.Role)
	require.Equal(t, 5*time.Second, time.Duration(cfg.ProbeInterval))
	require.Equal(t, DefaultKeepAlive, time.Duration(cfg.KeepAlive))

	pair, err := cfg.Session.Pair()
	require.NoError(t, err)
	require.Equal(t, uint32(0x54C277B0), pair.Outbound.SPI)
	require.Equal(t, uint32(0x28E7990F), pair.Inbound.SPI)
	require.Equal(t, byte(0x51), pair.Outbound.EncKey[0])
	require.Equal(t, byte(0x3c), pair.Inbound.MacKey[19])
	require.False(t, pair.Outbound.AuthHeader)
}

func TestLoadRelayDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{"role": "relay"}`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultRelayListen, cfg.Listen)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"role": `))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `{"role": "relay", "keepalive": 30}`))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"unknown role", Config{Role: "host"}},
		{"client without work", Config{Role: RoleClient}},
		{"forwards without relay", Config{Role: RoleClient, TCPForwards: []Forward{{Listen: ":1", Target: "10.0.0.1:80"}}}},
		{"bad target", Config{Role: RoleClient, Relay: "r:1", TCPForwards: []Forward{{Listen: ":1", Target: "example.com:80"}}}},
		{"missing listen", Config{Role: RoleClient, Relay: "r:1", UDPForwards: []Forward{{Target: "10.0.0.1:53"}}}},
		{"short key", Config{Role: RoleClient, Session: &SessionParams{
			Gateway: "gw:4501", C2SSPI: "1", S2CSPI: "2",
			EKeyC2S: "00", AKeyC2S: "00", EKeyS2C: "00", AKeyS2C: "00",
		}}},
		{"bad spi", Config{Role: RoleClient, Session: &SessionParams{Gateway: "gw:4501", C2SSPI: "zz"}}},
		{"relay without listen", Config{Role: RoleRelay}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.ErrorIs(t, tt.cfg.Validate(), ErrInvalid)
		})
	}
}
