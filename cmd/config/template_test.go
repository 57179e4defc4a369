package config

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/pKV/cmd/util"
	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/spf13/viper"
)

func loadTemplate(t *testing.T, conf common.ServerConfig) *viper.Viper {
	t.Helper()

	var buf bytes.Buffer
	if err := WriteTemplate(&buf, conf, "binary"); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	if err := v.ReadConfig(&buf); err != nil {
		t.Fatalf("failed to read the template: %v\n%s", err, buf.String())
	}
	return v
}

func TestTemplateHoldsDefaults(t *testing.T) {
	want := common.DefaultServerConfig()
	v := loadTemplate(t, want)
	got := util.ServerConfigFrom(v)

	if err := got.Validate(); err != nil {
		t.Fatalf("template config is invalid: %v", err)
	}

	tests := []struct {
		name      string
		got, want interface{}
	}{
		{"transport", got.Transport.Kind, want.Transport.Kind},
		{"endpoint", got.Transport.Endpoint, want.Transport.Endpoint},
		{"max-connections", got.Transport.MaxConnections, want.Transport.MaxConnections},
		{"max-streams", got.Mux.MaxStreams, want.Mux.MaxStreams},
		{"stream-open-timeout", got.Mux.StreamOpenTimeout, want.Mux.StreamOpenTimeout},
		{"security", got.Security.Mode, want.Security.Mode},
		{"handshake-timeout", got.Security.HandshakeTimeout, want.Security.HandshakeTimeout},
		{"compression", got.Frame.Compression, want.Frame.Compression},
		{"compression-threshold", got.Frame.CompressionThreshold, want.Frame.CompressionThreshold},
		{"max-frame-size", got.Frame.MaxFrameSize, want.Frame.MaxFrameSize},
		{"engine", got.Storage.Engine, want.Storage.Engine},
		{"data-dir", got.Storage.DataDir, want.Storage.DataDir},
		{"delivery-buffer", got.PubSub.DeliveryBuffer, want.PubSub.DeliveryBuffer},
		{"log-level", got.LogLevel, want.LogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}

	if s := v.GetString("serializer"); s != "binary" {
		t.Errorf("serializer = %q, want binary", s)
	}
}

func TestTemplateCustomValues(t *testing.T) {
	conf := common.DefaultServerConfig()
	conf.Transport.Kind = common.TransportQUIC
	conf.Security = common.SecurityConf{
		Mode:             common.SecurityTLS,
		TLS:              common.TLSConf{CertFile: "server.pem", KeyFile: "server.key", CAFile: "ca.pem"},
		HandshakeTimeout: 3 * time.Second,
	}
	conf.Storage = common.StorageConf{Engine: common.EngineBadger, DataDir: "/var/lib/pkv"}

	got := util.ServerConfigFrom(loadTemplate(t, conf))
	if got.Transport.Kind != common.TransportQUIC || got.Security.TLS != conf.Security.TLS {
		t.Errorf("unexpected transport settings %+v %+v", got.Transport, got.Security)
	}
	if got.Security.HandshakeTimeout != 3*time.Second {
		t.Errorf("handshake-timeout = %s, want 3s", got.Security.HandshakeTimeout)
	}
	if got.Storage != conf.Storage {
		t.Errorf("storage = %+v, want %+v", got.Storage, conf.Storage)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("config is invalid: %v", err)
	}
}

func TestTemplateIsCommented(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteTemplate(&buf, common.DefaultServerConfig(), "binary"); err != nil {
		t.Fatalf("WriteTemplate failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "# pKV server configuration") {
		t.Errorf("expected the template to start with its header")
	}
	if !strings.Contains(buf.String(), `engine = "maple"`) {
		t.Errorf("expected the engine key in the template:\n%s", buf.String())
	}
}
