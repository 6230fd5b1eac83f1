package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/spf13/viper"
)

const defaultDirPerm = 0700

const defaultConfigTemplate = `# This is a TOML config file for consensus-core.
# Any relative paths are resolved relative to the home directory,
# which is set by the --home flag.

home = "{{ .BaseConfig.RootDir }}"
db_backend = "{{ .BaseConfig.DBBackend }}"
db_dir = "{{ .BaseConfig.DataDir }}"
log_level = "{{ .BaseConfig.LogLevel }}"
log_format = "{{ .BaseConfig.LogFormat }}"

[network]
network_id = "{{ .Network.NetworkID }}"
self_id = "{{ .Network.SelfID }}"
listen_addr = "{{ .Network.ListenAddr }}"
seed_peers = []
rpc_timeout = "{{ .Network.RPCTimeout }}"
ban_threshold = {{ .Network.BanThreshold }}
peer_rate_limit = {{ .Network.PeerRateLimit }}
peer_rate_burst = {{ .Network.PeerRateBurst }}

[sync]
sample_k = {{ .Sync.SampleK }}

[consensus]
slot_duration = "{{ .Consensus.SlotDuration }}"
version = {{ .Consensus.Version }}

[instrumentation]
prometheus = {{ .Instrumentation.Prometheus }}
prometheus_listen_addr = "{{ .Instrumentation.PrometheusListenAddr }}"
namespace = "{{ .Instrumentation.Namespace }}"

[finance_index]
enabled = {{ .FinanceIndex.Enabled }}
conn_string = "{{ .FinanceIndex.ConnString }}"
`

var configTemplate *template.Template

func init() {
	tmpl := template.New("configFileTemplate")
	var err error
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root and data directories if they don't
// exist, mirroring the teacher's EnsureRoot.
func EnsureRoot(rootDir, dataDir string) error {
	if err := os.MkdirAll(rootDir, defaultDirPerm); err != nil {
		return fmt.Errorf("config: creating root dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(rootDir, dataDir), defaultDirPerm); err != nil {
		return fmt.Errorf("config: creating data dir: %w", err)
	}
	return nil
}

// WriteConfigFile renders cfg through the TOML template and writes it
// to path, for a diagnostic CLI's init command.
func WriteConfigFile(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return fmt.Errorf("config: rendering template: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), defaultDirPerm); err != nil {
		return fmt.Errorf("config: creating config dir: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// Load reads path (a TOML file) with viper and unmarshals it onto a
// copy of DefaultConfig, the way the teacher's ParseConfig unmarshals
// onto a pre-populated default before validating.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshaling %s: %w", path, err)
	}
	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}
