// Package config loads the environment-variable surface shared by every
// DGC service binary, generalizing the teacher's viper-based Load() from a
// YAML-plus-tenants layout to a flat env-var surface (no service in this
// system needs multi-tenant YAML).
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config is the union of every DGC service's environment variables. Each
// cmd/<service>/main.go reads only the fields relevant to it.
type Config struct {
	Port string `mapstructure:"port"`

	CertDBPath        string `mapstructure:"cert_db_path"`
	LedgerDBPath      string `mapstructure:"ledger_db_path"`
	MarketplaceDBPath string `mapstructure:"marketplace_db_path"`
	RiskDBPath        string `mapstructure:"risk_db_path"`
	ReconDBPath       string `mapstructure:"recon_db_path"`
	DisputeDBPath     string `mapstructure:"dispute_db_path"`

	IssuerPrivateKeyHex string `mapstructure:"issuer_private_key_hex"`

	LedgerAdapterURL         string `mapstructure:"ledger_adapter_url"`
	CertificateServiceURL    string `mapstructure:"certificate_service_url"`
	RiskStreamURL            string `mapstructure:"risk_stream_url"`
	ReconciliationServiceURL string `mapstructure:"reconciliation_service_url"`
	DisputeServiceURL        string `mapstructure:"dispute_service_url"`

	ChainRPCURL        string `mapstructure:"chain_rpc_url"`
	ChainPrivateKey    string `mapstructure:"chain_private_key"`
	DGCRegistryAddress string `mapstructure:"dgc_registry_address"`

	RiskAlertThreshold  float64 `mapstructure:"risk_alert_threshold"`
	RiskAlertWebhookURL string  `mapstructure:"risk_alert_webhook_url"`

	CustodyTotalGram           string `mapstructure:"custody_total_gram"`
	ReconMismatchThresholdGram string `mapstructure:"recon_mismatch_threshold_gram"`
	ReconIntervalSeconds       int    `mapstructure:"recon_interval_seconds"`

	ServiceAuthToken string `mapstructure:"service_auth_token"`

	DisputeAssignAllowedRoles  string `mapstructure:"dispute_assign_allowed_roles"`
	DisputeResolveAllowedRoles string `mapstructure:"dispute_resolve_allowed_roles"`
	ReconUnfreezeAllowedRoles  string `mapstructure:"recon_unfreeze_allowed_roles"`

	LogLevel            string `mapstructure:"log_level"`
	MetricsEnabled      bool   `mapstructure:"metrics_enabled"`
	MetricsPath         string `mapstructure:"metrics_path"`
	HTTPClientTimeoutMs int    `mapstructure:"http_client_timeout_ms"`

	OutboundRateLimitQPS   float64 `mapstructure:"outbound_rate_limit_qps"`
	OutboundRateLimitBurst int     `mapstructure:"outbound_rate_limit_burst"`
}

// Load reads the environment, where each setting's variable is its key in
// upper case (PORT, CERT_DB_PATH, ISSUER_PRIVATE_KEY_HEX, ...), falling back
// to a config.yaml in the working directory, if present, and returns the
// merged Config.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Unmarshal only sees environment values for keys viper already knows;
	// keys without a default below are bound explicitly.
	for _, key := range []string{
		"issuer_private_key_hex", "ledger_adapter_url", "certificate_service_url",
		"risk_stream_url", "reconciliation_service_url", "dispute_service_url",
		"chain_rpc_url", "chain_private_key", "dgc_registry_address",
		"risk_alert_webhook_url", "service_auth_token",
	} {
		_ = viper.BindEnv(key)
	}

	viper.SetDefault("port", "8080")
	viper.SetDefault("cert_db_path", "certauthority.db")
	viper.SetDefault("ledger_db_path", "ledgeradapter.db")
	viper.SetDefault("marketplace_db_path", "marketplace.db")
	viper.SetDefault("risk_db_path", "riskengine.db")
	viper.SetDefault("recon_db_path", "reconciliation.db")
	viper.SetDefault("dispute_db_path", "dispute.db")
	viper.SetDefault("risk_alert_threshold", 60.0)
	viper.SetDefault("custody_total_gram", "0.0000")
	viper.SetDefault("recon_mismatch_threshold_gram", "0.0000")
	viper.SetDefault("recon_interval_seconds", 0)
	viper.SetDefault("dispute_assign_allowed_roles", "ops_admin,ops_agent,admin")
	viper.SetDefault("dispute_resolve_allowed_roles", "ops_admin,ops_lead,admin")
	viper.SetDefault("recon_unfreeze_allowed_roles", "ops_admin,admin")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("metrics_enabled", true)
	viper.SetDefault("metrics_path", "/metrics")
	viper.SetDefault("http_client_timeout_ms", 5000)
	viper.SetDefault("outbound_rate_limit_qps", 50.0)
	viper.SetDefault("outbound_rate_limit_burst", 20)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
