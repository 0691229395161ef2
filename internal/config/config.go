// Package config loads the board configuration for a tpmd daemon instance
// from flags, environment variables (TPM_ prefix) and an optional YAML file,
// the same layered precedence package policy's BoardConfig is built from.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/oxplot/go-typec-tpm/pdmsg"
	"github.com/oxplot/go-typec-tpm/policy"
	"github.com/oxplot/go-typec-tpm/tcdpm"
)

// PDOEntry is the YAML/flag-friendly description of one advertised power
// profile, decoded into a pdmsg.PDO by Config.BoardConfig.
type PDOEntry struct {
	Type       string `mapstructure:"type"` // "fixed", "variable", "battery"
	VoltageMV  uint16 `mapstructure:"voltage_mv"`
	MaxVoltMV  uint16 `mapstructure:"max_voltage_mv"` // variable/battery only
	MinVoltMV  uint16 `mapstructure:"min_voltage_mv"` // variable/battery only
	MaxCurrMA  uint16 `mapstructure:"max_current_ma"`
	MaxPowerMW uint16 `mapstructure:"max_power_mw"` // battery only
}

// Config is the daemon-level configuration: the board config of its single
// port plus process-wide logging, I2C and server settings.
type Config struct {
	LogLevel string `mapstructure:"log_level"`

	I2CBus     string `mapstructure:"i2c_bus"`
	I2CAddress uint8  `mapstructure:"i2c_address"`

	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	PortType    string `mapstructure:"port_type"` // "sink", "source", "drp"
	DefaultRole string `mapstructure:"default_role"`

	SrcPDO []PDOEntry `mapstructure:"src_pdo"`
	SnkPDO []PDOEntry `mapstructure:"snk_pdo"`

	MaxSinkVoltageMV    uint16 `mapstructure:"max_sink_voltage_mv"`
	MaxSinkCurrentMA    uint16 `mapstructure:"max_sink_current_ma"`
	MaxSinkPowerMW      uint16 `mapstructure:"max_sink_power_mw"`
	OperatingSinkPowerMW uint16 `mapstructure:"operating_sink_power_mw"`

	// SinkDPM names a built-in device policy manager (see package tcdpm)
	// that overrides the default sink PDO selection: "", "cc", "cv" or "cp".
	SinkDPM            string `mapstructure:"sink_dpm"`
	SinkDPMMinVoltageMV uint16 `mapstructure:"sink_dpm_min_voltage_mv"`
	SinkDPMMaxVoltageMV uint16 `mapstructure:"sink_dpm_max_voltage_mv"`
	SinkDPMMinCurrentMA uint16 `mapstructure:"sink_dpm_min_current_ma"`
	SinkDPMMaxCurrentMA uint16 `mapstructure:"sink_dpm_max_current_ma"`
	SinkDPMCurrentMA    uint16 `mapstructure:"sink_dpm_current_ma"`
	SinkDPMPowerMW      uint16 `mapstructure:"sink_dpm_power_mw"`
	SinkDPMPreferLowerV bool   `mapstructure:"sink_dpm_prefer_lower_voltage"`
	SinkDPMPreferPPS    bool   `mapstructure:"sink_dpm_prefer_pps"`
	SinkDPMLog          bool   `mapstructure:"sink_dpm_log"`
}

// Load builds a Config from cmd's flags, the TPM_-prefixed environment, and
// the file named by --config, in decreasing precedence.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if err := bindFlags(v, cmd); err != nil {
		return nil, fmt.Errorf("config: bind flags: %w", err)
	}

	v.SetEnvPrefix("TPM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("i2c_bus", "1")
	v.SetDefault("i2c_address", 0x22)
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("port_type", "sink")
	v.SetDefault("default_role", "sink")
	v.SetDefault("max_sink_voltage_mv", 5000)
	v.SetDefault("sink_dpm_min_voltage_mv", 3300)
	v.SetDefault("sink_dpm_max_voltage_mv", 20000)
	v.SetDefault("sink_dpm_min_current_ma", 1000)
	v.SetDefault("sink_dpm_max_current_ma", 3000)
	v.SetDefault("sink_dpm_current_ma", 3000)
	v.SetDefault("sink_dpm_power_mw", 15000)
}

func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	bindings := map[string]string{
		"i2c-bus":                       "i2c_bus",
		"i2c-address":                   "i2c_address",
		"http-addr":                     "http_addr",
		"metrics-addr":                  "metrics_addr",
		"port-type":                     "port_type",
		"log-level":                     "log_level",
		"sink-dpm":                      "sink_dpm",
		"sink-dpm-min-voltage-mv":       "sink_dpm_min_voltage_mv",
		"sink-dpm-max-voltage-mv":       "sink_dpm_max_voltage_mv",
		"sink-dpm-min-current-ma":       "sink_dpm_min_current_ma",
		"sink-dpm-max-current-ma":       "sink_dpm_max_current_ma",
		"sink-dpm-current-ma":           "sink_dpm_current_ma",
		"sink-dpm-power-mw":             "sink_dpm_power_mw",
		"sink-dpm-prefer-lower-voltage": "sink_dpm_prefer_lower_voltage",
		"sink-dpm-prefer-pps":           "sink_dpm_prefer_pps",
		"sink-dpm-log":                  "sink_dpm_log",
	}
	for flag, key := range bindings {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.PortType) {
	case "sink", "source", "drp":
	default:
		return fmt.Errorf("invalid port_type: %q (must be sink, source or drp)", cfg.PortType)
	}
	switch strings.ToLower(cfg.SinkDPM) {
	case "", "cc", "cv", "cp":
	default:
		return fmt.Errorf("invalid sink_dpm: %q (must be \"\", cc, cv or cp)", cfg.SinkDPM)
	}
	if len(cfg.SrcPDO) == 0 {
		cfg.SrcPDO = []PDOEntry{{Type: "fixed", VoltageMV: 5000, MaxCurrMA: 900}}
	}
	if len(cfg.SnkPDO) == 0 {
		cfg.SnkPDO = []PDOEntry{{Type: "fixed", VoltageMV: 5000, MaxCurrMA: 1500}}
	}
	if cfg.SrcPDO[0].VoltageMV != 5000 {
		return fmt.Errorf("src_pdo[0] must be the vSafe5V fixed profile")
	}
	return nil
}

// BoardConfig converts the decoded PDO entries and role settings into the
// policy.BoardConfig the port state machine consumes. log is only used to
// back a SinkDPM: "log" wrapper (see package tcdpm's Logger) and may be nil
// when SinkDPMLog is false.
func (c *Config) BoardConfig(log *logrus.Entry) (policy.BoardConfig, error) {
	srcPDO, err := decodePDOs(c.SrcPDO)
	if err != nil {
		return policy.BoardConfig{}, fmt.Errorf("src_pdo: %w", err)
	}
	snkPDO, err := decodePDOs(c.SnkPDO)
	if err != nil {
		return policy.BoardConfig{}, fmt.Errorf("snk_pdo: %w", err)
	}

	var portType policy.PortType
	switch strings.ToLower(c.PortType) {
	case "source":
		portType = policy.PortTypeSource
	case "drp":
		portType = policy.PortTypeDRP
	default:
		portType = policy.PortTypeSink
	}

	defaultRole := pdmsg.PowerRoleSink
	if strings.EqualFold(c.DefaultRole, "source") {
		defaultRole = pdmsg.PowerRoleSource
	}

	dpm, err := c.sinkDPM(log)
	if err != nil {
		return policy.BoardConfig{}, fmt.Errorf("sink_dpm: %w", err)
	}

	return policy.BoardConfig{
		SrcPDO:         srcPDO,
		SnkPDO:         snkPDO,
		MaxSnkMV:       c.MaxSinkVoltageMV,
		MaxSnkMA:       c.MaxSinkCurrentMA,
		MaxSnkMW:       c.MaxSinkPowerMW,
		OperatingSnkMW: c.OperatingSinkPowerMW,
		PortType:       portType,
		DefaultRole:    defaultRole,
		DPM:            dpm,
	}, nil
}

// sinkDPM builds the tcdpm policy named by SinkDPM, optionally wrapped in a
// logging passthrough, as a policy.CapabilityEvaluator. It returns a nil
// evaluator (and nil error) when SinkDPM is unset and SinkDPMLog is false,
// leaving the board on package policy's default selection; with SinkDPM
// unset and SinkDPMLog true it returns a Logger with no base policy.
func (c *Config) sinkDPM(log *logrus.Entry) (policy.CapabilityEvaluator, error) {
	mode := tcdpm.Mode(strings.ToLower(c.SinkDPM))
	base, err := tcdpm.NewFromMode(mode, tcdpm.Params{
		MinVoltageMV: c.SinkDPMMinVoltageMV,
		MaxVoltageMV: c.SinkDPMMaxVoltageMV,
		MinCurrentMA: c.SinkDPMMinCurrentMA,
		MaxCurrentMA: c.SinkDPMMaxCurrentMA,
		CurrentMA:    c.SinkDPMCurrentMA,
		PowerMW:      c.SinkDPMPowerMW,
		PreferLowerV: c.SinkDPMPreferLowerV,
		PreferPPS:    c.SinkDPMPreferPPS,
	})
	if err != nil {
		return nil, err
	}
	if base == nil {
		if !c.SinkDPMLog {
			return nil, nil
		}
		return tcdpm.NewLogger(log, nil), nil
	}
	if c.SinkDPMLog {
		return tcdpm.NewLogger(log, base), nil
	}
	return base, nil
}

func decodePDOs(entries []PDOEntry) ([]pdmsg.PDO, error) {
	pdos := make([]pdmsg.PDO, 0, len(entries))
	for i, e := range entries {
		switch strings.ToLower(e.Type) {
		case "", "fixed":
			p := pdmsg.NewFixedSupplyPDO()
			p.SetVoltage(e.VoltageMV)
			p.SetMaxCurrent(e.MaxCurrMA)
			pdos = append(pdos, pdmsg.PDO(p))
		case "variable":
			p := pdmsg.NewVariableSupplyPDO()
			p.SetMinVoltage(e.MinVoltMV)
			p.SetMaxVoltage(e.MaxVoltMV)
			p.SetMaxCurrent(e.MaxCurrMA)
			pdos = append(pdos, pdmsg.PDO(p))
		case "battery":
			p := pdmsg.NewBatterySupplyPDO()
			p.SetMinVoltage(e.MinVoltMV)
			p.SetMaxVoltage(e.MaxVoltMV)
			p.SetMaxPower(e.MaxPowerMW)
			pdos = append(pdos, pdmsg.PDO(p))
		default:
			return nil, fmt.Errorf("pdo[%d]: unknown type %q", i, e.Type)
		}
	}
	return pdos, nil
}

func getHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
