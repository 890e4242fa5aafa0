// Package gwconfig loads the gateway's static and dynamic configuration
// files. Both are plain JSON objects on disk (conf/static.conf and
// conf/dynamic.conf); parsing them is intentionally simple — the wire
// format itself is the external contract, not a place for a generalised
// config framework.
package gwconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// StaticConfig mirrors conf/static.conf. It is immutable for the life of
// the process once loaded.
type StaticConfig struct {
	GatewayID          [6]byte
	GatewaySecureKey   [16]byte
	GatewayPort        uint16
	DBType             string
	PlatformManagerIP  string
	PlatformManagerPort uint16
	WorkerPoolSize     uint8
}

// staticConfigWire is the on-disk JSON shape: gw_id, secure_key,
// gw_port, db_type, platform_gw_manager_ip, platform_gw_manager_port,
// thread_pool_size.
type staticConfigWire struct {
	GwID                  string `json:"gw_id"`
	SecureKey             string `json:"secure_key"`
	GwPort                uint16 `json:"gw_port"`
	DBType                string `json:"db_type"`
	PlatformGwManagerIP   string `json:"platform_gw_manager_ip"`
	PlatformGwManagerPort uint16 `json:"platform_gw_manager_port"`
	ThreadPoolSize        uint8  `json:"thread_pool_size"`
}

// DynamicConfig mirrors conf/dynamic.conf, obtained from the platform
// during authentication and immutable thereafter.
type DynamicConfig struct {
	DBAddr              string
	DBPort              uint16
	DBName              string
	DBUser              string
	DBPass              string
	TelemetrySendPeriod uint32
}

type dynamicConfigWire struct {
	DBAddr              string `json:"db_addr"`
	DBPort              uint16 `json:"db_port"`
	DBName              string `json:"db_name"`
	DBUser              string `json:"db_user"`
	DBPass              string `json:"db_pass"`
	TelemetrySendPeriod uint32 `json:"telemetry_send_period"`
}

// LoadStatic reads and parses conf/static.conf from path.
func LoadStatic(path string) (*StaticConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read static config: %w", err)
	}

	var wire staticConfigWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse static config: %w", err)
	}

	id, err := parseColonHex(wire.GwID, 6)
	if err != nil {
		return nil, fmt.Errorf("static config gw_id: %w", err)
	}
	key, err := parseColonHex(wire.SecureKey, 16)
	if err != nil {
		return nil, fmt.Errorf("static config secure_key: %w", err)
	}

	cfg := &StaticConfig{
		GatewayPort:         wire.GwPort,
		DBType:              wire.DBType,
		PlatformManagerIP:   wire.PlatformGwManagerIP,
		PlatformManagerPort: wire.PlatformGwManagerPort,
		WorkerPoolSize:      wire.ThreadPoolSize,
	}
	copy(cfg.GatewayID[:], id)
	copy(cfg.GatewaySecureKey[:], key)
	return cfg, nil
}

// LoadDynamic reads and parses conf/dynamic.conf from path.
func LoadDynamic(path string) (*DynamicConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dynamic config: %w", err)
	}

	var wire dynamicConfigWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("parse dynamic config: %w", err)
	}

	return &DynamicConfig{
		DBAddr:              wire.DBAddr,
		DBPort:              wire.DBPort,
		DBName:              wire.DBName,
		DBUser:              wire.DBUser,
		DBPass:              wire.DBPass,
		TelemetrySendPeriod: wire.TelemetrySendPeriod,
	}, nil
}

// parseColonHex parses a "aa:bb:cc:..." hex string into exactly n bytes.
func parseColonHex(s string, n int) ([]byte, error) {
	parts := strings.Split(s, ":")
	if len(parts) != n {
		return nil, fmt.Errorf("expected %d colon-separated hex bytes, got %d", n, len(parts))
	}
	out := make([]byte, n)
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid hex byte %q: %w", p, err)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// DSN builds a libpq-compatible connection string for database/sql.
func (d *DynamicConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		d.DBAddr, d.DBPort, d.DBName, d.DBUser, d.DBPass,
	)
}

// ApplyEnvOverrides lets an operator override a handful of static
// fields without touching conf/static.conf on disk; a set environment
// variable wins over the file.
func (s *StaticConfig) ApplyEnvOverrides() {
	if v := getEnvUint16("GW_LISTEN_PORT", 0); v != 0 {
		s.GatewayPort = v
	}
	if v := getEnvUint8("GW_WORKER_POOL_SIZE", 0); v != 0 {
		s.WorkerPoolSize = v
	}
}

// ConfigPaths resolves the on-disk locations of the static and dynamic
// config files, honouring GW_STATIC_CONF_PATH / GW_DYNAMIC_CONF_PATH
// when set.
func ConfigPaths(defaultStatic, defaultDynamic string) (staticPath, dynamicPath string) {
	return getEnvString("GW_STATIC_CONF_PATH", defaultStatic),
		getEnvString("GW_DYNAMIC_CONF_PATH", defaultDynamic)
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvUint16(key string, defaultVal uint16) uint16 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			return uint16(n)
		}
	}
	return defaultVal
}

func getEnvUint8(key string, defaultVal uint8) uint8 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 8); err == nil {
			return uint8(n)
		}
	}
	return defaultVal
}
