package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// fileConfig is the TOML representation of the relay settings. Every key maps
// onto exactly one env var so that the file can be layered underneath the
// environment without a second validation path.
type fileConfig struct {
	ListenAddr      string `toml:"listen_addr"`
	PublicBaseURL   string `toml:"public_base_url"`
	Mode            string `toml:"mode"`
	LogFormat       string `toml:"log_format"`
	LogLevel        string `toml:"log_level"`
	ShutdownTimeout string `toml:"shutdown_timeout"`

	AllowedOrigins []string `toml:"allowed_origins"`

	BindAdminEndpoint      bool   `toml:"bind_admin_endpoint"`
	RelayNonAddressed      bool   `toml:"relay_non_addressed"`
	ObserverDispatch       string `toml:"observer_dispatch"`
	MaxAsyncObservers      int    `toml:"max_async_observers"`
	RetiredPeerIDCacheSize int    `toml:"retired_peer_id_cache_size"`
	PeerSendQueueLength    int    `toml:"peer_send_queue_length"`

	SignalingWSIdleTimeout        string `toml:"signaling_ws_idle_timeout"`
	SignalingWSPingInterval       string `toml:"signaling_ws_ping_interval"`
	MaxSignalingMessageBytes      int64  `toml:"max_signaling_message_bytes"`
	MaxSignalingMessagesPerSecond int    `toml:"max_signaling_messages_per_second"`

	ICEServersJSON string   `toml:"ice_servers_json"`
	StunURLs       []string `toml:"stun_urls"`
	TurnURLs       []string `toml:"turn_urls"`
	TurnUsername   string   `toml:"turn_username"`
	TurnCredential string   `toml:"turn_credential"`

	TURNRESTSharedSecret   string `toml:"turn_rest_shared_secret"`
	TURNRESTTTLSeconds     int64  `toml:"turn_rest_ttl_seconds"`
	TURNRESTUsernamePrefix string `toml:"turn_rest_username_prefix"`
	TURNRESTRealm          string `toml:"turn_rest_realm"`
}

// loadFile decodes path and returns a lookup keyed by env var name containing
// only the keys the file defines.
func loadFile(path string) (func(string) (string, bool), error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, fmt.Errorf("load config file %q: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return nil, fmt.Errorf("load config file %q: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	values := map[string]string{}
	set := func(key, envVar, value string) {
		if meta.IsDefined(key) {
			values[envVar] = value
		}
	}

	set("listen_addr", envVarListenAddr, raw.ListenAddr)
	set("public_base_url", envVarPublicBaseURL, raw.PublicBaseURL)
	set("mode", envVarMode, raw.Mode)
	set("log_format", envVarLogFormat, raw.LogFormat)
	set("log_level", envVarLogLevel, raw.LogLevel)
	set("shutdown_timeout", envVarShutdownTimeout, raw.ShutdownTimeout)
	set("allowed_origins", envVarAllowedOrigins, strings.Join(raw.AllowedOrigins, ","))

	set("bind_admin_endpoint", envVarBindAdminEndpoint, strconv.FormatBool(raw.BindAdminEndpoint))
	set("relay_non_addressed", envVarRelayNonAddressed, strconv.FormatBool(raw.RelayNonAddressed))
	set("observer_dispatch", envVarObserverDispatch, raw.ObserverDispatch)
	set("max_async_observers", envVarMaxAsyncObservers, strconv.Itoa(raw.MaxAsyncObservers))
	set("retired_peer_id_cache_size", envVarRetiredPeerIDCacheSize, strconv.Itoa(raw.RetiredPeerIDCacheSize))
	set("peer_send_queue_length", envVarPeerSendQueueLength, strconv.Itoa(raw.PeerSendQueueLength))

	set("signaling_ws_idle_timeout", envVarSignalingWSIdleTimeout, raw.SignalingWSIdleTimeout)
	set("signaling_ws_ping_interval", envVarSignalingWSPingInterval, raw.SignalingWSPingInterval)
	set("max_signaling_message_bytes", envVarMaxSignalingMessageBytes, strconv.FormatInt(raw.MaxSignalingMessageBytes, 10))
	set("max_signaling_messages_per_second", envVarMaxSignalingMessagesPerSecond, strconv.Itoa(raw.MaxSignalingMessagesPerSecond))

	set("ice_servers_json", envICEServersJSON, raw.ICEServersJSON)
	set("stun_urls", envStunURLs, strings.Join(raw.StunURLs, ","))
	set("turn_urls", envTurnURLs, strings.Join(raw.TurnURLs, ","))
	set("turn_username", envTurnUsername, raw.TurnUsername)
	set("turn_credential", envTurnCredential, raw.TurnCredential)

	set("turn_rest_shared_secret", envVarTURNRESTSharedSecret, raw.TURNRESTSharedSecret)
	set("turn_rest_ttl_seconds", envVarTURNRESTTTLSeconds, strconv.FormatInt(raw.TURNRESTTTLSeconds, 10))
	set("turn_rest_username_prefix", envVarTURNRESTUsernamePrefix, raw.TURNRESTUsernamePrefix)
	set("turn_rest_realm", envVarTURNRESTRealm, raw.TURNRESTRealm)

	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}, nil
}

// layered returns a lookup that consults each source in order and returns the
// first non-empty value.
func layered(sources ...func(string) (string, bool)) func(string) (string, bool) {
	return func(key string) (string, bool) {
		for _, src := range sources {
			if v, ok := src(key); ok && v != "" {
				return v, true
			}
		}
		return "", false
	}
}

// configFileFromArgs finds --config before the full flag set is parsed, since
// the file supplies the defaults for every other flag.
func configFileFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return ""
		}
		for _, prefix := range []string{"--config", "-config"} {
			if arg == prefix {
				if i+1 < len(args) {
					return strings.TrimSpace(args[i+1])
				}
				return ""
			}
			if strings.HasPrefix(arg, prefix+"=") {
				return strings.TrimSpace(strings.TrimPrefix(arg, prefix+"="))
			}
		}
	}
	return ""
}
