package proxy

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/law-makers/newsfetch/internal/config"
	"github.com/law-makers/newsfetch/internal/logging"
	"github.com/law-makers/newsfetch/internal/metrics"
)

// FromConfig builds a Manager from the proxy section of cfg. Identities come
// from the smartproxy gateway (one per port), CUSTOM_PROXIES and --proxy.
func FromConfig(cfg *config.Config, m *metrics.Metrics) (*Manager, error) {
	logger := logging.WithComponent("proxy")

	var ids []*Identity

	if cfg.SmartproxyUsername != "" && cfg.SmartproxyPassword != "" && cfg.SmartproxyEndpoint != "" {
		ports := append([]int{cfg.SmartproxyPort}, cfg.SmartproxyExtraPorts...)
		for _, port := range ports {
			if port <= 0 {
				continue
			}
			ids = append(ids, &Identity{
				Server:   net.JoinHostPort(cfg.SmartproxyEndpoint, strconv.Itoa(port)),
				Username: cfg.SmartproxyUsername,
				Password: cfg.SmartproxyPassword,
				Protocol: "http",
			})
		}
		logger.Info().Str("endpoint", cfg.SmartproxyEndpoint).Int("ports", len(ports)).Msg("Added smartproxy gateway")
	} else if cfg.ProxyEnabled && (cfg.SmartproxyUsername != "" || cfg.SmartproxyPassword != "") {
		logger.Warn().Msg("Smartproxy configuration is incomplete, skipping")
	}

	custom, err := ParseList(cfg.CustomProxies)
	if err != nil {
		return nil, fmt.Errorf("custom proxies: %w", err)
	}
	if len(custom) > 0 {
		logger.Info().Int("count", len(custom)).Msg("Added custom proxies")
	}
	ids = append(ids, custom...)

	if cfg.Proxy != "" {
		id, err := Parse(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if cfg.ProxyEnabled && len(ids) == 0 {
		logger.Warn().Msg("Proxying enabled but no proxies configured")
	}

	return NewManager(Options{
		Enabled:           cfg.ProxyEnabled,
		RotationInterval:  cfg.RotationInterval,
		MaxRequests:       cfg.MaxRequestsPerIdentity,
		BlacklistDuration: cfg.BlacklistDuration,
		TestURL:           cfg.ProxyTestURL,
		Metrics:           m,
	}, ids...), nil
}

// ParseList reads either a JSON array (of URL strings or
// {"server","username","password","protocol"} objects) or a comma-separated
// list of proxy URLs.
func ParseList(raw string) ([]*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	if strings.HasPrefix(raw, "[") {
		var items []json.RawMessage
		if err := json.Unmarshal([]byte(raw), &items); err != nil {
			return nil, fmt.Errorf("invalid JSON proxy list: %w", err)
		}

		ids := make([]*Identity, 0, len(items))
		for _, item := range items {
			var s string
			if err := json.Unmarshal(item, &s); err == nil {
				id, err := Parse(s)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
				continue
			}

			var obj struct {
				Server   string `json:"server"`
				Username string `json:"username"`
				Password string `json:"password"`
				Protocol string `json:"protocol"`
			}
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, fmt.Errorf("invalid proxy entry %s: %w", string(item), err)
			}
			if obj.Server == "" {
				return nil, fmt.Errorf("proxy entry without server")
			}
			if obj.Protocol == "" {
				obj.Protocol = "http"
			}
			ids = append(ids, &Identity{
				Server:   obj.Server,
				Username: obj.Username,
				Password: obj.Password,
				Protocol: strings.ToLower(obj.Protocol),
			})
		}
		return ids, nil
	}

	var ids []*Identity
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		id, err := Parse(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
