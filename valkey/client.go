package valkeystore

import (
	"fmt"
	"strings"

	"github.com/valkey-io/valkey-go"
	"github.com/valkey-io/valkey-go/valkeycompat"
	"go.uber.org/zap"

	"video-tagging-api/utils"
)

var Client valkeycompat.Cmdable
var RawClient valkey.Client

// InitValkey connects to the configured Valkey server, or to the master
// behind the configured sentinels. Only pub/sub is used, so client-side
// caching stays off.
func InitValkey(cfg *utils.Config, logger *zap.Logger) error {
	var vk valkey.Client
	var err error

	if cfg.ValkeyUseSentinel {
		if cfg.ValkeySentinelAddress == "" {
			return fmt.Errorf("VALKEY_USE_SENTINEL is true but VALKEY_SENTINEL_ADDRESS is not set")
		}
		parts := strings.Split(cfg.ValkeySentinelAddress, ",")
		sentinels := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				sentinels = append(sentinels, p)
			}
		}

		logger.Info("Initializing distributed cache service with sentinel configuration")

		vk, err = valkey.NewClient(valkey.ClientOption{
			InitAddress: sentinels,
			Sentinel: valkey.SentinelOption{
				MasterSet: cfg.ValkeySentinelMasterName,
			},
			DisableCache: true,
		})
	} else {
		logger.Info("Initializing cache service")

		vk, err = valkey.NewClient(valkey.ClientOption{
			InitAddress:  []string{fmt.Sprintf("%s:%s", cfg.ValkeyHost, cfg.ValkeyPort)},
			DisableCache: true,
		})
	}

	if err != nil {
		return fmt.Errorf("failed to connect to valkey: %w", err)
	}

	RawClient = vk
	Client = valkeycompat.NewAdapter(vk)
	logger.Info("Cache service initialized successfully")
	return nil
}

// CloseValkey closes the connection opened by InitValkey.
func CloseValkey(logger *zap.Logger) {
	if RawClient != nil {
		logger.Info("Closing cache connection")
		RawClient.Close()
	}
}
