// common/configloader/configloader.go
package configloader

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load загружает конфиг в cfgPtr: defaults → YAML (если path != "") → ENV.
// envPrefix — префикс ENV переменных, например "EVENT_PRODUCER":
// ключ batcher.max_batch_bytes читается из EVENT_PRODUCER_BATCHER_MAX_BATCH_BYTES.
func Load(path, envPrefix string, defaults map[string]interface{}, cfgPtr interface{}) error {
	v := viper.New()

	// Шаг 1: defaults
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	// Шаг 2: environment override
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Шаг 3: read file (if provided)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("configloader: read config %q: %w", path, err)
		}
	}

	// Шаг 4: decode. AllSettings учитывает ENV только для известных ключей,
	// поэтому каждый ключ конфига обязан иметь default.
	if err := decode(v.AllSettings(), cfgPtr); err != nil {
		return fmt.Errorf("configloader: decode failed: %w", err)
	}

	// Шаг 5: validate if possible
	if vv, ok := cfgPtr.(interface{ Validate() error }); ok {
		if err := vv.Validate(); err != nil {
			return fmt.Errorf("configloader: validation failed: %w", err)
		}
	}

	return nil
}
