package configloader

import (
	"github.com/mitchellh/mapstructure"
)

// decode раскладывает плоскую карту viper в структуру. ENV-значения приходят
// строками, поэтому включён WeaklyTypedInput ("42" → int, "true" → bool).
func decode(input map[string]interface{}, target interface{}) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           target,
		DecodeHook:       hook,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
