package configloader

import "encoding/json"

// Dump возвращает конфиг в читаемом JSON-виде (для dev-режима).
func Dump(v interface{}) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "<unprintable config: " + err.Error() + ">"
	}
	return string(b)
}
