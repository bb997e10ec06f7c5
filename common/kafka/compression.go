// common/kafka/compression.go
package kafka

import (
	"fmt"
	"strings"
)

// Compression — алгоритм сжатия пачки. Передаётся явно, без глобальных
// реестров кодеков.
type Compression string

const (
	CompressionNone   Compression = "none"
	CompressionGzip   Compression = "gzip"
	CompressionSnappy Compression = "snappy"
	CompressionLZ4    Compression = "lz4"
	CompressionZstd   Compression = "zstd"
)

// ParseCompression разбирает имя кодека без учёта регистра.
// Пустая строка → none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionGzip, CompressionSnappy, CompressionLZ4, CompressionZstd:
		return c, nil
	default:
		return "", fmt.Errorf("kafka: invalid compression %q", s)
	}
}

func (c Compression) String() string { return string(c) }
