package speech

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// decompressPayload 按帧头声明的方式解压负载
func decompressPayload(data []byte, method CompressionMethod) ([]byte, error) {
	switch method {
	case NoCompression:
		return data, nil
	case GzipCompression:
		reader, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer reader.Close()
		return io.ReadAll(reader)
	default:
		return nil, fmt.Errorf("unsupported compression method: %d", method)
	}
}
