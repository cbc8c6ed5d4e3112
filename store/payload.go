package store

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	"github.com/wgdzlh/sitelab/grid"
)

// encodePayload packs values in the layer's own pixel width and gzips them.
func encodePayload(dt grid.DataType, vals []float64) ([]byte, error) {
	raw, err := dt.Encode(vals)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodePayload(dt grid.DataType, blob []byte) ([]float64, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty layer payload")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("failed to inflate layer payload: %w", err)
	}
	return dt.Decode(raw)
}
