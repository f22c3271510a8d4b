package store

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"

	"github.com/rickgao/feedsync/internal/model"
)

// Record is one decoded line of a partition file.
type Record struct {
	TsMs       int64           `json:"ts_ms"`
	Symbol     string          `json:"symbol"`
	Kind       model.EventKind `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	PayloadB64 string          `json:"payload_b64,omitempty"`
}

// Raw decodes the base64 payload of a raw-frame record.
func (r Record) Raw() ([]byte, error) {
	if r.PayloadB64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.PayloadB64)
}

// ReadFile decodes every record in a partition file.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Record
	err = Scan(f, func(r Record) error {
		out = append(out, r)
		return nil
	})
	return out, err
}

// Scan streams records from a concatenation of zstd frames.
func Scan(r io.Reader, fn func(Record) error) error {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return fmt.Errorf("open zstd stream: %w", err)
	}
	defer dec.Close()

	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("decompress: %w", err)
	}
	return nil
}
