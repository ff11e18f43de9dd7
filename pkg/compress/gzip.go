package compress

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// CompressedSuffix marks an output file as gzip-compressed.
const CompressedSuffix = ".gz"

// Compress gzips the job's buffer and returns the result with the suffixed
// file name and a sha256 hex checksum computed over the compressed bytes.
func Compress(job Job) (Result, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(job.Data); err != nil {
		return Result{}, fmt.Errorf("compress %s: %w", job.FileName, err)
	}
	if err := zw.Close(); err != nil {
		return Result{}, fmt.Errorf("compress %s: %w", job.FileName, err)
	}

	compressed := buf.Bytes()
	digest := sha256.Sum256(compressed)

	return Result{
		ID:       job.ID,
		FileName: job.FileName + CompressedSuffix,
		Data:     compressed,
		Checksum: hex.EncodeToString(digest[:]),
	}, nil
}
