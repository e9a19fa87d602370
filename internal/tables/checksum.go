package tables

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeChecksum computes a SHA256 checksum for the given data.
func ComputeChecksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

// SchemaHash fingerprints a generated CREATE statement.
func SchemaHash(statement string) string {
	return ComputeChecksum([]byte(statement))
}
