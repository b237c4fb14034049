package classifier

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/keyprint/keyprint/internal/domain/feature"
)

// Encode serializes the artifact as zstd-compressed CBOR.
func (a *Artifact) Encode() ([]byte, error) {
	raw, err := cbor.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", ErrArtifactCodec, err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd writer: %v", ErrArtifactCodec, err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

// Decode deserializes an artifact and rejects mismatched schema versions.
func Decode(data []byte) (*Artifact, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd reader: %v", ErrArtifactCodec, err)
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrArtifactCodec, err)
	}

	var a Artifact
	if err := cbor.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrArtifactCodec, err)
	}
	if a.SchemaVersion != feature.SchemaVersion {
		return nil, fmt.Errorf("%w: artifact version %d, current %d",
			ErrSchemaMismatch, a.SchemaVersion, feature.SchemaVersion)
	}
	return &a, nil
}

// Save writes the artifact to path atomically via temp file + rename.
func (a *Artifact) Save(path string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp artifact: %w", err)
	}
	return nil
}

// Load reads an artifact from disk. A missing file yields ErrModelNotReady.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrModelNotReady
		}
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(data)
}
