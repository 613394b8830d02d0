package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/estuary/logtail/internal/reader"
	"github.com/stretchr/testify/require"
)

func TestRecoverKeepsRecordWhenSignatureMatches(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("first line\nsecond line\n"), 0644))

	id, err := reader.IdentityOf(path, "app")
	require.NoError(t, err)

	head, err := os.ReadFile(path)
	require.NoError(t, err)
	var sig = reader.ComputeSignature(head)

	var records = map[string]protocol.CheckpointRecord{
		"key": {RealPath: path, Identity: id, ConfigName: "app", Offset: 11, Signature: sig},
	}

	var resolved = Recover(records)
	require.Len(t, resolved, 1)
	require.Equal(t, path, resolved[0].Path)
	require.Equal(t, int64(11), resolved[0].Record.Offset)
}

func TestRecoverDiscardsRecordWhenFileMissing(t *testing.T) {
	var records = map[string]protocol.CheckpointRecord{
		"key": {RealPath: "/nonexistent/app.log", Identity: protocol.FileIdentity{Device: 1, Inode: 2}},
	}
	require.Empty(t, Recover(records))
}

func TestRecoverDiscardsRecordWhenSignatureMismatches(t *testing.T) {
	var dir = t.TempDir()
	var path = filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("completely different content\n"), 0644))

	id, err := reader.IdentityOf(path, "app")
	require.NoError(t, err)

	var records = map[string]protocol.CheckpointRecord{
		"key": {
			RealPath:   path,
			Identity:   id,
			ConfigName: "app",
			Signature:  protocol.Signature{Length: 11, Hash: 0xfeedface},
		},
	}
	require.Empty(t, Recover(records))
}
