package reader

import (
	"os"
	"syscall"

	"github.com/estuary/logtail/internal/protocol"
	"github.com/pkg/errors"
)

// IdentityOf derives the (device, inode) pair for a file at path, for
// the given config name.
func IdentityOf(path, configName string) (protocol.FileIdentity, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.FileIdentity{}, errors.Wrapf(err, "stat %s", path)
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return protocol.FileIdentity{}, errors.Errorf("unsupported platform stat for %s", path)
	}
	return protocol.FileIdentity{
		Device:     uint64(stat.Dev),
		Inode:      stat.Ino,
		ConfigName: configName,
	}, nil
}
