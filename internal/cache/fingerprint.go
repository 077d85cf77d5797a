package cache

import (
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"
)

// Fingerprint holds stat-based identity for a file.
type Fingerprint struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// StatFile creates a Fingerprint from a file on fs.
func StatFile(fs afero.Fs, path string) (Fingerprint, error) {
	info, err := fs.Stat(path)
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Key derives a cache key for the named part of the file. Any change to the
// file's size or modification time yields a different key.
func (fp Fingerprint) Key(part string) string {
	var b strings.Builder
	b.WriteString(fp.Path)
	b.WriteByte(0)
	b.WriteString(strconv.FormatInt(fp.Size, 10))
	b.WriteByte(0)
	b.WriteString(fp.ModTime.UTC().Format(time.RFC3339Nano))
	b.WriteByte(0)
	b.WriteString(part)
	return strconv.FormatUint(xxhash.Sum64String(b.String()), 16) + ":" + part
}
