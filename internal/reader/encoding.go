package reader

import (
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// SourceEncoding names a supported source byte encoding.
type SourceEncoding int

const (
	EncodingUTF8 SourceEncoding = iota
	EncodingGBK
)

// DecodeLine converts one line's bytes to UTF-8 according to enc. UTF-8
// input is passed through untouched. GBK conversion uses a known
// maximum expansion factor of 2x; any line that fails to convert falls
// back to a raw copy of the original bytes, with the caller responsible
// for raising an alarm.
func DecodeLine(enc SourceEncoding, line []byte) (out []byte, ok bool) {
	if enc == EncodingUTF8 {
		return line, true
	}

	var dst = make([]byte, len(line)*2)
	n, _, err := simplifiedchinese.GBK.NewDecoder().Transform(dst, line, true)
	if err != nil && err != transform.ErrShortDst {
		log.WithError(err).Debug("GBK decode failed for line, falling back to raw bytes")
		return append([]byte(nil), line...), false
	}
	return dst[:n], true
}
