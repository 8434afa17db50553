package formats

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"io"
	"sort"

	"github.com/ajitpratap0/datatoolset/pkg/errors"
)

var avroMagic = []byte{'O', 'b', 'j', 0x01}

const (
	avroSyncLength   = 16
	avroSchemaKey    = "avro.schema"
	avroCodecKey     = "avro.codec"
	maxHeaderEntry   = 64 << 20
	avroReservedPref = "avro."
)

// ocfHeader is the object container header: user and reserved metadata
// plus the sync marker that terminates every block
type ocfHeader struct {
	meta map[string][]byte
	sync [avroSyncLength]byte
}

// newSyncMarker returns marker when it is a valid sync marker, otherwise a random one
func newSyncMarker(marker []byte) ([avroSyncLength]byte, error) {
	var sync [avroSyncLength]byte
	if len(marker) > 0 {
		if len(marker) != avroSyncLength {
			return sync, errors.Newf(errors.ErrorTypeConfig, "sync marker must be %d bytes, got %d", avroSyncLength, len(marker))
		}
		copy(sync[:], marker)
		return sync, nil
	}
	if _, err := rand.Read(sync[:]); err != nil {
		return sync, errors.Wrap(err, errors.ErrorTypeInternal, "failed to generate sync marker")
	}
	return sync, nil
}

// writeOCFHeader writes the header with metadata keys in sorted order so
// identical inputs produce identical bytes
func writeOCFHeader(w io.Writer, h *ocfHeader) error {
	keys := make([]string, 0, len(h.meta))
	for k := range h.meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := append([]byte(nil), avroMagic...)
	if len(keys) > 0 {
		buf = binary.AppendVarint(buf, int64(len(keys)))
		for _, k := range keys {
			buf = appendAvroBytes(buf, []byte(k))
			buf = appendAvroBytes(buf, h.meta[k])
		}
	}
	buf = binary.AppendVarint(buf, 0)
	buf = append(buf, h.sync[:]...)

	_, err := w.Write(buf)
	return err
}

func appendAvroBytes(buf, b []byte) []byte {
	buf = binary.AppendVarint(buf, int64(len(b)))
	return append(buf, b...)
}

// readOCFHeader parses the header without decoding any block, so files whose
// codec the decoder does not support still report their metadata
func readOCFHeader(r *bufio.Reader) (*ocfHeader, error) {
	magic := make([]byte, len(avroMagic))
	if _, err := io.ReadFull(r, magic); err != nil || !bytes.Equal(magic, avroMagic) {
		return nil, errors.New(errors.ErrorTypeFormat, "file does not start with the Avro magic bytes")
	}

	h := &ocfHeader{meta: make(map[string][]byte)}
	for {
		count, err := binary.ReadVarint(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "truncated Avro header")
		}
		if count == 0 {
			break
		}
		if count < 0 {
			// negative block counts are followed by the block byte size
			count = -count
			if _, err := binary.ReadVarint(r); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeFormat, "truncated Avro header")
			}
		}
		for i := int64(0); i < count; i++ {
			k, err := readAvroBytes(r)
			if err != nil {
				return nil, err
			}
			v, err := readAvroBytes(r)
			if err != nil {
				return nil, err
			}
			h.meta[string(k)] = v
		}
	}

	if _, err := io.ReadFull(r, h.sync[:]); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "truncated Avro sync marker")
	}
	if _, ok := h.meta[avroSchemaKey]; !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "Avro header has no embedded schema")
	}
	return h, nil
}

func readAvroBytes(r *bufio.Reader) ([]byte, error) {
	n, err := binary.ReadVarint(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "truncated Avro header")
	}
	if n < 0 || n > maxHeaderEntry {
		return nil, errors.Newf(errors.ErrorTypeFormat, "invalid Avro header entry length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "truncated Avro header")
	}
	return b, nil
}

// countOCFBlocks sums the record counts of all blocks after the header
// without decompressing or decoding them
func countOCFBlocks(r *bufio.Reader, sync [avroSyncLength]byte) (int64, error) {
	var total int64
	marker := make([]byte, avroSyncLength)
	for block := 0; ; block++ {
		count, err := binary.ReadVarint(r)
		if err == io.EOF {
			return total, nil
		}
		if err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeFormat, "block %d: cannot read record count", block)
		}
		size, err := binary.ReadVarint(r)
		if err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeFormat, "block %d: cannot read size", block)
		}
		if count < 0 || size < 0 {
			return 0, errors.Newf(errors.ErrorTypeFormat, "block %d: invalid count %d or size %d", block, count, size)
		}
		if _, err := r.Discard(int(size)); err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeFormat, "block %d: truncated", block)
		}
		if _, err := io.ReadFull(r, marker); err != nil {
			return 0, errors.Wrapf(err, errors.ErrorTypeFormat, "block %d: truncated sync marker", block)
		}
		if !bytes.Equal(marker, sync[:]) {
			return 0, errors.Newf(errors.ErrorTypeFormat, "block %d: sync marker mismatch", block)
		}
		total += count
	}
}

// avroCodecLabel maps a writable codec onto the avro.codec header value
func avroCodecLabel(c string) string {
	if c == "uncompressed" || c == "" {
		return "null"
	}
	return c
}
