// Package chunk implements the chunk object format: a fixed header followed
// by a zstd-compressed batch of records, with a SHA-256 over the uncompressed
// payload for end-to-end integrity.
//
// Layout:
//
//	magic "NS3\0" | u16 version | u8 codec | u8 reserved |
//	u64 record count | u64 uncompressed length | 32B sha256 |
//	zstd(framed records)
//
// All integers are big-endian.
package chunk

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

// FormatVersion is the current chunk format version.
const FormatVersion uint16 = 1

const headerSize = 4 + 2 + 1 + 1 + 8 + 8 + 32

var magic = [4]byte{'N', 'S', '3', 0}

// Codec identifies the record serialization inside the payload.
type Codec uint8

const (
	CodecBinary Codec = 0
	CodecJSON   Codec = 1
)

func (c Codec) String() string {
	switch c {
	case CodecBinary:
		return "Binary"
	case CodecJSON:
		return "Json"
	default:
		return fmt.Sprintf("Codec(%d)", uint8(c))
	}
}

// CodecFromName maps the job-level codec name ("Binary", "Json") to the wire
// codec byte.
func CodecFromName(name string) (Codec, error) {
	switch name {
	case "Binary", "":
		return CodecBinary, nil
	case "Json":
		return CodecJSON, nil
	default:
		return 0, fmt.Errorf("unknown codec %q", name)
	}
}

// Record is one bus message captured inside a chunk.
type Record struct {
	Subject   string              `json:"subject"`
	Timestamp time.Time           `json:"timestamp"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Data      []byte              `json:"data"`
}

// Header is the decoded fixed-size chunk header.
type Header struct {
	Version         uint16
	Codec           Codec
	Count           uint64
	UncompressedLen uint64
	Hash            [32]byte
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd encoder: %v", err))
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd decoder: %v", err))
	}
}

// Encode serializes records with the given codec and returns the complete
// chunk object bytes along with the header that was written.
func Encode(codec Codec, records []Record) ([]byte, Header, error) {
	var framed []byte
	var err error

	switch codec {
	case CodecBinary:
		framed = frameBinary(records)
	case CodecJSON:
		framed, err = json.Marshal(records)
		if err != nil {
			return nil, Header{}, fmt.Errorf("encode records: %w", err)
		}
	default:
		return nil, Header{}, codecErrf(ErrUnknownCodec, "codec %d", codec)
	}

	hdr := Header{
		Version:         FormatVersion,
		Codec:           codec,
		Count:           uint64(len(records)),
		UncompressedLen: uint64(len(framed)),
		Hash:            sha256.Sum256(framed),
	}

	compressed := zstdEncoder.EncodeAll(framed, nil)

	out := make([]byte, 0, headerSize+len(compressed))
	out = append(out, magic[:]...)
	out = binary.BigEndian.AppendUint16(out, hdr.Version)
	out = append(out, byte(hdr.Codec), 0)
	out = binary.BigEndian.AppendUint64(out, hdr.Count)
	out = binary.BigEndian.AppendUint64(out, hdr.UncompressedLen)
	out = append(out, hdr.Hash[:]...)
	out = append(out, compressed...)

	return out, hdr, nil
}

// Decode parses a chunk object, verifies its integrity and returns the
// header and the contained records. All failures are CodecErrors.
func Decode(data []byte) (Header, []Record, error) {
	if len(data) < headerSize {
		return Header{}, nil, codecErrf(ErrTruncated, "%d bytes, header needs %d", len(data), headerSize)
	}
	if [4]byte(data[:4]) != magic {
		return Header{}, nil, codecErrf(ErrBadMagic, "%q", data[:4])
	}

	hdr := Header{
		Version:         binary.BigEndian.Uint16(data[4:6]),
		Codec:           Codec(data[6]),
		Count:           binary.BigEndian.Uint64(data[8:16]),
		UncompressedLen: binary.BigEndian.Uint64(data[16:24]),
	}
	copy(hdr.Hash[:], data[24:56])

	if hdr.Version != FormatVersion {
		return hdr, nil, codecErrf(ErrUnknownVersion, "version %d", hdr.Version)
	}
	if hdr.Codec != CodecBinary && hdr.Codec != CodecJSON {
		return hdr, nil, codecErrf(ErrUnknownCodec, "codec %d", hdr.Codec)
	}

	framed, err := zstdDecoder.DecodeAll(data[headerSize:], nil)
	if err != nil {
		return hdr, nil, codecErrf(ErrTruncated, "decompress: %v", err)
	}
	if uint64(len(framed)) != hdr.UncompressedLen {
		return hdr, nil, codecErrf(ErrTruncated, "uncompressed %d bytes, header says %d", len(framed), hdr.UncompressedLen)
	}
	if sha256.Sum256(framed) != hdr.Hash {
		return hdr, nil, codecErrf(ErrHashMismatch, "payload hash does not match header")
	}

	var records []Record
	switch hdr.Codec {
	case CodecBinary:
		records, err = unframeBinary(framed)
		if err != nil {
			return hdr, nil, err
		}
	case CodecJSON:
		if err := json.Unmarshal(framed, &records); err != nil {
			return hdr, nil, codecErrf(ErrBodyDecode, "%v", err)
		}
	}

	if uint64(len(records)) != hdr.Count {
		return hdr, nil, codecErrf(ErrBodyDecode, "%d records, header says %d", len(records), hdr.Count)
	}

	return hdr, records, nil
}

// frameBinary serializes records as length-prefixed frames:
//
//	u32 subject len | subject | i64 unix nanos |
//	u32 headers len | headers (JSON, 0 = none) |
//	u32 data len | data
func frameBinary(records []Record) []byte {
	var out []byte
	for _, r := range records {
		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Subject)))
		out = append(out, r.Subject...)
		out = binary.BigEndian.AppendUint64(out, uint64(r.Timestamp.UnixNano()))

		var headers []byte
		if len(r.Headers) > 0 {
			headers, _ = json.Marshal(r.Headers)
		}
		out = binary.BigEndian.AppendUint32(out, uint32(len(headers)))
		out = append(out, headers...)

		out = binary.BigEndian.AppendUint32(out, uint32(len(r.Data)))
		out = append(out, r.Data...)
	}
	return out
}

func unframeBinary(data []byte) ([]Record, error) {
	var records []Record
	off := 0

	next := func(n int) ([]byte, error) {
		if off+n > len(data) {
			return nil, codecErrf(ErrTruncated, "record %d: need %d bytes at offset %d of %d", len(records), n, off, len(data))
		}
		b := data[off : off+n]
		off += n
		return b, nil
	}

	for off < len(data) {
		var r Record

		b, err := next(4)
		if err != nil {
			return nil, err
		}
		b, err = next(int(binary.BigEndian.Uint32(b)))
		if err != nil {
			return nil, err
		}
		r.Subject = string(b)

		b, err = next(8)
		if err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(0, int64(binary.BigEndian.Uint64(b))).UTC()

		b, err = next(4)
		if err != nil {
			return nil, err
		}
		if n := int(binary.BigEndian.Uint32(b)); n > 0 {
			b, err = next(n)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(b, &r.Headers); err != nil {
				return nil, codecErrf(ErrBodyDecode, "record %d headers: %v", len(records), err)
			}
		}

		b, err = next(4)
		if err != nil {
			return nil, err
		}
		b, err = next(int(binary.BigEndian.Uint32(b)))
		if err != nil {
			return nil, err
		}
		r.Data = append([]byte(nil), b...)

		records = append(records, r)
	}

	return records, nil
}
