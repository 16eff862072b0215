package chunk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecords() []Record {
	base := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	return []Record{
		{
			Subject:   "orders.created",
			Timestamp: base,
			Headers:   map[string][]string{"Trace-Id": {"abc123"}},
			Data:      []byte(`{"order":1}`),
		},
		{
			Subject:   "orders.shipped",
			Timestamp: base.Add(250 * time.Millisecond),
			Data:      []byte(`{"order":1,"carrier":"dhl"}`),
		},
		{
			Subject:   "orders.created",
			Timestamp: base.Add(time.Second),
			Data:      []byte{},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecBinary, CodecJSON} {
		t.Run(codec.String(), func(t *testing.T) {
			in := sampleRecords()

			data, hdr, err := Encode(codec, in)
			require.NoError(t, err)
			assert.Equal(t, FormatVersion, hdr.Version)
			assert.Equal(t, codec, hdr.Codec)
			assert.Equal(t, uint64(len(in)), hdr.Count)

			gotHdr, out, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, hdr, gotHdr)
			require.Len(t, out, len(in))

			for i := range in {
				assert.Equal(t, in[i].Subject, out[i].Subject)
				assert.True(t, in[i].Timestamp.Equal(out[i].Timestamp),
					"record %d timestamp", i)
				assert.Equal(t, in[i].Headers, out[i].Headers)
				assert.Equal(t, string(in[i].Data), string(out[i].Data))
			}
		})
	}
}

func TestEmptyBatch(t *testing.T) {
	data, hdr, err := Encode(CodecBinary, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hdr.Count)

	_, out, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, _, err := Decode([]byte("NS3"))
	assert.True(t, IsCodecError(err, ErrTruncated), "got %v", err)
}

func TestDecodeBadMagic(t *testing.T) {
	data, _, err := Encode(CodecBinary, sampleRecords())
	require.NoError(t, err)

	data[0] = 'X'
	_, _, err = Decode(data)
	assert.True(t, IsCodecError(err, ErrBadMagic), "got %v", err)
}

func TestDecodeUnknownVersion(t *testing.T) {
	data, _, err := Encode(CodecBinary, sampleRecords())
	require.NoError(t, err)

	data[4], data[5] = 0xFF, 0xFF
	_, _, err = Decode(data)
	assert.True(t, IsCodecError(err, ErrUnknownVersion), "got %v", err)
}

func TestDecodeUnknownCodec(t *testing.T) {
	data, _, err := Encode(CodecBinary, sampleRecords())
	require.NoError(t, err)

	data[6] = 99
	_, _, err = Decode(data)
	assert.True(t, IsCodecError(err, ErrUnknownCodec), "got %v", err)
}

func TestDecodeHashMismatch(t *testing.T) {
	data, _, err := Encode(CodecBinary, sampleRecords())
	require.NoError(t, err)

	// Corrupt a hash byte: payload decompresses fine but no longer matches.
	data[24] ^= 0xFF
	_, _, err = Decode(data)
	assert.True(t, IsCodecError(err, ErrHashMismatch), "got %v", err)
}

func TestDecodeTruncatedPayload(t *testing.T) {
	data, _, err := Encode(CodecBinary, sampleRecords())
	require.NoError(t, err)

	_, _, err = Decode(data[:len(data)-3])
	assert.True(t, IsCodecError(err, ErrTruncated), "got %v", err)
}

func TestCodecFromName(t *testing.T) {
	c, err := CodecFromName("Binary")
	require.NoError(t, err)
	assert.Equal(t, CodecBinary, c)

	c, err = CodecFromName("Json")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c)

	c, err = CodecFromName("")
	require.NoError(t, err)
	assert.Equal(t, CodecBinary, c)

	_, err = CodecFromName("Protobuf")
	assert.Error(t, err)
}
