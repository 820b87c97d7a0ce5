package fieldcrypt

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"testing"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	mu    sync.Mutex
	warns []string
}

func (r *recordingLogger) Debug(context.Context, string, ...any) {}
func (r *recordingLogger) Info(context.Context, string, ...any)  {}
func (r *recordingLogger) Warn(_ context.Context, msg string, _ ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warns = append(r.warns, msg)
}
func (r *recordingLogger) Error(context.Context, string, ...any) {}
func (r *recordingLogger) With(...any) logging.Logger          { return r }

func newCodec(t *testing.T, opts ...Option) *Codec {
	t.Helper()
	c, err := New(common.GenerateRandByteArray(KeySize), opts...)
	require.NoError(t, err)
	return c
}

func TestNew_KeyValidation(t *testing.T) {
	_, err := New(make([]byte, 16))
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFromBase64("")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFromBase64("not base64 !!")
	require.ErrorIs(t, err, ErrInvalidKey)

	_, err = NewFromBase64(base64.StdEncoding.EncodeToString(make([]byte, 31)))
	require.ErrorIs(t, err, ErrInvalidKey)

	c, err := NewFromBase64(" " + base64.StdEncoding.EncodeToString(make([]byte, 32)) + "\n")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	c := newCodec(t)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "int", in: 67, want: int64(67)},
		{name: "negative int64", in: int64(-12), want: int64(-12)},
		{name: "uint8", in: uint8(200), want: int64(200)},
		{name: "float", in: 38.5, want: 38.5},
		{name: "float32", in: float32(22.25), want: 22.25},
		{name: "numeric string stays string", in: "38.5", want: "38.5"},
		{name: "text", in: "Jane Doe", want: "Jane Doe"},
		{name: "empty string", in: "", want: ""},
		{name: "prefix-looking text", in: "enc:v1:hello", want: "enc:v1:hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ct, err := c.Encrypt(tt.in)
			require.NoError(t, err)
			require.NotNil(t, ct)
			assert.True(t, strings.HasPrefix(*ct, Prefix))
			assert.Equal(t, tt.want, c.Decrypt(*ct))
			assert.Equal(t, tt.want, c.Decrypt(ct), "pointer input")
		})
	}
}

func TestEncrypt_Nil(t *testing.T) {
	c := newCodec(t)

	ct, err := c.Encrypt(nil)
	require.NoError(t, err)
	assert.Nil(t, ct)

	var p *float64
	ct, err = c.Encrypt(p)
	require.NoError(t, err)
	assert.Nil(t, ct)

	assert.Nil(t, c.Decrypt(nil))
	var s *string
	assert.Nil(t, c.Decrypt(s))
}

func TestEncrypt_Pointer(t *testing.T) {
	c := newCodec(t)
	bmi := 31.2
	ct, err := c.Encrypt(&bmi)
	require.NoError(t, err)
	assert.Equal(t, 31.2, c.Decrypt(ct))
}

func TestEncrypt_Unsupported(t *testing.T) {
	c := newCodec(t)
	_, err := c.Encrypt(struct{}{})
	require.ErrorIs(t, err, ErrUnsupportedType)
	_, err = c.Encrypt(true)
	require.ErrorIs(t, err, ErrUnsupportedType)
	assert.Panics(t, func() { c.MustEncrypt([]int{1}) })
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	c := newCodec(t)
	a := c.MustEncrypt(38.5)
	b := c.MustEncrypt(38.5)
	assert.NotEqual(t, *a, *b)
	assert.Equal(t, c.Decrypt(a), c.Decrypt(b))
}

func TestDecrypt_LegacyValues(t *testing.T) {
	c := newCodec(t)

	assert.Equal(t, 38.5, c.Decrypt(38.5))
	assert.Equal(t, int64(67), c.Decrypt(67))
	assert.Equal(t, 38.5, c.Decrypt("38.5"))
	assert.Equal(t, int64(120), c.Decrypt("120"))
	assert.Equal(t, "Urban", c.Decrypt("Urban"))
	assert.Equal(t, "true", c.Decrypt(true))
}

func TestDecrypt_CorruptedIsLoggedAndReturnedVerbatim(t *testing.T) {
	log := &recordingLogger{}
	c := newCodec(t, WithLogger(log))

	other := newCodec(t)
	foreign := *other.MustEncrypt(38.5)

	assert.Equal(t, foreign, c.Decrypt(foreign))
	assert.Equal(t, Prefix+"@@@", c.Decrypt(Prefix+"@@@"))
	assert.Len(t, log.warns, 2)
}

func TestDecryptStrict(t *testing.T) {
	c := newCodec(t)

	v, err := c.DecryptStrict(c.MustEncrypt("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	v, err = c.DecryptStrict(38.5)
	require.NoError(t, err)
	assert.Equal(t, 38.5, v)

	_, err = c.DecryptStrict("Urban")
	require.ErrorIs(t, err, ErrNotEncrypted)

	_, err = c.DecryptStrict(*newCodec(t).MustEncrypt(1))
	require.ErrorIs(t, err, ErrCorrupted)

	_, err = c.DecryptStrict(map[string]int{})
	require.ErrorIs(t, err, ErrUnsupportedType)

	v, err = c.DecryptStrict(nil)
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTypedWrappers(t *testing.T) {
	c := newCodec(t)
	corrupted := *newCodec(t).MustEncrypt(99)

	t.Run("int", func(t *testing.T) {
		assert.Equal(t, int64(67), c.DecryptInt(c.MustEncrypt(67)))
		assert.Equal(t, int64(38), c.DecryptInt(c.MustEncrypt(38.9)))
		assert.Equal(t, int64(45), c.DecryptInt(c.MustEncrypt("45")))
		assert.Equal(t, int64(80), c.DecryptInt("80"))
		assert.Zero(t, c.DecryptInt("abc"))
		assert.Zero(t, c.DecryptInt(c.MustEncrypt("abc")))
		assert.Zero(t, c.DecryptInt(corrupted))
		assert.Zero(t, c.DecryptInt(nil))
	})

	t.Run("float", func(t *testing.T) {
		assert.Equal(t, 38.5, c.DecryptFloat(c.MustEncrypt(38.5)))
		assert.Equal(t, 38.5, c.DecryptFloat(c.MustEncrypt("38.5")))
		assert.Equal(t, 7.0, c.DecryptFloat(c.MustEncrypt(7)))
		assert.Equal(t, 38.5, c.DecryptFloat(38.5))
		assert.Zero(t, c.DecryptFloat("n/a"))
		assert.Zero(t, c.DecryptFloat(corrupted))
	})

	t.Run("string", func(t *testing.T) {
		assert.Equal(t, "Male", c.DecryptString(c.MustEncrypt("Male")))
		assert.Equal(t, "38.5", c.DecryptString(c.MustEncrypt(38.5)))
		assert.Equal(t, "legacy", c.DecryptString("legacy"))
		assert.Equal(t, "12", c.DecryptString(12))
		assert.Empty(t, c.DecryptString(corrupted))
		assert.Empty(t, c.DecryptString(nil))
	})
}
