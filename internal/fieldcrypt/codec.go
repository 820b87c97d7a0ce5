// Package fieldcrypt makes encrypted record attributes behave like plain
// scalars to calling code.
//
// Ciphertexts are strings of the form
//
//	enc:v1:<base64(nonce || AES-256-GCM(tag:value))>
//
// where the inner tag ("i", "f" or "s") restores the original scalar kind.
// Values without the version marker are legacy plaintext written before
// encryption was introduced.
package fieldcrypt

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/cryptox"
	"github.com/dmitrijs2005/clinicguard/internal/logging"
)

// Prefix marks a value produced by this codec (format version 1).
const Prefix = "enc:v1:"

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

var (
	// ErrInvalidKey is a start-up configuration error: the key is missing,
	// not base64, or not KeySize bytes long.
	ErrInvalidKey = errors.New("invalid field encryption key")
	// ErrCorrupted means a value carries the version marker but fails
	// authenticated decryption or decoding.
	ErrCorrupted = errors.New("corrupted field ciphertext")
	// ErrNotEncrypted means a non-numeric value without the version marker.
	ErrNotEncrypted = errors.New("value is not encrypted")
	// ErrUnsupportedType is returned for values that are not scalars.
	ErrUnsupportedType = errors.New("unsupported field type")
)

const (
	tagInt    = 'i'
	tagFloat  = 'f'
	tagString = 's'
)

// Codec encrypts and decrypts scalar field values under a single key held
// for the process lifetime.
type Codec struct {
	key []byte
	log logging.Logger
}

// Option configures a Codec.
type Option func(*Codec)

// WithLogger reports corrupted ciphertexts to l.
func WithLogger(l logging.Logger) Option {
	return func(c *Codec) { c.log = l }
}

// New builds a Codec from a raw 32-byte key.
func New(key []byte, opts ...Option) (*Codec, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}

	c := &Codec{key: append([]byte(nil), key...), log: logging.Nop()}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewFromBase64 builds a Codec from the base64 (standard encoding) form of
// the key, as stored in CLINIC_FIELD_KEY.
func NewFromBase64(encoded string, opts ...Option) (*Codec, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	defer common.WipeByteArray(key)
	return New(key, opts...)
}

// Encrypt returns the ciphertext for v, or nil when v is nil (or a nil
// pointer). Integers, floats and strings are accepted.
func (c *Codec) Encrypt(v any) (*string, error) {
	plain, ok, err := encodeScalar(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	sealed, err := cryptox.Seal(c.key, []byte(plain))
	if err != nil {
		return nil, err
	}

	out := Prefix + base64.StdEncoding.EncodeToString(sealed)
	return &out, nil
}

// MustEncrypt is Encrypt for values known to be supported scalars.
func (c *Codec) MustEncrypt(v any) *string {
	s, err := c.Encrypt(v)
	if err != nil {
		panic(err)
	}
	return s
}

// Decrypt is the lenient decoder. It returns
//   - nil for nil input;
//   - the original scalar for a valid ciphertext;
//   - an int64 or float64 for legacy numbers and numeric strings;
//   - the input verbatim, as a string, for anything else.
//
// A value carrying the version marker that fails to decrypt is logged as
// corrupted and still returned verbatim. Use DecryptStrict where masking
// corruption as legacy data is not acceptable.
func (c *Codec) Decrypt(v any) any {
	out, err := c.open(v)
	switch {
	case err == nil:
		return out
	case errors.Is(err, ErrCorrupted):
		c.log.Warn(context.Background(), "field ciphertext failed to decrypt", "error", err)
		return fmt.Sprint(derefString(v))
	default:
		return fmt.Sprint(derefString(v))
	}
}

// DecryptStrict decodes valid ciphertexts and legacy numbers, and returns an
// error for everything else.
func (c *Codec) DecryptStrict(v any) (any, error) {
	return c.open(v)
}

// DecryptInt returns the value as int64, or 0 when it cannot be decoded as a
// number. Floats are truncated.
func (c *Codec) DecryptInt(v any) int64 {
	out, err := c.open(v)
	if err != nil {
		return 0
	}
	switch n := out.(type) {
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i
		}
	}
	return 0
}

// DecryptFloat returns the value as float64, or 0 when it cannot be decoded
// as a number.
func (c *Codec) DecryptFloat(v any) float64 {
	out, err := c.open(v)
	if err != nil {
		return 0
	}
	switch n := out.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return f
		}
	}
	return 0
}

// DecryptString returns the value formatted as a string. Legacy plaintext is
// returned as is; corrupted ciphertext yields "".
func (c *Codec) DecryptString(v any) string {
	out, err := c.open(v)
	switch {
	case err == nil:
		if out == nil {
			return ""
		}
		return formatScalar(out)
	case errors.Is(err, ErrNotEncrypted):
		return fmt.Sprint(derefString(v))
	default:
		return ""
	}
}

func (c *Codec) open(v any) (any, error) {
	v = derefString(v)
	if v == nil {
		return nil, nil
	}

	switch s := v.(type) {
	case string:
		return c.openString(s)
	case []byte:
		return c.openString(string(s))
	}

	if n, ok := normalizeNumber(v); ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
}

func (c *Codec) openString(s string) (any, error) {
	if !strings.HasPrefix(s, Prefix) {
		if n, ok := parseNumber(s); ok {
			return n, nil
		}
		return nil, ErrNotEncrypted
	}

	sealed, err := base64.StdEncoding.DecodeString(s[len(Prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	plain, err := cryptox.Open(c.key, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	out, err := decodeScalar(string(plain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	return out, nil
}

func derefString(v any) any {
	if p, ok := v.(*string); ok {
		if p == nil {
			return nil
		}
		return *p
	}
	return v
}
