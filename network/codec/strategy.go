package codec

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zlib"
	"golang.org/x/crypto/chacha20poly1305"
)

// Compressor 压缩策略
type Compressor interface {
	Compress(b []byte) ([]byte, error)
	Decompress(b []byte) ([]byte, error)
}

// Encryptor 加密策略
type Encryptor interface {
	Encrypt(b []byte) ([]byte, error)
	Decrypt(b []byte) ([]byte, error)
}

// Noop 不做任何变换，同时实现Compressor和Encryptor
type Noop struct{}

func (Noop) Compress(b []byte) ([]byte, error)   { return b, nil }
func (Noop) Decompress(b []byte) ([]byte, error) { return b, nil }
func (Noop) Encrypt(b []byte) ([]byte, error)    { return b, nil }
func (Noop) Decrypt(b []byte) ([]byte, error)    { return b, nil }

var errTooLarge = errors.New("decompressed data exceeds limit")

// Zlib 基于klauspost/compress的zlib实现
type Zlib struct {
	Level int
	// MaxSize 解压后的最大长度，防止压缩炸弹；<=0表示不限制
	MaxSize int
}

func (z Zlib) Compress(b []byte) ([]byte, error) {
	level := z.Level
	if level == 0 {
		level = zlib.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(b); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (z Zlib) Decompress(b []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var src io.Reader = r
	if z.MaxSize > 0 {
		src = io.LimitReader(r, int64(z.MaxSize)+1)
	}
	out, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if z.MaxSize > 0 && len(out) > z.MaxSize {
		return nil, errTooLarge
	}
	return out, nil
}

// S2 Snappy兼容的快速压缩，适合对延迟敏感的小包
type S2 struct {
	MaxSize int
}

func (S2) Compress(b []byte) ([]byte, error) {
	return s2.Encode(nil, b), nil
}

func (s S2) Decompress(b []byte) ([]byte, error) {
	n, err := s2.DecodedLen(b)
	if err != nil {
		return nil, err
	}
	if s.MaxSize > 0 && n > s.MaxSize {
		return nil, errTooLarge
	}
	return s2.Decode(nil, b)
}

// ChaCha20Poly1305 AEAD加密，输出为 nonce|密文
type ChaCha20Poly1305 struct {
	key []byte
}

func NewChaCha20Poly1305(key []byte) (*ChaCha20Poly1305, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("chacha20poly1305 needs a %d-byte key, got %d", chacha20poly1305.KeySize, len(key))
	}
	return &ChaCha20Poly1305{key: append([]byte(nil), key...)}, nil
}

func (c *ChaCha20Poly1305) Encrypt(b []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, aead.NonceSize(), aead.NonceSize()+len(b)+aead.Overhead())
	if _, err = rand.Read(out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out, b, nil), nil
}

func (c *ChaCha20Poly1305) Decrypt(b []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(c.key)
	if err != nil {
		return nil, err
	}
	if len(b) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := b[:aead.NonceSize()], b[aead.NonceSize():]
	return aead.Open(nil, nonce, sealed, nil)
}

// NewCompressor 按名称创建压缩器，支持none/zlib/s2
func NewCompressor(name string, maxSize int) (Compressor, error) {
	switch strings.ToLower(name) {
	case "", "none", "noop":
		return Noop{}, nil
	case "zlib":
		return Zlib{MaxSize: maxSize}, nil
	case "s2", "snappy":
		return S2{MaxSize: maxSize}, nil
	}
	return nil, fmt.Errorf("unknown compressor %q", name)
}

// NewEncryptor 按名称创建加密器，支持none/chacha20poly1305
func NewEncryptor(name string, key []byte) (Encryptor, error) {
	switch strings.ToLower(name) {
	case "", "none", "noop":
		return Noop{}, nil
	case "chacha20poly1305", "chacha20":
		return NewChaCha20Poly1305(key)
	}
	return nil, fmt.Errorf("unknown encryptor %q", name)
}
