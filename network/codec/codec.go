package codec

import (
	"fmt"

	"github.com/YiuTerran/go-gamenet/base/log"
	"github.com/YiuTerran/go-gamenet/network/packet"
)

const (
	// DefaultCompressionThreshold 小于该长度的包不压缩
	DefaultCompressionThreshold = 3000
	// DefaultMaxFrameSize 默认最大帧体长度
	DefaultMaxFrameSize = 1 << 20
)

// Codec 二进制帧的编解码，除注入的策略外无状态，可并发使用
type Codec struct {
	threshold    int
	maxFrameSize int
	compressor   Compressor
	encryptor    Encryptor
	logger       log.Fields
}

type Option func(*Codec)

// WithCompressionThreshold n<=0时关闭压缩
func WithCompressionThreshold(n int) Option {
	return func(c *Codec) {
		c.threshold = n
	}
}

func WithMaxFrameSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

func WithCompressor(compressor Compressor) Option {
	return func(c *Codec) {
		c.compressor = compressor
	}
}

// WithEncryptor 不设置时，要求加密的包会编码失败
func WithEncryptor(encryptor Encryptor) Option {
	return func(c *Codec) {
		c.encryptor = encryptor
	}
}

func New(options ...Option) *Codec {
	c := &Codec{
		threshold:    DefaultCompressionThreshold,
		maxFrameSize: DefaultMaxFrameSize,
		compressor:   Noop{},
		logger:       log.Fields{}.WithPrefix("codec"),
	}
	for _, option := range options {
		option(c)
	}
	return c
}

func (c *Codec) MaxFrameSize() int {
	return c.maxFrameSize
}

// Encode 序列化 -> 压缩(超过阈值) -> 加密(按需) -> 加帧头
// 压缩失败时退化为不压缩发送；加密失败返回EncryptionError，不允许明文发出
func (c *Codec) Encode(raw []byte, dataType packet.DataType, needsCompression, needsEncryption, last bool) ([]byte, error) {
	if !dataType.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataType, dataType)
	}
	body := raw
	h := Header{Last: last}
	if needsCompression && c.threshold > 0 && len(body) >= c.threshold && c.compressor != nil {
		compressed, err := c.compressor.Compress(body)
		if err != nil {
			c.logger.Warn("fail to compress %d bytes, send it uncompressed: %v", len(body), err)
		} else {
			body = compressed
			h.Compressed = true
		}
	}
	if needsEncryption {
		if c.encryptor == nil {
			return nil, &EncryptionError{Err: fmt.Errorf("no encryptor configured")}
		}
		encrypted, err := c.encryptor.Encrypt(body)
		if err != nil {
			return nil, &EncryptionError{Err: err}
		}
		body = encrypted
		h.Encrypted = true
	}
	if len(body) > c.maxFrameSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), c.maxFrameSize)
	}
	h.BodyLen = len(body)
	h.SizeClass = sizeClassFor(h.BodyLen)
	frame := make([]byte, 0, h.Len()+h.BodyLen)
	frame = h.appendTo(frame)
	return append(frame, body...), nil
}

// EncodePacket 按包上的标记编码
func (c *Codec) EncodePacket(p *packet.Packet) ([]byte, error) {
	return c.Encode(p.Data, p.DataType, p.Compress, p.Encrypt, p.Last)
}

// ParseHeader 从b的开头解析完整帧头，b不够长时返回ok=false
func (c *Codec) ParseHeader(b []byte) (h Header, ok bool, err error) {
	if len(b) == 0 {
		return h, false, nil
	}
	if h, err = parseFirstByte(b[0]); err != nil {
		return h, false, err
	}
	n := h.SizeClass.Bytes()
	if len(b) < 1+n {
		return h, false, nil
	}
	if n > 0 {
		h.BodyLen = readSize(h.SizeClass, b[1:1+n])
	}
	if err = c.checkBodyLen(h.BodyLen); err != nil {
		return h, false, err
	}
	return h, true, nil
}

func (c *Codec) checkBodyLen(n int) error {
	if n > c.maxFrameSize {
		return &CorruptFrameError{Reason: fmt.Sprintf("body length %d exceeds max frame size %d", n, c.maxFrameSize)}
	}
	return nil
}

// Decode 解一个完整的帧：去帧头 -> 解密 -> 解压
// 返回的数据在未压缩未加密时与frame共享底层数组
func (c *Codec) Decode(frame []byte) (Header, []byte, error) {
	h, ok, err := c.ParseHeader(frame)
	if err != nil {
		return h, nil, err
	}
	if !ok {
		return h, nil, &CorruptFrameError{Reason: fmt.Sprintf("truncated header, %d bytes", len(frame))}
	}
	if len(frame) != h.Len()+h.BodyLen {
		return h, nil, &CorruptFrameError{
			Reason: fmt.Sprintf("frame length %d does not match header %d+%d", len(frame), h.Len(), h.BodyLen)}
	}
	raw, err := c.Open(h, frame[h.Len():])
	return h, raw, err
}

// Open 对已经拆出的帧体做解密和解压
func (c *Codec) Open(h Header, body []byte) ([]byte, error) {
	var err error
	if h.Encrypted {
		if c.encryptor == nil {
			return nil, &DecryptionError{Err: fmt.Errorf("no encryptor configured")}
		}
		if body, err = c.encryptor.Decrypt(body); err != nil {
			return nil, &DecryptionError{Err: err}
		}
	}
	if h.Compressed {
		if c.compressor == nil {
			return nil, &DecompressionError{Err: fmt.Errorf("no compressor configured")}
		}
		if body, err = c.compressor.Decompress(body); err != nil {
			return nil, &DecompressionError{Err: err}
		}
	}
	return body, nil
}
