package codec

import (
	"encoding/binary"
	"fmt"
)

// 帧格式：
// ---------------------------------------------
// | byte0 | size(0/2/4 bytes, big endian) | body |
// ---------------------------------------------
// byte0: bit7 压缩 | bit6 加密 | bit5 发完关闭连接 | bit4-3 长度类别 | bit2-0 内联长度
// 长度类别为0时body长度直接写在byte0低3位，省掉长度字段

const (
	flagCompressed = 0x80
	flagEncrypted  = 0x40
	flagLast       = 0x20
	sizeClassShift = 3
	sizeClassMask  = 0x18
	inlineLenMask  = 0x07
)

// SizeClass 长度字段的类别
type SizeClass uint8

const (
	SizeInline SizeClass = iota
	SizeShort
	SizeLong
	sizeInvalid
)

const (
	MaxInlineLen = inlineLenMask
	MaxShortLen  = 0xFFFF
	// MaxHeaderLen 帧头最长5字节
	MaxHeaderLen = 5
)

// Bytes 该类别的长度字段占用的字节数
func (c SizeClass) Bytes() int {
	switch c {
	case SizeShort:
		return 2
	case SizeLong:
		return 4
	}
	return 0
}

func sizeClassFor(n int) SizeClass {
	switch {
	case n <= MaxInlineLen:
		return SizeInline
	case n <= MaxShortLen:
		return SizeShort
	}
	return SizeLong
}

// Header 解析后的帧头
type Header struct {
	Compressed bool
	Encrypted  bool
	Last       bool
	SizeClass  SizeClass
	// BodyLen 帧体长度（压缩/加密后的长度）
	BodyLen int
}

// Len 帧头总长度（含长度字段）
func (h Header) Len() int {
	return 1 + h.SizeClass.Bytes()
}

func (h Header) String() string {
	return fmt.Sprintf("Header{compressed=%v, encrypted=%v, last=%v, class=%d, body=%d}",
		h.Compressed, h.Encrypted, h.Last, h.SizeClass, h.BodyLen)
}

func (h Header) firstByte() byte {
	var b byte
	if h.Compressed {
		b |= flagCompressed
	}
	if h.Encrypted {
		b |= flagEncrypted
	}
	if h.Last {
		b |= flagLast
	}
	b |= byte(h.SizeClass) << sizeClassShift
	if h.SizeClass == SizeInline {
		b |= byte(h.BodyLen)
	}
	return b
}

// appendTo 把帧头写入dst
func (h Header) appendTo(dst []byte) []byte {
	dst = append(dst, h.firstByte())
	switch h.SizeClass {
	case SizeShort:
		dst = binary.BigEndian.AppendUint16(dst, uint16(h.BodyLen))
	case SizeLong:
		dst = binary.BigEndian.AppendUint32(dst, uint32(h.BodyLen))
	}
	return dst
}

// parseFirstByte 解析byte0；内联长度时BodyLen已经确定
func parseFirstByte(b byte) (Header, error) {
	h := Header{
		Compressed: b&flagCompressed != 0,
		Encrypted:  b&flagEncrypted != 0,
		Last:       b&flagLast != 0,
		SizeClass:  SizeClass((b & sizeClassMask) >> sizeClassShift),
	}
	if h.SizeClass >= sizeInvalid {
		return h, &CorruptFrameError{Reason: fmt.Sprintf("invalid size class in header 0x%02x", b)}
	}
	if h.SizeClass == SizeInline {
		h.BodyLen = int(b & inlineLenMask)
	} else if b&inlineLenMask != 0 {
		return h, &CorruptFrameError{Reason: fmt.Sprintf("reserved bits set in header 0x%02x", b)}
	}
	return h, nil
}

// readSize 从size字段中读出长度，len(b)必须等于SizeClass.Bytes()
func readSize(class SizeClass, b []byte) int {
	switch class {
	case SizeShort:
		return int(binary.BigEndian.Uint16(b))
	case SizeLong:
		return int(binary.BigEndian.Uint32(b))
	}
	return 0
}
