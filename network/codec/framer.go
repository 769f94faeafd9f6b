package codec

import (
	"github.com/YiuTerran/go-gamenet/network/pool"
)

type framerState uint8

const (
	waitHeader framerState = iota
	waitSize
	waitSizeFragment
	waitBody
)

// EmitFunc 收到完整帧时回调，body只在回调期间有效
type EmitFunc func(h Header, body []byte) error

// Framer 流式传输的拆包状态机，单个连接独占，不可并发使用
// 任意切分的输入都只会在帧完整后回调
type Framer struct {
	codec *Codec
	pool  *pool.Pool

	state    framerState
	header   Header
	sizeBuf  [4]byte
	sizeHave int
	body     []byte
	bodyHave int
}

// NewFramer pool可以为nil
func NewFramer(c *Codec, p *pool.Pool) *Framer {
	return &Framer{codec: c, pool: p}
}

// Feed 消费chunk中的所有字节，返回第一个错误（帧损坏或emit的错误）
// 出错后Framer的状态不再可靠，调用方应关闭连接
func (f *Framer) Feed(chunk []byte, emit EmitFunc) error {
	for len(chunk) > 0 {
		switch f.state {
		case waitHeader:
			h, err := parseFirstByte(chunk[0])
			if err != nil {
				return err
			}
			chunk = chunk[1:]
			f.header = h
			if h.SizeClass == SizeInline {
				if err = f.startBody(emit); err != nil {
					return err
				}
				continue
			}
			f.sizeHave = 0
			f.state = waitSize
		case waitSize, waitSizeFragment:
			need := f.header.SizeClass.Bytes()
			n := copy(f.sizeBuf[f.sizeHave:need], chunk)
			f.sizeHave += n
			chunk = chunk[n:]
			if f.sizeHave < need {
				f.state = waitSizeFragment
				continue
			}
			f.header.BodyLen = readSize(f.header.SizeClass, f.sizeBuf[:need])
			if err := f.codec.checkBodyLen(f.header.BodyLen); err != nil {
				return err
			}
			if err := f.startBody(emit); err != nil {
				return err
			}
		case waitBody:
			n := copy(f.body[f.bodyHave:], chunk)
			f.bodyHave += n
			chunk = chunk[n:]
			if f.bodyHave == len(f.body) {
				if err := f.finish(emit); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Pending 是否有未完成的帧
func (f *Framer) Pending() bool {
	return f.state != waitHeader
}

// Reset 丢弃未完成的帧并归还缓冲
func (f *Framer) Reset() {
	f.release()
	f.state = waitHeader
	f.sizeHave = 0
}

func (f *Framer) startBody(emit EmitFunc) error {
	f.bodyHave = 0
	if f.pool != nil {
		f.body = f.pool.Get(f.header.BodyLen)
	} else {
		f.body = make([]byte, f.header.BodyLen)
	}
	f.state = waitBody
	if f.header.BodyLen == 0 {
		return f.finish(emit)
	}
	return nil
}

func (f *Framer) finish(emit EmitFunc) error {
	h, body := f.header, f.body
	f.state = waitHeader
	err := emit(h, body)
	f.release()
	return err
}

func (f *Framer) release() {
	if f.body != nil && f.pool != nil {
		f.pool.Put(f.body)
	}
	f.body = nil
	f.bodyHave = 0
}
