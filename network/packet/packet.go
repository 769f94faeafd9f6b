package packet

import (
	"fmt"

	"github.com/YiuTerran/go-gamenet/network"
	"github.com/huandu/go-clone"
)

// DataType 负载的序列化格式
type DataType uint8

const (
	Binary DataType = iota
	JSON
	Protobuf
)

func (d DataType) String() string {
	switch d {
	case Binary:
		return "binary"
	case JSON:
		return "json"
	case Protobuf:
		return "protobuf"
	}
	return fmt.Sprintf("datatype(%d)", uint8(d))
}

func (d DataType) Valid() bool {
	return d <= Protobuf
}

// Priority 发送优先级，队列策略据此决定丢弃谁
type Priority int8

const (
	Lowest Priority = iota - 2
	Low
	Normal
	High
	Guaranteed
)

// Recipient 接收方，一般是*session.Session
type Recipient interface {
	ID() string
	Kind() network.TransportKind
}

// Packet 一条待发送的逻辑消息
type Packet struct {
	Data     []byte
	DataType DataType
	Compress bool
	Encrypt  bool
	Priority Priority
	// Last 发送完这一帧以后关闭会话
	Last       bool
	Recipients []Recipient

	// 以下字段只由持有该会话发送权的writer访问
	frame []byte
	sent  int
}

func New(data []byte, recipients ...Recipient) *Packet {
	return &Packet{Data: data, Priority: Normal, Recipients: recipients}
}

// Frame 已编码的整帧，nil表示尚未编码
func (p *Packet) Frame() []byte {
	return p.frame
}

func (p *Packet) SetFrame(frame []byte) {
	p.frame = frame
	p.sent = 0
}

// Remaining 上次部分写入后剩余未发送的字节
func (p *Packet) Remaining() []byte {
	return p.frame[p.sent:]
}

// Advance 记录成功写出的字节数，返回是否已经完整发送
func (p *Packet) Advance(n int) bool {
	p.sent += n
	return p.sent >= len(p.frame)
}

// Fragmented 是否存在部分写入
func (p *Packet) Fragmented() bool {
	return p.sent > 0 && p.sent < len(p.frame)
}

// Fork 为每个接收者复制一份，复制品不带接收者列表
func (p *Packet) Fork() []*Packet {
	recipients := p.Recipients
	p.Recipients = nil
	defer func() { p.Recipients = recipients }()
	if len(recipients) == 1 {
		cp := *p
		cp.Recipients = nil
		return []*Packet{&cp}
	}
	out := make([]*Packet, 0, len(recipients))
	for range recipients {
		out = append(out, clone.Clone(p).(*Packet))
	}
	return out
}

func (p *Packet) String() string {
	return fmt.Sprintf("Packet{len=%d, type=%s, compress=%v, encrypt=%v, priority=%d, last=%v}",
		len(p.Data), p.DataType, p.Compress, p.Encrypt, p.Priority, p.Last)
}
