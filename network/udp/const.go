package udp

import (
	"errors"
)

//udp是无连接的，直接将字节流读入读出即可
//操作系统将客户端一次发过来的包一次性放入缓冲区，因此没有所谓的粘包问题，一个报文就是一帧
//但是单次包最大长度是有限制的(理论最大值：65507，实际最大值1472)，超出MTU的帧会在IP层分片，丢一片整帧就丢了
//所以UDP上的帧最好在512字节之内（参考http://dwz.win/vN5)

const (
	MaxPacketSize = 65535
	// DefaultBatchSize 一次系统调用最多读取的报文数
	DefaultBatchSize = 16
	DefaultReaders   = 1
)

var ErrNotBound = errors.New("udp listener not bound")
