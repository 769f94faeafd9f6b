package codec

import (
	"errors"
	"fmt"
)

var (
	// ErrFrameTooLarge 编码后的帧体超过了最大帧长度
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrUnknownDataType 不支持的负载类型
	ErrUnknownDataType = errors.New("unknown data type")
)

// CorruptFrameError 帧头或长度不合法，通常意味着对端有问题，应断开
type CorruptFrameError struct {
	Reason string
}

func (err *CorruptFrameError) Error() string {
	return "corrupt frame: " + err.Reason
}

// DecompressionError 解压失败
type DecompressionError struct {
	Err error
}

func (err *DecompressionError) Error() string {
	return fmt.Sprintf("decompression failed: %v", err.Err)
}

func (err *DecompressionError) Unwrap() error {
	return err.Err
}

// DecryptionError 解密失败
type DecryptionError struct {
	Err error
}

func (err *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed: %v", err.Err)
}

func (err *DecryptionError) Unwrap() error {
	return err.Err
}

// EncryptionError 需要加密但加密失败或没有配置加密器，数据不能以明文发出
type EncryptionError struct {
	Err error
}

func (err *EncryptionError) Error() string {
	return fmt.Sprintf("encryption failed: %v", err.Err)
}

func (err *EncryptionError) Unwrap() error {
	return err.Err
}

// IsMalformed 对端发来的数据有问题，包括帧损坏、解压失败、解密失败
func IsMalformed(err error) bool {
	var (
		corrupt    *CorruptFrameError
		decompress *DecompressionError
		decrypt    *DecryptionError
	)
	return errors.As(err, &corrupt) || errors.As(err, &decompress) || errors.As(err, &decrypt)
}
