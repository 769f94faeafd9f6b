package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

// Fields 上下文结构，方便在结构体之间传递信息
// 模仿logrus，非线程安全，派生时总是复制一份
type Fields map[string]any

const (
	prefixKey = "__prefix__"
)

func (f Fields) String() string {
	keys := lo.Filter(lo.Keys(f), func(k string, _ int) bool { return k != prefixKey })
	sort.Strings(keys)
	str := make([]string, 0, len(keys)+1)
	if prefix := f.Prefix(); prefix != "" {
		str = append(str, "["+prefix+"]")
	}
	for _, k := range keys {
		str = append(str, fmt.Sprintf("%s=%+v", k, f[k]))
	}
	return strings.Join(str, " ")
}

func (f Fields) prepend(format string) string {
	if len(f) == 0 {
		return format
	}
	return f.String() + " " + format
}

func (f Fields) WithPrefix(prefix string) Fields {
	return MergeFields(f, Fields{prefixKey: prefix})
}

// WithField 派生一个带额外字段的Fields
func (f Fields) WithField(key string, value any) Fields {
	return MergeFields(f, Fields{key: value})
}

// MergeFields 合并，结果不影响原来的数据
func MergeFields(f Fields, fields ...Fields) Fields {
	all := make(Fields, len(f))
	for k, v := range f {
		all[k] = v
	}
	for _, field := range fields {
		for k, v := range field {
			all[k] = v
		}
	}
	return all
}

func (f Fields) WithFields(fields ...Fields) Fields {
	return MergeFields(f, fields...)
}

func (f Fields) Prefix() string {
	if prefix, ok := f[prefixKey].(string); ok {
		return prefix
	}
	return ""
}

func (f Fields) Debug(format string, a ...any) {
	if !IsDebugEnabled() {
		return
	}
	Debug(f.prepend(format), a...)
}

func (f Fields) Info(format string, a ...any) {
	Info(f.prepend(format), a...)
}

func (f Fields) Warn(format string, a ...any) {
	Warn(f.prepend(format), a...)
}

func (f Fields) Error(format string, a ...any) {
	Error(f.prepend(format), a...)
}

func (f Fields) Fatal(format string, a ...any) {
	Fatal(f.prepend(format), a...)
}
