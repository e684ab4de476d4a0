package util

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/transform"
)

// CharsetAuto 按常见旧编码逐个尝试解码
const CharsetAuto = "auto"

// LookupCharset 解析设备输出编码名称；UTF-8 与空名称返回 nil（无需转换）
func LookupCharset(name string) (encoding.Encoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf-8", "utf8", CharsetAuto:
		return nil, nil
	}
	enc, err := htmlindex.Get(n)
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", name, err)
	}
	return enc, nil
}

// NewTerminalReader 在 r 外层套上流式解码器，多字节字符跨读块时由解码器自行拼接
func NewTerminalReader(r io.Reader, charset string) (io.Reader, error) {
	enc, err := LookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return r, nil
	}
	return transform.NewReader(r, enc.NewDecoder()), nil
}

// DecodeTerminal 将整段终端输出转为 UTF-8，无法解码的字节被丢弃
func DecodeTerminal(b []byte, charset string) string {
	if len(b) == 0 {
		return ""
	}
	if strings.EqualFold(strings.TrimSpace(charset), CharsetAuto) {
		return strings.ToValidUTF8(EnsureUTF8Bytes(b), "")
	}
	enc, err := LookupCharset(charset)
	if err != nil || enc == nil {
		return strings.ToValidUTF8(string(b), "")
	}
	if s, ok := tryDecode(enc, b); ok {
		return s
	}
	return strings.ToValidUTF8(string(b), "")
}

// CompletePrefix 返回 b 中不以残缺 UTF-8 序列结尾的最长前缀长度
func CompletePrefix(b []byte) int {
	n := len(b)
	for i := n - 1; i >= 0 && i >= n-utf8.UTFMax; i-- {
		if !utf8.RuneStart(b[i]) {
			continue
		}
		if !utf8.FullRune(b[i:]) {
			return i
		}
		break
	}
	return n
}

// EnsureUTF8Bytes 非 UTF-8 输出按常见中文/西文旧编码依次尝试
func EnsureUTF8Bytes(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if utf8.Valid(b) {
		return string(b)
	}
	encs := []encoding.Encoding{
		simplifiedchinese.GB18030,
		simplifiedchinese.GBK,
		traditionalchinese.Big5,
		charmap.Windows1252,
	}
	for _, enc := range encs {
		if s, ok := tryDecode(enc, b); ok {
			return s
		}
	}
	return string(b)
}

func tryDecode(enc encoding.Encoding, b []byte) (string, bool) {
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil {
		return "", false
	}
	if utf8.Valid(decoded) {
		return string(decoded), true
	}
	return "", false
}
