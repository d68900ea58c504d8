package match

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// STOMPのコマンド。
const (
	CommandConnect     = "CONNECT"
	CommandStomp       = "STOMP"
	CommandConnected   = "CONNECTED"
	CommandSend        = "SEND"
	CommandSubscribe   = "SUBSCRIBE"
	CommandUnsubscribe = "UNSUBSCRIBE"
	CommandDisconnect  = "DISCONNECT"
	CommandMessage     = "MESSAGE"
	CommandReceipt     = "RECEIPT"
	CommandError       = "ERROR"
)

// STOMPのヘッダー名。
const (
	HeaderDestination = "destination"
	HeaderReceipt     = "receipt"
	HeaderReceiptID   = "receipt-id"
	HeaderMessage     = "message"
	HeaderMessageID   = "message-id"
	HeaderUserName    = "user-name"
	HeaderContentType = "content-type"
	HeaderVersion     = "version"
	HeaderSession     = "session"
	HeaderServer      = "server"
	HeaderHeartBeat   = "heart-beat"
)

var (
	// ErrMalformedFrame はフレームが解析できないことを表す。
	ErrMalformedFrame = errors.New("フレームの形式が不正です")
	// errHeartbeat は改行だけのハートビートを受け取ったことを表す。
	errHeartbeat = errors.New("heartbeat")
)

var (
	headerEscaper   = strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	headerUnescaper = strings.NewReplacer(`\\`, `\`, `\r`, "\r", `\n`, "\n", `\c`, ":")
)

// Header はフレームヘッダーの1項目。
type Header struct {
	Key   string
	Value string
}

// Frame はSTOMPフレーム。ヘッダーは受信した順序を保つ。
type Frame struct {
	Command string
	Headers []Header
	Body    []byte
}

// NewFrame は新しいフレームを生成する。
func NewFrame(command string, headers ...Header) *Frame {
	return &Frame{Command: command, Headers: headers}
}

// Get は最初に現れたヘッダーの値を返す。
// 同名のヘッダーが繰り返された場合は最初の値を優先する。
func (f *Frame) Get(name string) string {
	for _, h := range f.Headers {
		if h.Key == name {
			return h.Value
		}
	}
	return ""
}

// Set はヘッダーを追加する。
func (f *Frame) Set(key, value string) {
	f.Headers = append(f.Headers, Header{Key: key, Value: value})
}

// escapes はヘッダーのエスケープを行うコマンドかどうかを返す。
// CONNECTとその別名のSTOMP、CONNECTEDはエスケープしない。
func escapes(command string) bool {
	switch command {
	case CommandConnect, CommandStomp, CommandConnected:
		return false
	}
	return true
}

// ParseFrame はWebSocketのテキストメッセージ1件をフレームに変換する。
func ParseFrame(data []byte) (*Frame, error) {
	data = bytes.TrimLeft(data, "\r\n")
	if len(data) == 0 {
		return nil, errHeartbeat
	}
	end := bytes.LastIndexByte(data, 0)
	if end < 0 {
		return nil, fmt.Errorf("%w: NULで終端されていません", ErrMalformedFrame)
	}
	rest := data[:end]

	f := &Frame{}
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			return nil, fmt.Errorf("%w: ヘッダーの終端がありません", ErrMalformedFrame)
		}
		line := strings.TrimSuffix(string(rest[:i]), "\r")
		rest = rest[i+1:]

		if f.Command == "" {
			if line == "" {
				return nil, fmt.Errorf("%w: コマンドがありません", ErrMalformedFrame)
			}
			f.Command = line
			continue
		}
		if line == "" {
			break
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: ヘッダー %q", ErrMalformedFrame, line)
		}
		if escapes(f.Command) {
			key = headerUnescaper.Replace(key)
			value = headerUnescaper.Replace(value)
		}
		f.Set(key, value)
	}
	f.Body = rest
	return f, nil
}

// Bytes はフレームを送信用のバイト列に変換する。
func (f *Frame) Bytes() []byte {
	var b bytes.Buffer
	b.WriteString(f.Command)
	b.WriteByte('\n')
	for _, h := range f.Headers {
		key, value := h.Key, h.Value
		if escapes(f.Command) {
			key = headerEscaper.Replace(key)
			value = headerEscaper.Replace(value)
		}
		b.WriteString(key)
		b.WriteByte(':')
		b.WriteString(value)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	b.Write(f.Body)
	b.WriteByte(0)
	return b.Bytes()
}
