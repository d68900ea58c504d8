package match

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nao1215/edgeauth/pkg/handshake"
	"github.com/nao1215/edgeauth/pkg/identity"
)

const (
	// protocolVersion は応答するSTOMPのバージョン。
	protocolVersion = "1.2"
	// serverName はCONNECTEDフレームのserverヘッダー。
	serverName = "edgeauth-match/1.0"
	// protectedPrefix は認証済み接続だけが送信できる宛先の接頭辞。
	protectedPrefix = "/app/match"
	// writeTimeout はフレーム1件の書き込みに掛けられる時間。
	writeTimeout = 5 * time.Second
	// readLimit は受信するメッセージの最大バイト数。
	readLimit = 64 * 1024
)

// エラーフレームのmessageヘッダー。
const (
	msgNotAuthenticated   = "not authenticated"
	msgConnectRequired    = "connect required"
	msgAlreadyConnected   = "already connected"
	msgMalformedFrame     = "malformed frame"
	msgUnsupported        = "unsupported command"
	msgMissingDestination = "destination required"
)

// connectHeaders は接続開始フレームのヘッダー。
// フレームにqueryヘッダーが無い場合はWebSocketアップグレード時のクエリ文字列を使う。
type connectHeaders struct {
	frame    *Frame
	rawQuery string
}

func (h connectHeaders) Get(name string) string {
	if v := h.frame.Get(name); v != "" {
		return v
	}
	if name == handshake.HeaderQuery {
		return h.rawQuery
	}
	return ""
}

// session は1つのWebSocket接続のSTOMPセッション。
// フレームの読み書きは run を実行する単一のゴルーチンだけが行う。
type session struct {
	id        string
	conn      *websocket.Conn
	binding   *handshake.Binding
	rawQuery  string
	connected bool
	logger    *zap.Logger
}

func newSession(conn *websocket.Conn, binding *handshake.Binding, rawQuery string, logger *zap.Logger) *session {
	id := ulid.Make().String()
	return &session{
		id:       id,
		conn:     conn,
		binding:  binding,
		rawQuery: rawQuery,
		logger:   logger.With(zap.String("session", id)),
	}
}

// run は接続が閉じられるまでフレームを処理する。
func (s *session) run(ctx context.Context) {
	s.conn.SetReadLimit(readLimit)
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if status := websocket.CloseStatus(err); status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				s.logger.Debug("接続が閉じられました")
			} else if !errors.Is(err, context.Canceled) {
				s.logger.Info("接続の読み込みを終了", zap.Error(err))
			}
			return
		}
		if typ != websocket.MessageText {
			if !s.writeError(ctx, msgMalformedFrame, "", "テキストメッセージのみ受け付けます") {
				return
			}
			continue
		}

		f, err := ParseFrame(data)
		if errors.Is(err, errHeartbeat) {
			continue
		}
		if err != nil {
			if !s.writeError(ctx, msgMalformedFrame, "", err.Error()) {
				return
			}
			continue
		}
		if done := s.handle(ctx, f); done {
			return
		}
	}
}

// handle はフレーム1件を処理する。接続を終えるべき場合はtrueを返す。
func (s *session) handle(ctx context.Context, f *Frame) bool {
	if f.Command == CommandConnect || f.Command == CommandStomp {
		return !s.handleConnect(ctx, f)
	}
	if !s.connected {
		s.writeError(ctx, msgConnectRequired, f.Get(HeaderReceipt), "最初のフレームはCONNECTである必要があります")
		_ = s.conn.Close(websocket.StatusPolicyViolation, msgConnectRequired)
		return true
	}

	switch f.Command {
	case CommandSend:
		return !s.handleSend(ctx, f)
	case CommandSubscribe, CommandUnsubscribe:
		return !s.writeReceipt(ctx, f)
	case CommandDisconnect:
		s.writeReceipt(ctx, f)
		_ = s.conn.Close(websocket.StatusNormalClosure, "")
		return true
	default:
		return !s.writeError(ctx, msgUnsupported, f.Get(HeaderReceipt), f.Command)
	}
}

// handleConnect は接続開始フレームで一度だけ認証を行い、CONNECTEDを返す。
// 認証に失敗しても接続は続行し、未認証のセッションになる。
func (s *session) handleConnect(ctx context.Context, f *Frame) bool {
	if s.connected {
		return s.writeError(ctx, msgAlreadyConnected, f.Get(HeaderReceipt), "")
	}
	s.connected = true

	reply := NewFrame(CommandConnected,
		Header{HeaderVersion, protocolVersion},
		Header{HeaderServer, serverName},
		Header{HeaderSession, s.id},
		Header{HeaderHeartBeat, "0,0"},
	)
	if id, ok := s.binding.Bind(connectHeaders{frame: f, rawQuery: s.rawQuery}); ok {
		reply.Set(HeaderUserName, id.Username)
		s.logger.Info("認証済みセッションを開始", zap.String("username", id.Username))
	} else {
		s.logger.Info("未認証セッションを開始")
	}
	return s.write(ctx, reply)
}

// handleSend はSENDフレームに対してMESSAGEを返す。
// 保護された宛先への送信は束縛されたIdentityが無ければERRORを返す。接続は閉じない。
func (s *session) handleSend(ctx context.Context, f *Frame) bool {
	receipt := f.Get(HeaderReceipt)
	dest := f.Get(HeaderDestination)
	if dest == "" {
		return s.writeError(ctx, msgMissingDestination, receipt, "")
	}

	id, err := requireIdentity(s.binding)
	if err != nil && isProtected(dest) {
		s.logger.Warn("未認証セッションによる保護された宛先への送信を拒否", zap.String("destination", dest))
		return s.writeError(ctx, msgNotAuthenticated, receipt, dest)
	}

	msg := NewFrame(CommandMessage,
		Header{HeaderDestination, dest},
		Header{HeaderMessageID, ulid.Make().String()},
	)
	if id != nil {
		msg.Set(HeaderUserName, id.Username)
	}
	if ct := f.Get(HeaderContentType); ct != "" {
		msg.Set(HeaderContentType, ct)
	}
	msg.Body = f.Body
	if !s.write(ctx, msg) {
		return false
	}
	return s.writeReceipt(ctx, f)
}

// errNotAuthenticated はセッションにIdentityが束縛されていないことを表す。
var errNotAuthenticated = errors.New(msgNotAuthenticated)

// requireIdentity は操作ごとの認証ゲート。束縛されたIdentityが無ければエラーを返す。
func requireIdentity(b *handshake.Binding) (*identity.Identity, error) {
	id, ok := b.Identity()
	if !ok {
		return nil, errNotAuthenticated
	}
	return id, nil
}

// isProtected は宛先が認証済み接続を必要とするかどうかを返す。
func isProtected(dest string) bool {
	return dest == protectedPrefix || strings.HasPrefix(dest, protectedPrefix+"/")
}

// writeReceipt はreceiptヘッダーがあればRECEIPTを返す。
func (s *session) writeReceipt(ctx context.Context, f *Frame) bool {
	receipt := f.Get(HeaderReceipt)
	if receipt == "" {
		return true
	}
	return s.write(ctx, NewFrame(CommandReceipt, Header{HeaderReceiptID, receipt}))
}

// writeError はERRORフレームを送る。
func (s *session) writeError(ctx context.Context, message, receipt, detail string) bool {
	f := NewFrame(CommandError,
		Header{HeaderMessage, message},
		Header{HeaderContentType, "text/plain"},
	)
	if receipt != "" {
		f.Set(HeaderReceiptID, receipt)
	}
	f.Body = []byte(detail)
	return s.write(ctx, f)
}

// write はフレームを1件送る。失敗した場合はfalseを返す。
func (s *session) write(ctx context.Context, f *Frame) bool {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(ctx, websocket.MessageText, f.Bytes()); err != nil {
		s.logger.Info("フレームの書き込みに失敗", zap.String("command", f.Command), zap.Error(err))
		return false
	}
	return true
}
