package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sessionSendBuffer = 64
	writeWait         = 5 * time.Second
	pongWait          = 90 * time.Second
	pingPeriod        = 30 * time.Second
	maxFrameSize      = 64 << 10
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("session send buffer full")
)

// WSSession is a live websocket connection. All writes go through one writer goroutine
// so frames reach the client in the order they were queued.
type WSSession struct {
	id        string
	userID    string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSSession(userID string, conn *websocket.Conn) *WSSession {
	s := &WSSession{
		id:     uuid.NewString(),
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sessionSendBuffer),
		done:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

func (s *WSSession) ID() string { return s.id }

func (s *WSSession) UserID() string { return s.userID }

// Send queues frame without blocking. A full buffer means the client is not keeping up;
// the frame is dropped rather than stalling the pusher.
func (s *WSSession) Send(frame []byte) error {
	select {
	case <-s.done:
		return errSessionClosed
	default:
	}
	select {
	case s.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

func (s *WSSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}

func (s *WSSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = s.Close()
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = s.Close()
				return
			}
		}
	}
}

// prepareRead applies the read limit and keeps the read deadline alive on pongs.
func (s *WSSession) prepareRead() {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (s *WSSession) readFrame() ([]byte, error) {
	_, raw, err := s.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	return raw, nil
}
