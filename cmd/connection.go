// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Line is an open connection to the bus
type Line interface {
	palantir.Bus
	io.Closer
}

// lineDepth is how many received symbols a line buffers ahead of the parser
const lineDepth = 4096

// ErrConnectionClosed is returned once the line's reader has stopped
var ErrConnectionClosed = errors.New("connection closed")

// wordQueue decouples a blocking reader goroutine from the non-blocking
// Bus.Read contract.
type wordQueue struct {
	words chan palantir.Word
	mu    sync.Mutex
	err   error
}

func newWordQueue() *wordQueue {
	return &wordQueue{words: make(chan palantir.Word, lineDepth)}
}

// fail records why the reader stopped and closes the queue
func (q *wordQueue) fail(err error) {
	q.mu.Lock()
	if q.err == nil {
		q.err = err
	}
	q.mu.Unlock()
	close(q.words)
}

func (q *wordQueue) Read() (palantir.Word, error) {
	select {
	case w, ok := <-q.words:
		if !ok {
			q.mu.Lock()
			defer q.mu.Unlock()
			if q.err == nil || errors.Is(q.err, io.EOF) {
				return 0, ErrConnectionClosed
			}
			return 0, q.err
		}
		return w, nil
	default:
		return 0, palantir.ErrWouldBlock
	}
}

// ---- SERIAL ----

// appendWireBytes encodes symbols for a byte-oriented UART: two bytes per
// symbol, low byte first, the address marker in bit 0 of the second byte.
func appendWireBytes(dst []byte, words []palantir.Word) []byte {
	for _, w := range words {
		dst = append(dst, byte(w), byte(w>>8)&0x01)
	}
	return dst
}

// wireDecoder pairs UART bytes back into symbols. A high byte can only be
// 0x00 or 0x01; anything else means a byte was lost or inserted, so that
// byte is taken as the low byte of the next symbol instead.
type wireDecoder struct {
	low     byte
	half    bool
	resyncs uint64
}

func (d *wireDecoder) feed(b byte) (palantir.Word, bool) {
	if !d.half {
		d.low = b
		d.half = true
		return 0, false
	}
	if b > 0x01 {
		d.low = b
		d.resyncs++
		return 0, false
	}
	d.half = false
	return palantir.Word(d.low) | palantir.Word(b)<<8, true
}

// SerialBus drives an RS-485 transceiver. RTS is the driver enable and is
// held for the whole burst.
type SerialBus struct {
	*wordQueue
	port serial.Port
	mu   sync.Mutex
	buf  []byte
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (*SerialBus, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
		InitialStatusBits: &serial.ModemOutputBits{
			RTS: false,
			DTR: true,
		},
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %v", portName, err)
	}

	s := &SerialBus{wordQueue: newWordQueue(), port: port}
	go s.readLoop()
	return s, nil
}

func (s *SerialBus) readLoop() {
	var dec wireDecoder
	buf := make([]byte, 128)
	for {
		n, err := s.port.Read(buf)
		if err != nil {
			s.fail(err)
			return
		}
		if n == 0 {
			// Port closed underneath us
			s.fail(io.EOF)
			return
		}
		for _, b := range buf[:n] {
			if w, ok := dec.feed(b); ok {
				s.words <- w
			}
		}
	}
}

// Send transmits one burst with the driver enabled
func (s *SerialBus) Send(words []palantir.Word) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buf = appendWireBytes(s.buf[:0], words)

	if err := s.port.SetRTS(true); err != nil {
		return fmt.Errorf("driver enable: %w", err)
	}
	_, err := s.port.Write(s.buf)
	if err == nil {
		err = s.port.Drain()
	}
	if rtsErr := s.port.SetRTS(false); err == nil && rtsErr != nil {
		err = fmt.Errorf("driver disable: %w", rtsErr)
	}
	return err
}

func (s *SerialBus) Close() error {
	return s.port.Close()
}

// ---- WEBSOCKET ----

// encodeBurst packs one burst into a WebSocket message body: a CBOR array
// of unsigned integers, one per symbol.
func encodeBurst(words []palantir.Word) ([]byte, error) {
	return cbor.Marshal(words)
}

// decodeBurst is the inverse of encodeBurst. Values outside 9 bits are
// rejected.
func decodeBurst(data []byte) ([]palantir.Word, error) {
	var words []palantir.Word
	if err := cbor.Unmarshal(data, &words); err != nil {
		return nil, err
	}
	for i, w := range words {
		if w > palantir.AddressMarker|0xFF {
			return nil, fmt.Errorf("symbol %d out of range: 0x%X", i, uint16(w))
		}
	}
	return words, nil
}

// WebSocketBus reaches the line through a bridge. Each burst travels as
// one binary message.
type WebSocketBus struct {
	*wordQueue
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWebSocketBus(conn *websocket.Conn) *WebSocketBus {
	w := &WebSocketBus{wordQueue: newWordQueue(), conn: conn}
	go w.readLoop()
	return w
}

func (w *WebSocketBus) readLoop() {
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			w.fail(err)
			return
		}

		// Only binary messages carry bursts
		if messageType != websocket.BinaryMessage {
			continue
		}

		words, err := decodeBurst(data)
		if err != nil {
			continue
		}
		for _, s := range words {
			w.words <- s
		}
	}
}

// Send transmits one burst as a single message
func (w *WebSocketBus) Send(words []palantir.Word) error {
	data, err := encodeBurst(words)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *WebSocketBus) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	// Best effort close handshake
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (*WebSocketBus, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %v", err)
	}

	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %v", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %v", err)
	}

	return newWebSocketBus(conn), nil
}

// passwordEnv names the variable holding the bridge password
const passwordEnv = "PALANTIR_PASSWORD"

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal; read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket line based on flags
func OpenConnection() (Line, string, error) {
	if wsURL != "" {
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// pollInterval is how long pump loops sleep when the line is idle
const pollInterval = 500 * time.Microsecond

// pumpLine feeds every symbol the line delivers to ingest until ctx ends
// or the line fails.
func pumpLine(ctx context.Context, line palantir.Bus, ingest func(palantir.Word)) error {
	for {
		w, err := line.Read()
		switch {
		case err == nil:
			ingest(w)
			continue
		case !errors.Is(err, palantir.ErrWouldBlock):
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
