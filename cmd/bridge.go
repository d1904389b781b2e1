// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 PinballWizards

package cmd

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/PinballWizards/palantir/pkg/palantir"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	bridgeListen  string
	bridgePath    string
	bridgeMonitor bool
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Serve a simulated bus line over WebSocket",
	Long: `Run a WebSocket hub that behaves like one shared half-duplex line.

Every burst a client sends is relayed, whole and in order, to every other
connected client. Point master, slave, send and monitor at it with --url to
exercise the protocol without hardware.

When --username is given, clients must present HTTP Basic credentials
matching it and the PALANTIR_PASSWORD password.

Examples:
  palantir bridge --listen :8485
  palantir master --url ws://localhost:8485/bus --slaves 2`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().StringVar(&bridgeListen, "listen", ":8485", "Listen address")
	bridgeCmd.Flags().StringVar(&bridgePath, "path", "/bus", "WebSocket endpoint path")
	bridgeCmd.Flags().BoolVar(&bridgeMonitor, "monitor", false, "Print every frame relayed through the hub")
}

// hub relays bursts between connected clients
type hub struct {
	upgrader websocket.Upgrader
	username string
	password string

	mu      sync.Mutex
	clients map[*hubClient]struct{}

	// Optional frame sniffer; guarded by mu
	sniffer *palantir.Parser
	onFrame func(palantir.Received)
}

type hubClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *hubClient) write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func newHub(username, password string) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		username: username,
		password: password,
		clients:  make(map[*hubClient]struct{}),
	}
}

// watch attaches a sniffer to the relayed traffic
func (h *hub) watch(checksum bool, onFrame func(palantir.Received)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sniffer = palantir.NewSniffer(checksum)
	h.onFrame = onFrame
}

func (h *hub) authorized(r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="palantir"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade failed: %v", err)
		return
	}

	c := &hubClient{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	log.Printf("Client connected: %s (%d on line)", r.RemoteAddr, n)

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		n := len(h.clients)
		h.mu.Unlock()
		conn.Close()
		log.Printf("Client disconnected: %s (%d on line)", r.RemoteAddr, n)
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}

		words, err := decodeBurst(data)
		if err != nil {
			log.Printf("Dropping malformed burst from %s: %v", r.RemoteAddr, err)
			continue
		}
		h.relay(c, data, words)
	}
}

// relay forwards one burst to every client except its sender. Each burst
// is a single WebSocket message, so bursts never interleave on a client;
// writes happen outside the hub lock so a stalled client only delays the
// sender's own relay.
func (h *hub) relay(from *hubClient, data []byte, words []palantir.Word) {
	h.mu.Lock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		if c != from {
			targets = append(targets, c)
		}
	}
	if h.sniffer != nil {
		for _, w := range words {
			h.sniffer.Ingest(w)
			if rx, ok := h.sniffer.PollMessage(); ok {
				h.onFrame(rx)
			}
		}
	}
	h.mu.Unlock()

	for _, c := range targets {
		if err := c.write(data); err != nil {
			log.Printf("Write to %s failed: %v", c.conn.RemoteAddr(), err)
		}
	}
}

// clientCount returns the number of connected clients
func (h *hub) clientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func runBridge(cmd *cobra.Command, args []string) error {
	password := ""
	if wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	h := newHub(wsUsername, password)
	if bridgeMonitor {
		h.watch(!noChecksum, func(rx palantir.Received) {
			fmt.Print(palantir.FormatReceived(rx, time.Now()))
		})
	}

	mux := http.NewServeMux()
	mux.Handle(bridgePath, h)
	srv := &http.Server{
		Addr:              bridgeListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Printf("Palantir - Bus Bridge\n")
	fmt.Printf("Listening on ws://%s%s\n", bridgeListen, bridgePath)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
