package handlers

import (
	"bufio"
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/busimap/stackops/internal/config"
)

type LogsHandler struct {
	cfg      *config.Config
	runtime  Runtime
	upgrader websocket.Upgrader
}

func NewLogsHandler(cfg *config.Config, runtime Runtime) *LogsHandler {
	return &LogsHandler{
		cfg:     cfg,
		runtime: runtime,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true // same-host operator tooling
			},
		},
	}
}

// Stream follows a service's container logs over a WebSocket, one text
// message per log line.
// GET /api/services/:name/logs?tail=100 (WebSocket upgrade)
func (h *LogsHandler) Stream(c *gin.Context) {
	svc, ok := h.cfg.Service(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "service not declared"})
		return
	}
	tail := c.DefaultQuery("tail", "100")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	logs, err := h.runtime.Logs(ctx, svc.Container, tail, true)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()))
		return
	}
	defer func() { _ = logs.Close() }()

	// The log stream is multiplexed; demultiplex into a pipe so it can
	// be scanned line by line.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, logs)
		_ = pw.CloseWithError(err)
	}()

	// Keep-alive pings, and drain client messages to notice closes.
	// Writes are serialized; the connection allows one writer at a time.
	var writeMu sync.Mutex
	write := func(messageType int, data []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(messageType, data)
	}
	go func() {
		defer cancel()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), 512*1024)
	for scanner.Scan() {
		if err := write(websocket.TextMessage, scanner.Bytes()); err != nil {
			return
		}
	}
}
