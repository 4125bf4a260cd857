package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/parlorhq/parlor/internal/service"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxCommandSize = 64 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The original server accepted any origin; auth is out of scope.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one websocket connection. Commands it sends are dispatched
// to the orchestrator; events addressed to everyone arrive on send.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	svc  *service.Service
	send chan []byte
	// done is closed by the hub on unregister; it is the only shutdown
	// signal for writePump and for broadcasts already holding this
	// client.
	done chan struct{}
	log  *slog.Logger
}

// Serve returns the gin handler that upgrades connections and runs the
// client pumps.
func Serve(hub *Hub, svc *service.Service, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "ws")

	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return
		}

		client := &Client{
			hub:  hub,
			conn: conn,
			svc:  svc,
			send: make(chan []byte, sendBufferSize),
			done: make(chan struct{}),
			log:  log,
		}
		hub.register(client)

		go client.writePump()
		go client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxCommandSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("read failed", "error", err)
			}
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.log.Warn("bad command frame", "error", err)
			continue
		}

		// Each command runs in its own goroutine with a background
		// context: an in-flight generation must keep mutating the
		// store even if this connection goes away mid-stream.
		go c.dispatch(cmd)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case body := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *Client) dispatch(cmd Command) {
	ctx := context.Background()

	switch cmd.Type {
	case CommandCreateChat:
		c.svc.CreateChat(ctx)

	case CommandDeleteChat:
		c.svc.DeleteChat(ctx, cmd.ChatID)

	case CommandRenameChat:
		c.svc.RenameChat(ctx, cmd.ChatID, cmd.Title)

	case CommandDeleteMessage:
		c.svc.DeleteMessage(ctx, cmd.ChatID, cmd.MessageID)

	case CommandChatMessage:
		c.svc.ChatMessage(ctx, service.ChatMessageArgs{
			ChatID:           cmd.ChatID,
			APIKey:           cmd.APIKey,
			Message:          cmd.Message,
			Model:            cmd.Model,
			Temperature:      cmd.Temperature,
			TopP:             cmd.TopP,
			N:                cmd.N,
			Stop:             cmd.Stop,
			MaxTokens:        cmd.MaxTokens,
			PresencePenalty:  cmd.PresencePenalty,
			FrequencyPenalty: cmd.FrequencyPenalty,
			LogitBias:        cmd.LogitBias,
			RetryCount:       cmd.RetryCount,
			FetchTimeout:     time.Duration(cmd.FetchTimeout) * time.Millisecond,
			ReadTimeout:      time.Duration(cmd.ReadTimeout) * time.Millisecond,
			RetryInterval:    time.Duration(cmd.RetryInterval) * time.Millisecond,
			TotalTime:        time.Duration(cmd.TotalTime) * time.Millisecond,
		})

	case CommandImageRequest:
		c.svc.ImageRequest(ctx, service.ImageRequestArgs{
			ChatID:     cmd.ChatID,
			APIKey:     cmd.APIKey,
			Message:    cmd.Message,
			ImageToken: cmd.ImageToken,
		})

	default:
		c.log.Warn("unknown command", "type", cmd.Type)
	}
}
