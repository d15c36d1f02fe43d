package service

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"github.com/dylangamachefl/portfolio-website-v3/chat"
	"github.com/gin-gonic/gin"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"
)

type messageReq struct {
	Message string `json:"message"`
}

type htmlMessage struct {
	Role chat.Role `json:"role"`
	Text string    `json:"text"`
	HTML string    `json:"html,omitempty"`
}

// textEvent is the payload of chunk, retry and notice stream events.
type textEvent struct {
	Text string `json:"text"`
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// NewRouter exposes the conversation manager over HTTP.
func NewRouter(mgr *Manager, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": mgr.Len()})
	})

	r.GET("/api/topics", func(c *gin.Context) {
		c.JSON(http.StatusOK, GetTopics(mgr.Profile()))
	})

	api := r.Group("/api/chats")

	api.POST("", func(c *gin.Context) {
		conv, err := mgr.Start(c.Request.Context())
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"id": conv.ID, "messages": conv.Messages()})
	})

	api.GET("/:id", func(c *gin.Context) {
		conv, err := mgr.Get(c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		resp := gin.H{
			"id":           conv.ID,
			"busy":         conv.Busy(),
			"retry_status": conv.RetryStatus(),
		}
		if c.Query("format") == "html" {
			msgs, err := renderHTML(conv.Messages())
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			resp["messages"] = msgs
		} else {
			resp["messages"] = conv.Messages()
		}
		c.JSON(http.StatusOK, resp)
	})

	api.POST("/:id/messages", func(c *gin.Context) {
		conv, req, ok := bindTurn(c, mgr)
		if !ok {
			return
		}
		reply, err := conv.Send(c.Request.Context(), req.Message)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"text": reply.Text, "messages": conv.Messages()})
	})

	api.POST("/:id/stream", func(c *gin.Context) {
		conv, req, ok := bindTurn(c, mgr)
		if !ok {
			return
		}
		started := false
		emit := func(event string, data any) {
			if !started {
				started = true
				c.Header("Cache-Control", "no-cache")
				c.Header("X-Accel-Buffering", "no")
			}
			// JSON keeps leading spaces and newlines intact; raw strings are
			// trimmed and split across data lines by the SSE encoder.
			c.SSEvent(event, data)
			c.Writer.Flush()
		}

		streamed := ""
		added, err := conv.Stream(c.Request.Context(), req.Message,
			func(chunk string) bool {
				streamed += chunk
				emit("chunk", textEvent{Text: chunk})
				return c.Request.Context().Err() == nil
			},
			func(banner string) { emit("retry", textEvent{Text: banner}) })
		if err != nil {
			abortWith(c, err)
			return
		}
		for _, n := range notices(added, streamed) {
			emit("notice", textEvent{Text: n})
		}
		emit("done", gin.H{"messages": conv.Messages()})
	})

	api.POST("/:id/reset", func(c *gin.Context) {
		conv, err := mgr.Get(c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		if err := conv.Reset(c.Request.Context()); err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": conv.ID, "messages": conv.Messages()})
	})

	api.DELETE("/:id", func(c *gin.Context) {
		if err := mgr.Delete(c.Param("id")); err != nil {
			abortWith(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	return r
}

func bindTurn(c *gin.Context, mgr *Manager) (*Conversation, messageReq, bool) {
	var req messageReq
	conv, err := mgr.Get(c.Param("id"))
	if err != nil {
		abortWith(c, err)
		return nil, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, req, false
	}
	return conv, req, true
}

func abortWith(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrSessionLimit):
		status = http.StatusServiceUnavailable
	case errors.Is(err, chat.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, chat.ErrEmptyMessage):
		status = http.StatusBadRequest
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// notices returns what the turn recorded beyond the streamed text, such as
// a connection notice replacing an empty reply or a partial-response note.
func notices(added []chat.Message, streamed string) []string {
	var out []string
	for i, m := range added {
		if m.Role != chat.RoleModel {
			continue
		}
		if i == 1 && m.Text == streamed {
			continue
		}
		out = append(out, m.Text)
	}
	return out
}

func renderHTML(msgs []chat.Message) ([]htmlMessage, error) {
	out := make([]htmlMessage, 0, len(msgs))
	for _, m := range msgs {
		hm := htmlMessage{Role: m.Role, Text: m.Text}
		if m.Role == chat.RoleModel {
			var buf bytes.Buffer
			if err := markdown.Convert([]byte(m.Text), &buf); err != nil {
				return nil, err
			}
			hm.HTML = buf.String()
		}
		out = append(out, hm)
	}
	return out, nil
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}
