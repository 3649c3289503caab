// Package httpapi is the thin HTTP collaborator surface named in spec §6:
// a human reviewer browses sessions and the ledger, and drives HITL
// checkpoints over a websocket, without needing a full UI of its own.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/quorumlabs/quorum/internal/hitl"
	"github.com/quorumlabs/quorum/internal/ledger"
	"github.com/quorumlabs/quorum/internal/model"
	"github.com/quorumlabs/quorum/internal/session"
)

// Dependencies wires the subsystems the surface reads from or drives.
// Ledger and IndexPath may be empty/nil; the list routes (/ledger,
// /sessions) then report an empty list rather than erroring, while the
// single-entry ledger routes answer 404.
type Dependencies struct {
	Ledger    *ledger.Ledger
	IndexPath string
	HITL      *hitl.WebSocketHandler
	Logger    *log.Entry
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewRouter builds the gin.Engine exposing the collaborator surface.
func NewRouter(deps Dependencies) *gin.Engine {
	logger := deps.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ledger", func(c *gin.Context) {
		if deps.Ledger == nil {
			c.JSON(http.StatusOK, []model.LedgerEntry{})
			return
		}
		c.JSON(http.StatusOK, deps.Ledger.All())
	})

	r.GET("/ledger/:id", func(c *gin.Context) {
		if deps.Ledger == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no ledger configured"})
			return
		}
		entry, ok := deps.Ledger.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, entry)
	})

	r.GET("/ledger/:id/adr", func(c *gin.Context) {
		if deps.Ledger == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no ledger configured"})
			return
		}
		entry, ok := deps.Ledger.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.String(http.StatusOK, ledger.ExportADR(entry))
	})

	r.GET("/sessions", func(c *gin.Context) {
		if deps.IndexPath == "" {
			c.JSON(http.StatusOK, []session.IndexRow{})
			return
		}
		rows, err := session.ListIndex(deps.IndexPath)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	if deps.HITL != nil {
		r.GET("/hitl/stream", func(c *gin.Context) {
			conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
			if err != nil {
				logger.WithError(err).Warn("httpapi: websocket upgrade failed")
				return
			}
			deps.HITL.AddClient(conn)
			defer func() {
				deps.HITL.RemoveClient(conn)
				conn.Close()
			}()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		})

		r.POST("/hitl/:sessionID/:kind/decision", func(c *gin.Context) {
			body, err := c.GetRawData()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			decision, err := hitl.DecodeDecision(body)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			kind := hitl.CheckpointKind(c.Param("kind"))
			if !deps.HITL.Resolve(c.Param("sessionID"), kind, decision) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no checkpoint waiting for that session/kind"})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"status": "resolved"})
		})
	}

	return r
}
