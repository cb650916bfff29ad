package handlers

import (
	"net/http"
	"strings"

	"gridwatch/models"
	"gridwatch/storage"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	gorilla "github.com/gorilla/websocket"
)

var upgrader = gorilla.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ListenReports upgrades to a WebSocket that receives every report change
func (h *Handlers) ListenReports(c *gin.Context) {
	if h.Hub == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "live feed is disabled"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warnf("Failed to upgrade connection to WebSocket: %v", err)
		return
	}
	h.Hub.Serve(conn)
}

// ServeObject serves public reads from the photo bucket
func (h *Handlers) ServeObject(c *gin.Context) {
	if c.Param("bucket") != h.Bucket.Name() {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Object not found"})
		return
	}
	objectPath := strings.TrimPrefix(c.Param("path"), "/")
	file, err := h.Bucket.Open(objectPath)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "Object not found"})
		return
	}
	// objects are served with a type from the extension whitelist, never sniffed
	c.Header("Content-Type", storage.ContentTypeFor(objectPath))
	if storage.IsImagePath(objectPath) {
		c.Header("Content-Disposition", "inline")
	} else {
		c.Header("Content-Disposition", "attachment")
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.File(file)
}
