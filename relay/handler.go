package relay

import (
	"errors"
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// PostRequest is the relay request body
type PostRequest struct {
	Tweet         string `json:"tweet"`
	ProviderToken string `json:"providerToken"`
}

var corsHeaders = map[string]string{
	"Access-Control-Allow-Origin":  "*",
	"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	"Access-Control-Allow-Methods": "POST, OPTIONS",
}

func setCORS(c *gin.Context) {
	for k, v := range corsHeaders {
		c.Header(k, v)
	}
}

// Handler serves the relay over HTTP. Every path answers with a status code and a body.
func Handler(poster Poster) gin.HandlerFunc {
	return func(c *gin.Context) {
		setCORS(c)
		if c.Request.Method == http.MethodOptions {
			c.String(http.StatusOK, "ok")
			return
		}

		defer func() {
			if r := recover(); r != nil {
				log.Errorf("Relay panic: %v", r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"success": false,
					"error":   "Failed to post to Twitter",
				})
			}
		}()

		var req PostRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing tweet content or provider token"})
			return
		}

		log.WithFields(log.Fields{
			"tweet_length": len(req.Tweet),
			"has_token":    req.ProviderToken != "",
		}).Info("Relaying post to Twitter")

		data, err := poster.Post(c.Request.Context(), req.Tweet, req.ProviderToken)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
			return
		}

		var rerr *Error
		if errors.As(err, &rerr) && (rerr.Kind == KindInvalidInput || rerr.Kind == KindInvalidTokenFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": rerr.Message})
			return
		}

		log.WithError(err).Error("Error posting to Twitter")
		message := err.Error()
		if message == "" {
			message = "Failed to post to Twitter"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": message})
	}
}
