package handlers

import (
	"errors"
	"net/http"
	"strings"

	"gridwatch/middleware"
	"gridwatch/models"
	"gridwatch/session"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// ListProviders returns the sign-in providers offered
func (h *Handlers) ListProviders(c *gin.Context) {
	providers := h.Auth.Providers()
	if providers == nil {
		providers = []models.Provider{}
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers})
}

// Login starts an OAuth sign-in. API clients asking for JSON get the URL; browsers are redirected.
func (h *Handlers) Login(c *gin.Context) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: session.ErrUnknownProvider.Error()})
		return
	}
	url, err := h.Auth.SignIn(provider)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrUnknownProvider) {
			status = http.StatusNotFound
		}
		c.JSON(status, models.ErrorResponse{Error: err.Error()})
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		c.JSON(http.StatusOK, gin.H{"url": url})
		return
	}
	c.Redirect(http.StatusFound, url)
}

// Callback completes an OAuth sign-in and sets the session cookie
func (h *Handlers) Callback(c *gin.Context) {
	provider, err := models.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: session.ErrUnknownProvider.Error()})
		return
	}
	if providerErr := c.Query("error"); providerErr != "" {
		msg := c.DefaultQuery("error_description", providerErr)
		log.WithField("provider", provider).Warnf("Sign-in refused by provider: %s", msg)
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: msg})
		return
	}

	identity, token, err := h.Auth.Complete(c.Request.Context(), provider, c.Query("state"), c.Query("code"))
	if err != nil {
		log.WithError(err).WithField("provider", provider).Error("Sign-in failed")
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: err.Error()})
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.SessionCookie, token, int(h.SessionTTL.Seconds()), "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": identity, "redirect": "/"})
}

// CurrentSession returns the signed-in identity, or null
func (h *Handlers) CurrentSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"user": middleware.Identity(c)})
}

// Logout ends the caller's session and clears the cookie
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.Auth.SignOut(c.Request.Context(), middleware.Identity(c)); err != nil {
		log.WithError(err).Error("Sign-out failed")
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{Error: "Failed to sign out"})
		return
	}
	c.SetCookie(middleware.SessionCookie, "", -1, "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, models.MessageResponse{Message: "Signed out"})
}
