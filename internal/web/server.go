// Package web exposes a small authenticated HTTP surface for operators:
// liveness, live voice-session state, and recent play history.
package web

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/calliope/internal/models"
	"github.com/zulandar/calliope/internal/voice"
	"gorm.io/gorm"
)

// historyLimit caps the /api/history response.
const historyLimit = 50

// StartOpts holds configuration for the web server.
type StartOpts struct {
	Registry   *voice.Registry
	DB         *gorm.DB // optional; disables /api/history when nil
	Port       int
	AuthSecret string // generated and logged when empty
	Out        io.Writer
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Registry == nil {
		return fmt.Errorf("web: registry is required")
	}
	if opts.Port <= 0 {
		opts.Port = 5000
	}
	secret := opts.AuthSecret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return fmt.Errorf("web: generate auth secret: %w", err)
		}
		secret = generated
		if opts.Out != nil {
			fmt.Fprintf(opts.Out, "web: generated auth secret: %s\n", secret)
		}
	}

	router := buildRouter(opts.Registry, opts.DB, secret)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "web: listening at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web: %w", err)
	}
	return nil
}

// buildRouter assembles the Gin router with all routes and middleware.
func buildRouter(registry *voice.Registry, db *gorm.DB, secret string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), securityHeaders())

	router.GET("/healthz", handleHealth)

	api := router.Group("/api", requireAuth(secret))
	api.GET("/status", handleStatus(registry))
	api.GET("/sessions", handleSessions(registry))
	api.GET("/history", handleHistory(db))

	return router
}

// securityHeaders sets conservative defaults on every response.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// requireAuth checks the Bearer token on API routes.
func requireAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// sessionView is the JSON shape of one voice session.
type sessionView struct {
	ChatID    string `json:"chat_id"`
	State     string `json:"state"`
	Connected bool   `json:"connected"`
	Muted     bool   `json:"muted"`
	Artifact  string `json:"artifact,omitempty"`
}

func toView(st voice.Status) sessionView {
	return sessionView{
		ChatID:    st.ChatID,
		State:     string(st.State),
		Connected: st.Connected,
		Muted:     st.Muted,
		Artifact:  st.Artifact,
	}
}

// handleStatus summarizes the voice subsystem.
func handleStatus(registry *voice.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := registry.Statuses()
		playing := 0
		for _, st := range statuses {
			if st.State == voice.StatePlaying {
				playing++
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions": len(statuses),
			"playing":  playing,
		})
	}
}

// handleSessions lists every live voice session.
func handleSessions(registry *voice.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses := registry.Statuses()
		views := make([]sessionView, len(statuses))
		for i, st := range statuses {
			views[i] = toView(st)
		}
		c.JSON(http.StatusOK, gin.H{"sessions": views})
	}
}

// handleHistory returns the most recent play records.
func handleHistory(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db == nil {
			c.JSON(http.StatusOK, gin.H{"plays": []models.PlayRecord{}})
			return
		}
		var plays []models.PlayRecord
		err := db.Order("played_at desc").Limit(historyLimit).Find(&plays).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"plays": plays})
	}
}

// generateSecret returns a random 32-hex-char token.
func generateSecret() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
