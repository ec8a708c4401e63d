package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/securecookie"
	"github.com/lmittmann/tint"
)

const (
	apiSessionName    = "community_bot_session"
	apiSessionUserKey = "admin_username"
)

// API is the HTTP admin/status surface: health and stats endpoints, plus
// authenticated pause/resume/quit controls. It's optional - the bot runs
// fine without it.
type API struct {
	b      *Bot
	config *APIConfig
	engine *gin.Engine
	server *http.Server
	logger *slog.Logger
}

func newAPI(b *Bot, config *APIConfig) (*API, error) {
	logger := slog.New(b.logHandler).With(loggerNameKey, "api")

	secret := []byte(config.Secret)
	if len(secret) == 0 {
		secret = securecookie.GenerateRandomKey(32)
		if secret == nil {
			return nil, errors.New("error generating session secret")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	store := cookie.NewStore(secret)
	sameSite := http.SameSiteStrictMode
	if config.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			Path:     "/",
			MaxAge:   int(config.SessionMaxAge.Seconds()),
			HttpOnly: true,
			SameSite: sameSite,
		},
	)
	engine.Use(sessions.Sessions(apiSessionName, store))
	engine.Use(
		cors.New(
			cors.Config{
				AllowOrigins:     []string{},
				AllowMethods:     []string{http.MethodGet, http.MethodPost},
				AllowHeaders:     []string{"Origin", "Content-Type"},
				AllowCredentials: true,
				MaxAge:           12 * time.Hour,
			},
		),
	)
	pprof.Register(engine)

	a := &API{
		b:      b,
		config: config,
		engine: engine,
		logger: logger,
	}
	a.routes()
	return a, nil
}

func (a *API) routes() {
	a.engine.GET("/api/health", a.health)
	a.engine.POST("/api/login", a.login)

	authed := a.engine.Group("/api", a.requireAuth)
	authed.GET("/status", a.status)
	authed.GET("/reminders", a.listReminders)
	authed.POST("/pause", a.pause)
	authed.POST("/resume", a.resume)
	authed.POST("/quit", a.quit)
	authed.POST("/logout", a.logout)
}

// Serve runs the API server until ctx is cancelled.
func (a *API) Serve(ctx context.Context) error {
	listener, err := net.Listen(a.config.ListenNetwork, a.config.Listen)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
	}
	a.server = &http.Server{
		Handler:           a.engine,
		ReadTimeout:       a.config.ReadTimeout,
		ReadHeaderTimeout: a.config.ReadHeaderTimeout,
		WriteTimeout:      a.config.WriteTimeout,
		IdleTimeout:       a.config.IdleTimeout,
	}
	a.logger.Info("api listening", "listen", a.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		if shutdownErr := a.server.Shutdown(shutdownCtx); shutdownErr != nil {
			a.logger.Error("api shutdown error", tint.Err(shutdownErr))
		}
		return ctx.Err()
	case err = <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) login(c *gin.Context) {
	var body struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	rc := a.b.RuntimeConfig()
	if rc.AdminUsername == "" || rc.AdminPassword == "" {
		c.JSON(
			http.StatusForbidden,
			gin.H{"error": "admin credentials not configured"},
		)
		return
	}
	ok, err := VerifyPassword(rc.AdminPassword, body.Password)
	if err != nil || !ok || body.Username != rc.AdminUsername {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	session := sessions.Default(c)
	session.Set(apiSessionUserKey, body.Username)
	if err = session.Save(); err != nil {
		a.logger.Error("error saving session", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) requireAuth(c *gin.Context) {
	session := sessions.Default(c)
	if session.Get(apiSessionUserKey) == nil {
		c.AbortWithStatusJSON(
			http.StatusUnauthorized,
			gin.H{"error": "not logged in"},
		)
		return
	}
	c.Next()
}

func (a *API) logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	_ = session.Save()
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *API) status(c *gin.Context) {
	c.JSON(
		http.StatusOK,
		gin.H{
			"version":             Version,
			"started_at":          a.b.startedAt,
			"paused":              a.b.Paused(),
			"pending_reminders":   a.b.reminders.Pending(),
			"pagination_sessions": a.b.paginator.ActiveSessions(),
		},
	)
}

func (a *API) listReminders(c *gin.Context) {
	var reminders []Reminder
	err := a.b.db.WithContext(c.Request.Context()).
		Order("due_at ASC").
		Limit(100).
		Find(&reminders).Error
	if err != nil {
		a.logger.Error("error listing reminders", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, reminders)
}

func (a *API) pause(c *gin.Context) {
	changed := a.b.Pause(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": true, "changed": changed})
}

func (a *API) resume(c *gin.Context) {
	changed := a.b.Resume(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"paused": false, "changed": changed})
}

func (a *API) quit(c *gin.Context) {
	a.logger.Warn("quit requested via api")
	c.JSON(http.StatusOK, gin.H{"status": "stopping"})
	a.b.Stop()
}
