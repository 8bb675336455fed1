package webhost

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/datacat/internal/connstore"
	"github.com/danmuck/datacat/internal/extension"
	"github.com/danmuck/datacat/internal/observability"
	"github.com/danmuck/datacat/internal/panel"
	"github.com/danmuck/datacat/internal/sidebar"
	"github.com/danmuck/datacat/internal/tree"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

//go:embed bridge.js
var bridgeScript []byte

const shutdownTimeout = 5 * time.Second

// Server exposes one activated extension and its surfaces over HTTP.
type Server struct {
	ID      string
	Addr    string
	Started time.Time

	ext      *extension.Extension
	host     *Host
	router   *gin.Engine
	upgrader websocket.Upgrader
	origins  []string
}

func NewServer(id, addr string, corsOrigins []string, ext *extension.Extension, host *Host) *Server {
	observability.RegisterMetrics()
	origins := normalizeOrigins(corsOrigins)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", observability.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		ext:     ext,
		host:    host,
		router:  r,
		origins: origins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.Addr).Str("server", s.ID).Msg("webhost_listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("webhost shutdown: %w", err)
	}
	log.Info().Str("server", s.ID).Msg("webhost_stopped")
	return nil
}

func (s *Server) registerRoutes() {
	r := s.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(s.Started).String(),
			"server":   s.ID,
			"panels":   s.ext.Pool().Len(),
			"surfaces": len(s.host.SurfaceIDs()),
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/bridge.js", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/javascript; charset=utf-8", bridgeScript)
	})
	r.GET("/assets/*filepath", s.serveAsset)

	api := r.Group("/api")
	api.GET("/tree", s.treeRoots)
	api.GET("/tree/events", s.treeEvents)
	api.GET("/tree/:connection", s.treeChildren)
	api.POST("/connections", s.createConnection)
	api.GET("/commands", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"commands": s.ext.Commands().List()})
	})
	api.POST("/commands/:name", s.executeCommand)
	api.GET("/panels", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"panels": s.ext.Panels()})
	})
	api.DELETE("/panels/:key", s.closePanel)

	r.GET("/panels/:id", s.panelPage)
	r.GET("/panels/:id/ws", s.panelSocket)
}

func (s *Server) treeRoots(c *gin.Context) {
	roots, err := s.ext.Tree().Roots(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": roots})
}

func (s *Server) treeChildren(c *gin.Context) {
	items, err := s.ext.Tree().Tables(c.Request.Context(), c.Param("connection"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// treeEvents streams a "refresh" server-sent event whenever the tree changes.
func (s *Server) treeEvents(c *gin.Context) {
	events, cancel := s.ext.Tree().Subscribe()
	defer cancel()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case _, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("refresh", tree.RefreshCommand)
			return true
		}
	})
}

func (s *Server) createConnection(c *gin.Context) {
	var form sidebar.Form
	if err := c.ShouldBindJSON(&form); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	conn, err := s.ext.Sidebar().CreateConnection(c.Request.Context(), form)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"connection": conn})
}

func (s *Server) executeCommand(c *gin.Context) {
	var body struct {
		Args []string `json:"args"`
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	name := c.Param("name")
	out, err := s.ext.Commands().Execute(c.Request.Context(), name, body.Args...)
	if err != nil {
		log.Warn().Err(err).Str("command", name).Msg("command_failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "command": name, "result": out})
}

func (s *Server) closePanel(c *gin.Context) {
	key := c.Param("key")
	closed, err := s.ext.Pool().Close(key)
	if err != nil {
		writeError(c, err)
		return
	}
	if !closed {
		c.JSON(http.StatusNotFound, gin.H{"error": "panel not open: " + key})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed", "key": key})
}

func (s *Server) panelPage(c *gin.Context) {
	surface, ok := s.host.Surface(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrSurfaceNotFound.Error()})
		return
	}
	c.Header("Content-Security-Policy", contentSecurityPolicy(surface.Options()))
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(injectBridge(surface.HTML(), surface.ID())))
}

func (s *Server) panelSocket(c *gin.Context) {
	surface, ok := s.host.Surface(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": ErrSurfaceNotFound.Error()})
		return
	}
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("surface", surface.ID()).Msg("surface_upgrade_failed")
		return
	}
	if err := surface.Serve(conn); err != nil {
		log.Debug().Err(err).Str("surface", surface.ID()).Msg("surface_serve_ended")
	}
}

func (s *Server) serveAsset(c *gin.Context) {
	full, err := s.host.ResolveAsset(c.Param("filepath"))
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	}
	c.File(full)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && strings.EqualFold(u.Host, r.Host) {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// injectBridge loads the websocket bridge ahead of the page's own scripts.
func injectBridge(page, surfaceID string) string {
	tag := `<script src="/bridge.js" data-surface="` + html.EscapeString(surfaceID) + `"></script>`
	if i := strings.Index(page, "<head>"); i >= 0 {
		i += len("<head>")
		return page[:i] + "\n    " + tag + page[i:]
	}
	return tag + page
}

func contentSecurityPolicy(opts panel.SurfaceOptions) string {
	directives := []string{
		"default-src 'none'",
		"img-src 'self' data:",
		"style-src 'self' 'unsafe-inline'",
		"font-src 'self'",
		"connect-src 'self' ws: wss:",
	}
	if opts.EnableScripts {
		directives = append(directives, "script-src 'self'")
	}
	return strings.Join(directives, "; ")
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, extension.ErrUnknownCommand),
		errors.Is(err, connstore.ErrConnectionNotFound),
		errors.Is(err, ErrSurfaceNotFound):
		status = http.StatusNotFound
	case errors.Is(err, extension.ErrBadArguments),
		errors.Is(err, connstore.ErrInvalidConnection),
		errors.Is(err, connstore.ErrInvalidRows),
		errors.Is(err, panel.ErrInvalidKey):
		status = http.StatusBadRequest
	case errors.Is(err, connstore.ErrConnectionExists):
		status = http.StatusConflict
	case errors.Is(err, ErrTooManySurfaces):
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:5173"}
	}
	return out
}
