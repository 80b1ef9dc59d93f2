// Package backend is a small REST backend for the sync client. It keeps
// entities in memory and serves them under /api/{collection}.
package backend

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/RMMwalali/kraftbasic-sub001/internal/auth"
	apperrors "github.com/RMMwalali/kraftbasic-sub001/internal/errors"
	"github.com/RMMwalali/kraftbasic-sub001/internal/logging"
	"github.com/RMMwalali/kraftbasic-sub001/internal/models"
	"github.com/RMMwalali/kraftbasic-sub001/internal/remote"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Server serves a remote.MemoryBackend over HTTP.
type Server struct {
	router      *gin.Engine
	data        remote.MemoryBackend
	collections map[string]models.EntityType
}

// New builds the router. A nil jwt disables authentication.
func New(data remote.MemoryBackend, jwt *auth.JWTAuth) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:      gin.New(),
		data:        data,
		collections: make(map[string]models.EntityType, len(models.EntityTypes)),
	}
	for _, t := range models.EntityTypes {
		s.collections[t.Collection()] = t
	}

	s.router.Use(gin.Recovery(), requestLogger())
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	if jwt != nil {
		api.Use(jwt.GinMiddleware())
	}
	api.GET("/:collection", s.list)
	api.POST("/:collection", s.create)
	api.GET("/:collection/:id", s.get)
	api.PUT("/:collection/:id", s.update)
	api.DELETE("/:collection/:id", s.delete)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("backend listening", logging.Fields{"addr": addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("request", logging.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
	}
}

func (s *Server) client(c *gin.Context) (*remote.Memory, bool) {
	t, ok := s.collections[c.Param("collection")]
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: string(apperrors.ErrNotFound), Error: "unknown collection"})
		return nil, false
	}
	return s.data[t], true
}

func (s *Server) list(c *gin.Context) {
	m, ok := s.client(c)
	if !ok {
		return
	}
	filter := models.Filter{
		Field:  c.Query("field"),
		Value:  c.Query("value"),
		Limit:  queryInt(c, "limit"),
		Offset: queryInt(c, "offset"),
	}
	list, err := m.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) get(c *gin.Context) {
	m, ok := s.client(c)
	if !ok {
		return
	}
	e, err := m.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) create(c *gin.Context) {
	m, ok := s.client(c)
	if !ok {
		return
	}
	var payload models.Entity
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "decode body", err))
		return
	}
	e, err := m.Create(c.Request.Context(), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (s *Server) update(c *gin.Context) {
	m, ok := s.client(c)
	if !ok {
		return
	}
	var payload models.Entity
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeError(c, apperrors.Wrap(apperrors.ErrInvalid, "decode body", err))
		return
	}
	e, err := m.Update(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (s *Server) delete(c *gin.Context) {
	m, ok := s.client(c)
	if !ok {
		return
	}
	if err := m.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// StatusFor maps an error code to the HTTP status the backend replies with.
func StatusFor(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrInvalid, apperrors.ErrSerialization:
		return http.StatusBadRequest
	case apperrors.ErrRemoteRejected:
		return http.StatusConflict
	case apperrors.ErrUnauthorized:
		return http.StatusUnauthorized
	case apperrors.ErrRemoteUnavailable, apperrors.ErrOffline:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	c.JSON(StatusFor(err), ErrorResponse{Code: string(apperrors.CodeOf(err)), Error: err.Error()})
}
