// Package api serves a read-only JSON view of dataset stores and training
// runs for pipeline monitoring.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"corpusidx/internal/config"
	"corpusidx/internal/execctx"
	"corpusidx/pkg/converter"
	"corpusidx/pkg/store"
	"corpusidx/pkg/training"
)

type Server struct {
	env       *execctx.Env
	router    *gin.Engine
	startTime time.Time
}

type HealthResponse struct {
	Status string `json:"status"`
	Device string `json:"device"`
	Uptime string `json:"uptime"`
	Memory string `json:"memory"`
}

type DatasetResponse struct {
	Kind  string      `json:"kind"`
	Stats store.Stats `json:"stats"`
}

type RunResponse struct {
	Name          string            `json:"name"`
	Dir           string            `json:"dir"`
	HasCheckpoint bool              `json:"has_checkpoint"`
	Epochs        int               `json:"epochs"`
	History       *training.History `json:"history,omitempty"`
}

func NewServer(env *execctx.Env) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{env: env, router: router, startTime: time.Now()}

	api := router.Group("/api/v1")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/datasets", s.handleListDatasets)
		api.GET("/datasets/:kind", s.handleDataset)
		api.GET("/datasets/:kind/commits", s.handleCommits)
		api.GET("/runs", s.handleListRuns)
		api.GET("/runs/:name", s.handleRun)
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.env.Logger.Info("API server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.env.Logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "healthy",
		Device: string(s.env.Device),
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
		Memory: execctx.ReadMemoryUsage().String(),
	})
}

func (s *Server) datasetStats(kind string) (store.Stats, error) {
	st, err := converter.OpenStore(s.env, kind, store.ReadOnly())
	if err != nil {
		return store.Stats{}, err
	}
	defer st.Close()
	return st.Stats()
}

func (s *Server) handleListDatasets(c *gin.Context) {
	out := make([]DatasetResponse, 0, len(config.DatasetKinds))
	for _, kind := range config.DatasetKinds {
		stats, err := s.datasetStats(kind)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": kind})
			return
		}
		out = append(out, DatasetResponse{Kind: kind, Stats: stats})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDataset(c *gin.Context) {
	kind := c.Param("kind")
	if !config.IsDatasetKind(kind) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown dataset kind"})
		return
	}
	stats, err := s.datasetStats(kind)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, DatasetResponse{Kind: kind, Stats: stats})
}

func (s *Server) handleCommits(c *gin.Context) {
	kind := c.Param("kind")
	if !config.IsDatasetKind(kind) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown dataset kind"})
		return
	}
	st, err := converter.OpenStore(s.env, kind, store.ReadOnly())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer st.Close()

	commits, err := st.History()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if commits == nil {
		commits = []store.Commit{}
	}
	c.JSON(http.StatusOK, gin.H{"kind": kind, "commits": commits})
}

func (s *Server) runsDir() string {
	return filepath.Dir(training.RunDir(s.env, "_"))
}

func (s *Server) handleListRuns(c *gin.Context) {
	entries, err := os.ReadDir(s.runsDir())
	if err != nil && !os.IsNotExist(err) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	runs := []string{}
	for _, e := range entries {
		if e.IsDir() {
			runs = append(runs, e.Name())
		}
	}
	sort.Strings(runs)
	c.JSON(http.StatusOK, gin.H{"model": s.env.Config.Train.Model, "runs": runs})
}

func (s *Server) handleRun(c *gin.Context) {
	name := c.Param("name")
	if name != filepath.Base(name) || name == "." || name == ".." {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run name"})
		return
	}
	dir := training.RunDir(s.env, name)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}

	resp := RunResponse{Name: name, Dir: dir}
	if _, err := os.Stat(filepath.Join(dir, training.ModelFile)); err == nil {
		resp.HasCheckpoint = true
	}
	h, err := training.LoadHistory(filepath.Join(dir, training.StatsFile))
	switch {
	case err == nil:
		resp.History = h
		resp.Epochs = h.Len()
	case !os.IsNotExist(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
