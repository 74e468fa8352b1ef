package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"teachings/config"
	"teachings/logger"
	"teachings/openai"
	"teachings/teachings"
)

const (
	chatTimeout = 90 * time.Second
	noMatch     = "I could not find a passage in the teachings that addresses this question."
)

type (
	Generator interface {
		Generate(ctx context.Context, question string, chunks []teachings.ScoredChunk) (string, error)
	}

	// readiness reports whether the question answering pipeline is usable.
	// The server answers /health from the first request on and flips ready
	// once its dependencies are open.
	readiness struct {
		ready  atomic.Bool
		reason atomic.Value
	}

	chatHandler struct {
		log   *logger.Logger
		svc   *teachings.Service
		gen   Generator
		opts  teachings.RetrieveOptions
		state *readiness
	}

	chatRequest struct {
		Question string `json:"question"`
	}

	chatResponse struct {
		Response       string  `json:"response"`
		VideoURL       *string `json:"video_url"`
		VideoTimestamp *uint64 `json:"video_timestamp"`
		Teaching       string  `json:"teaching,omitempty"`
		Timestamp      string  `json:"timestamp,omitempty"`
	}
)

func (r *readiness) set(ready bool, reason string) {
	r.reason.Store(reason)
	r.ready.Store(ready)
}

func (r *readiness) get() (bool, string) {
	reason, _ := r.reason.Load().(string)
	return r.ready.Load(), reason
}

func newRouter(h *chatHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/chat", h.chat)
	r.GET("/health", h.health)
	return r
}

func (h *chatHandler) health(c *gin.Context) {
	ready, reason := h.state.get()
	body := gin.H{
		"status":                "healthy",
		"qa_system_initialized": ready,
	}
	if !ready && reason != "" {
		body["reason"] = reason
	}
	c.JSON(http.StatusOK, body)
}

func (h *chatHandler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No question provided"})
		return
	}
	if ready, reason := h.state.get(); !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "QA system not initialized: " + reason})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), chatTimeout)
	defer cancel()

	result, err := h.svc.Retrieve(ctx, question, h.opts)
	if err != nil {
		h.log.Error("retrieval failed", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Error processing question: " + err.Error()})
		return
	}
	if result.Empty() {
		c.JSON(http.StatusOK, chatResponse{Response: noMatch})
		return
	}

	answer, err := h.gen.Generate(ctx, question, result.Chunks)
	if err != nil {
		h.log.Error("generation failed", "error", err)
		c.JSON(statusFor(err), gin.H{"error": "Error processing question: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, answerResponse(answer, h.svc.Align(answer, result)))
}

// answerResponse attaches the aligned video position. The seek offset is only
// set together with a video URL, and the teaching header is prepended when
// the answer does not carry one.
func answerResponse(answer string, m *teachings.AlignmentResult) chatResponse {
	resp := chatResponse{Response: answer}
	if m == nil {
		return resp
	}
	resp.Teaching = m.TeachingID
	resp.Timestamp = clock(m.MatchedTimestamp)
	if m.Video != nil && m.Video.VideoURL != "" {
		url, ts := m.Video.VideoURL, m.MatchedTimestamp
		resp.VideoURL, resp.VideoTimestamp = &url, &ts
	}
	if !strings.Contains(answer, "Timestamp:") {
		var header []string
		if !strings.Contains(answer, "Teaching:") {
			header = append(header, "Teaching: "+m.TeachingID)
		}
		header = append(header, "Timestamp: "+resp.Timestamp)
		resp.Response = strings.Join(append(header, answer), "\n")
	}
	return resp
}

func clock(seconds uint64) string {
	return fmt.Sprintf("%02d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, teachings.ErrEmbeddingProvider), errors.Is(err, teachings.ErrIndexUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func runServer(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	gin.SetMode(gin.ReleaseMode)
	h := &chatHandler{
		log:   log.With("service", "ChatHandler"),
		opts:  cfg.Retrieve,
		gen:   openai.NewGenerator(openAIConfig(cfg), log),
		state: &readiness{},
	}
	h.state.set(false, "starting")

	srv := &http.Server{}
	srv.Addr = fmt.Sprintf(":%d", cfg.Port)
	srv.Handler = newRouter(h)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http listen and serve: %w", err)
		}
		close(serveErr)
	}()
	log.Info("listening", "addr", srv.Addr)

	d, err := openDeps(ctx, cfg, log)
	if err != nil {
		log.Error("qa system unavailable", "error", err)
		h.state.set(false, err.Error())
	} else {
		defer d.Close()
		h.svc = d.service
		h.state.set(true, "")
	}

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func initDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=10000")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite %s: %w", path, err)
	}

	_, err = db.Exec(`
	PRAGMA busy_timeout       = 10000;
	PRAGMA journal_mode       = WAL;
	PRAGMA journal_size_limit = 200000000;
	PRAGMA synchronous        = NORMAL;
	PRAGMA foreign_keys       = ON;
	PRAGMA temp_store         = MEMORY;
	PRAGMA cache_size         = -16000;`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("setting sqlite pragmas: %w", err)
	}

	return db, nil
}
