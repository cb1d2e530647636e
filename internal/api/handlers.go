package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/pbaille/govpulse/internal/domain"
	"github.com/pbaille/govpulse/internal/store"
)

// ParseRequest is the request body for parsing a post
type ParseRequest struct {
	ID           string    `json:"id"`
	Text         string    `json:"text"`
	AuthorHandle string    `json:"author_handle,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (s *Server) parse(c *gin.Context) {
	var req ParseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	post := domain.RawPost{
		ID:           req.ID,
		Text:         req.Text,
		AuthorHandle: req.AuthorHandle,
		CreatedAt:    req.CreatedAt,
	}
	if post.ID == "" {
		post.ID = uuid.New().String()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	res, err := s.deps.Parser.Parse(c.Request.Context(), post)
	if err != nil {
		if errors.Is(err, domain.ErrReferenceDataUnavailable) {
			s.deps.Logger.Warn("Parse rejected", "post_id", post.ID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "kind": domain.KindReferenceDataUnavailable})
			return
		}
		s.deps.Logger.Error("Parse failed", "post_id", post.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

// ResolveResponse is the response for a location lookup
type ResolveResponse struct {
	Name       string                `json:"name"`
	Candidates []domain.GeoHierarchy `json:"candidates"`
	Best       *domain.GeoHierarchy  `json:"best,omitempty"`
	Resolved   bool                  `json:"resolved"`
}

func (s *Server) resolve(c *gin.Context) {
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	text := c.Query("context")

	candidates, resolved := s.deps.Resolver.ResolveRanked(c.Request.Context(), name, text)
	resp := ResolveResponse{Name: name, Candidates: candidates, Resolved: resolved}
	if len(candidates) > 0 {
		resp.Best = &candidates[0]
	} else {
		resp.Candidates = []domain.GeoHierarchy{}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) addCorrection(c *gin.Context) {
	var req domain.GeoCorrection
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON: " + err.Error()})
		return
	}

	saved, err := s.deps.Corrections.AppendCorrection(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCorrection) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.deps.Logger.Error("Database error", "operation", "append_correction", "post_id", req.PostID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store correction"})
		return
	}
	c.JSON(http.StatusCreated, saved)
}

func (s *Server) listCorrections(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	out, err := s.deps.Corrections.ListCorrections(c.Request.Context(), c.Query("post_id"), limit)
	if err != nil {
		s.deps.Logger.Error("Database error", "operation", "list_corrections", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list corrections"})
		return
	}
	if out == nil {
		out = []domain.GeoCorrection{}
	}
	c.JSON(http.StatusOK, gin.H{"corrections": out, "count": len(out)})
}
