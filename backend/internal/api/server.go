package api

import (
	"context"
	"errors"
	"net/http"

	"fundgraph/backend/internal/advisor"
	"fundgraph/backend/internal/catalog"
	"fundgraph/backend/internal/graph"
	"fundgraph/backend/internal/graphsync"
	"fundgraph/backend/internal/match"
	apperrors "fundgraph/backend/pkg/errors"
	"fundgraph/backend/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Syncer runs and reports graph synchronisation
type Syncer interface {
	Sync(ctx context.Context) graphsync.Result
	Status() graphsync.Status
}

// Deps are the components the API serves
type Deps struct {
	Store   *graph.Store
	Catalog *catalog.Catalog
	Matcher *match.Engine
	Advisor *advisor.Advisor
	Syncer  Syncer // nil when no durable store is configured
}

// Options tune the HTTP surface
type Options struct {
	ChatRatePerSecond float64
	ChatBurst         int
	Release           bool
}

const maxBodyBytes = 64 << 10

// Server exposes the graph, matching and chat over HTTP
type Server struct {
	deps   Deps
	router *gin.Engine
	logger *zap.Logger
}

// NewServer builds the router
func NewServer(deps Deps, opts Options) *Server {
	if opts.Release {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.ChatRatePerSecond <= 0 {
		opts.ChatRatePerSecond = 5
	}
	if opts.ChatBurst <= 0 {
		opts.ChatBurst = 10
	}

	s := &Server{
		deps:   deps,
		router: gin.New(),
		logger: logger.Named("api"),
	}
	s.router.Use(ginLogger(s.logger))
	s.router.Use(gin.Recovery())
	s.router.Use(cors())

	s.router.GET("/health", s.health)

	chatLimiter := rate.NewLimiter(rate.Limit(opts.ChatRatePerSecond), opts.ChatBurst)
	api := s.router.Group("/api")
	api.Use(limitBody(maxBodyBytes))
	{
		api.GET("/dashboard", s.dashboardDefault)
		api.POST("/dashboard", s.dashboard)
		api.GET("/user-profile", s.userProfile)
		api.GET("/profiles", s.profiles)
		api.POST("/chat", rateLimit(chatLimiter, s.logger), s.chat)
		api.GET("/opportunities", s.opportunities)
		api.GET("/opportunities/:id/insight", rateLimit(chatLimiter, s.logger), s.opportunityInsight)
		api.GET("/schemes", s.schemes)
		api.GET("/entities/:id", s.entity)
		api.POST("/match", s.match)
		api.GET("/graph/stats", s.graphStats)
		api.POST("/graph/sync", s.graphSync)
	}
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ============================================================================
// Handlers
// ============================================================================

func (s *Server) health(c *gin.Context) {
	body := gin.H{"status": "ok", "graph_version": s.deps.Store.Snapshot().Version()}
	if s.deps.Syncer != nil {
		body["sync"] = s.deps.Syncer.Status().State
	}
	c.JSON(http.StatusOK, body)
}

// profileRequest is a startup profile submitted by a founder
type profileRequest struct {
	ID string `json:"id"`
	graph.Startup
}

func (r profileRequest) startup() graph.Startup {
	st := r.Startup
	st.ID = r.ID
	if st.ID == "" {
		st.ID = "startup-" + uuid.NewString()
	}
	return st
}

func (s *Server) dashboardDefault(c *gin.Context) {
	profile, ok := s.lookupProfile(c)
	if !ok {
		return
	}
	s.renderDashboard(c, profile)
}

// userProfile returns a seeded demo profile, the first one unless ?id= names another
func (s *Server) userProfile(c *gin.Context) {
	profile, ok := s.lookupProfile(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": profileRequest{ID: profile.ID, Startup: profile}})
}

func (s *Server) profiles(c *gin.Context) {
	all := s.deps.Catalog.Profiles()
	views := make([]profileRequest, 0, len(all))
	for _, p := range all {
		views = append(views, profileRequest{ID: p.ID, Startup: p})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views, "count": len(views)})
}

func (s *Server) lookupProfile(c *gin.Context) (graph.Startup, bool) {
	if id := c.Query("id"); id != "" {
		profile, ok := s.deps.Catalog.Profile(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found", "id": id})
		}
		return profile, ok
	}
	profile, ok := s.deps.Catalog.DefaultProfile()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No demo profile loaded"})
	}
	return profile, ok
}

func (s *Server) dashboard(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.renderDashboard(c, req.startup())
}

func (s *Server) renderDashboard(c *gin.Context, profile graph.Startup) {
	d, err := s.deps.Advisor.Dashboard(profile)
	if err != nil {
		s.writeError(c, "Failed to build dashboard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": d})
}

func (s *Server) chat(c *gin.Context) {
	var req struct {
		Message        string `json:"message" binding:"required,max=2000"`
		ConversationID string `json:"conversation_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := s.deps.Advisor.Chat(c.Request.Context(), req.Message)
	if err != nil {
		s.writeError(c, "Failed to process message", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"answer":       resp.Answer,
		"sources":      resp.Sources,
		"context_used": resp.ContextUsed,
		"partial":      resp.Partial,
		"generated":    resp.Generated,
		"facts":        resp.Facts,
	})
}

// opportunityView adds the id the entity type keeps out of its attributes
type opportunityView struct {
	ID string `json:"id"`
	graph.Opportunity
}

func (s *Server) opportunities(c *gin.Context) {
	filter := catalog.OpportunityFilter{
		Sector: c.Query("sector"),
		Type:   c.DefaultQuery("type", c.Query("opp_type")),
	}
	opps := catalog.Opportunities(s.deps.Store.Snapshot(), filter)
	data := make([]opportunityView, 0, len(opps))
	for _, o := range opps {
		data = append(data, opportunityView{ID: o.ID, Opportunity: o})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "total": len(data)})
}

func (s *Server) opportunityInsight(c *gin.Context) {
	insight, err := s.deps.Advisor.OpportunityInsight(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, "Failed to build insight", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": insight})
}

type schemeView struct {
	ID string `json:"id"`
	graph.Scheme
}

func (s *Server) schemes(c *gin.Context) {
	schemes := catalog.SchemesFor(s.deps.Store.Snapshot(), c.Query("state"))
	data := make([]schemeView, 0, len(schemes))
	for _, sc := range schemes {
		data = append(data, schemeView{ID: sc.ID, Scheme: sc})
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data, "total": len(data)})
}

type neighborView struct {
	ID       string         `json:"id"`
	Type     graph.Kind     `json:"type"`
	Name     string         `json:"name"`
	Relation graph.EdgeType `json:"relation"`
	Outgoing bool           `json:"outgoing"`
}

func (s *Server) entity(c *gin.Context) {
	id := c.Param("id")
	snap := s.deps.Store.Snapshot()
	e, err := snap.GetEntity(id)
	if err != nil {
		s.writeError(c, "Failed to fetch entity", err)
		return
	}
	neighbors, err := snap.Neighbors(id, "", 1)
	if err != nil {
		s.writeError(c, "Failed to fetch entity", err)
		return
	}

	related := make([]neighborView, 0, len(neighbors))
	for _, n := range neighbors {
		related = append(related, neighborView{
			ID:       n.Entity.EntityID(),
			Type:     n.Entity.EntityKind(),
			Name:     n.Entity.DisplayName(),
			Relation: n.Edge.Type,
			Outgoing: n.Edge.From == id,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"id":         e.EntityID(),
		"type":       e.EntityKind(),
		"attributes": e,
		"neighbors":  related,
	})
}

func (s *Server) match(c *gin.Context) {
	var req struct {
		Type    string          `json:"type" binding:"required"`
		K       int             `json:"k"`
		Profile *profileRequest `json:"profile"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var profile graph.Startup
	if req.Profile != nil {
		profile = req.Profile.startup()
	} else {
		var ok bool
		if profile, ok = s.deps.Catalog.DefaultProfile(); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "profile is required"})
			return
		}
	}
	if err := graph.Validate(profile); err != nil {
		s.writeError(c, "Invalid profile", err)
		return
	}

	kind, err := graph.ParseKind(req.Type)
	if err != nil {
		s.writeError(c, "Invalid type", apperrors.NewValidation("", "type", err.Error()))
		return
	}
	results, err := s.deps.Matcher.Rank(profile, kind, req.K)
	if err != nil {
		s.writeError(c, "Failed to rank candidates", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": results, "total": len(results), "weights": s.deps.Matcher.Weights()})
}

func (s *Server) graphStats(c *gin.Context) {
	body := gin.H{"graph": s.deps.Store.Stats()}
	if s.deps.Syncer != nil {
		body["sync"] = s.deps.Syncer.Status()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) graphSync(c *gin.Context) {
	if s.deps.Syncer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No durable graph store configured"})
		return
	}
	result := s.deps.Syncer.Sync(c.Request.Context())
	status := http.StatusOK
	if result.State == graphsync.StateDegraded {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// ============================================================================
// Helper Functions
// ============================================================================

// writeError maps domain errors onto HTTP status codes
func (s *Server) writeError(c *gin.Context, msg string, err error) {
	_ = c.Error(err)

	var notFound *apperrors.ErrNotFound
	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, apperrors.ErrConcurrentWrite):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case apperrors.IsErrorType(err, apperrors.ErrorTypeContext), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": msg})
	default:
		s.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
