// Package restapi exposes the in-cluster admin surface of the offload
// subsystem: live-session listing and predicate-driven terminate sweeps, used
// when a node is declared failed or a coordinator role changes hands.
package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/blocksql/osql/cel"
	"github.com/blocksql/osql/session"
)

type sessionsRestAPI struct {
	repo *session.Repository
}

// NewServer builds the gin engine serving the admin endpoints over repo.
func NewServer(repo *session.Repository) *gin.Engine {
	api := &sessionsRestAPI{repo: repo}
	r := gin.Default()
	r.GET("/sessions", api.GetSessions)
	r.POST("/sessions/terminate", api.TerminateSessions)
	return r
}

// GetSessions godoc
// @Summary GetSessions returns the live session summaries
// @Description GetSessions responds with every registered session's summary as JSON.
// @Produce json
// @Success 200 {object} []session.Summary
// @Router /sessions [get]
func (sra *sessionsRestAPI) GetSessions(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, sra.repo.Summaries())
}

type terminateRequest struct {
	// Node sweeps sessions originating from one engine instance; empty matches all
	// unless Expression narrows further.
	Node string `json:"node"`
	// Expression is an optional CEL predicate over the summary map, e.g.
	// "sess.elapsedMs > 30000".
	Expression string `json:"expression"`
}

type terminateResponse struct {
	Terminated int `json:"terminated"`
}

// TerminateSessions godoc
// @Summary TerminateSessions sweeps matching sessions
// @Description Marks terminated every session matching the node and/or CEL predicate.
// @Accept json
// @Produce json
// @Failure 400 {object} map[string]any
// @Success 200 {object} terminateResponse
// @Router /sessions/terminate [post]
func (sra *sessionsRestAPI) TerminateSessions(c *gin.Context) {
	var req terminateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, gin.H{"message": "invalid terminate request body"})
		return
	}

	var eval *cel.Evaluator
	if req.Expression != "" {
		var err error
		eval, err = cel.NewEvaluator(req.Expression)
		if err != nil {
			c.IndentedJSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
	}

	n := sra.repo.Sweep(func(s *session.Session) bool {
		if req.Node != "" && s.Node() != req.Node {
			return false
		}
		if eval == nil {
			return true
		}
		ok, err := eval.Evaluate(s.Summary().Map())
		if err != nil {
			// A predicate that errors on one session should not kill that session.
			return false
		}
		return ok
	})
	c.IndentedJSON(http.StatusOK, terminateResponse{Terminated: n})
}
