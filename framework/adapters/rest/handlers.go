package rest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/akriventsev/activities/framework/activity"
	"github.com/akriventsev/activities/framework/store"
	"github.com/akriventsev/activities/framework/workflow"
)

// StartRunRequest тело запроса на запуск
type StartRunRequest struct {
	Input any    `json:"input,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

// WorkflowInfo описание зарегистрированного рабочего процесса
type WorkflowInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Timeout     string `json:"timeout,omitempty"`
}

// RunList страница запусков
type RunList struct {
	Runs  []*store.RunRecord `json:"runs"`
	Count int                `json:"count"`
}

func (s *Server) listWorkflows(c *gin.Context) {
	defs := s.runner.Registry().List()
	out := make([]WorkflowInfo, 0, len(defs))
	for _, def := range defs {
		out = append(out, WorkflowInfo{
			Name:        def.Name,
			Description: def.Description,
			Version:     def.Version,
			Timeout:     def.Timeout,
		})
	}
	c.JSON(http.StatusOK, gin.H{"workflows": out})
}

func (s *Server) startRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "INVALID_REQUEST"})
		return
	}

	opts := []workflow.StartOption{workflow.WithTrigger(workflow.TriggerAPI)}
	if req.RunID != "" {
		opts = append(opts, workflow.WithRunID(req.RunID))
	}
	name := c.Param("name")
	ctx := c.Request.Context()

	if wait, _ := strconv.ParseBool(c.Query("wait")); wait {
		if s.config.WaitTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.config.WaitTimeout)
			defer cancel()
		}
		rec, err := s.runner.Execute(ctx, name, req.Input, opts...)
		if err != nil {
			s.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
		return
	}

	rec, err := s.runner.Start(ctx, name, req.Input, opts...)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Location", s.config.BasePath+"/runs/"+rec.ID)
	c.JSON(http.StatusAccepted, rec)
}

func (s *Server) getRun(c *gin.Context) {
	rec, err := s.runner.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) cancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := s.runner.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

func (s *Server) listRuns(c *gin.Context) {
	filter := store.Filter{
		Workflow: c.Query("workflow"),
		State:    activity.RunState(c.Query("state")),
	}
	var err error
	if v := c.Query("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit", Code: "INVALID_REQUEST"})
			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid offset", Code: "INVALID_REQUEST"})
			return
		}
	}

	runs, err := s.runner.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, RunList{Runs: runs, Count: len(runs)})
}
