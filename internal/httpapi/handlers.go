package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jkaninda/hive/internal/agent"
	"github.com/jkaninda/hive/internal/commandcenter"
	"github.com/jkaninda/hive/internal/delegation"
	"github.com/jkaninda/hive/internal/domain"
	"github.com/jkaninda/hive/internal/task"
	"github.com/jkaninda/okapi"
)

// **** Task request/response types ****

// SubmitTaskRequest is the JSON body for POST /v1/tasks.
type SubmitTaskRequest struct {
	Type       string         `json:"type"`
	Details    map[string]any `json:"details,omitempty"`
	Priority   *int           `json:"priority,omitempty"` // Omitted = default (5).
	ParentID   string         `json:"parent_id,omitempty"`
	Deadline   *time.Time     `json:"deadline,omitempty"`
	MaxRetries int            `json:"max_retries,omitempty"`
}

// SubmitTaskResponse is returned with HTTP 201.
type SubmitTaskResponse struct {
	ID     string      `json:"id"`
	Status task.Status `json:"status"`
}

// TaskResponse is the public view of a task.
type TaskResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Details      map[string]any `json:"details"`
	Priority     int            `json:"priority"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	Status       task.Status    `json:"status"`
	AttemptCount int            `json:"attempt_count"`
	MaxRetries   int            `json:"max_retries"`
	Result       any            `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	ParentID     string         `json:"parent_id,omitempty"`
	Children     []string       `json:"children"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// TreeNode is a task and its descendants.
type TreeNode struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Status   task.Status `json:"status"`
	Children []TreeNode  `json:"children"`
}

// MemoryResponse is the body of GET /v1/memory.
type MemoryResponse struct {
	Query   string   `json:"query"`
	Matches []string `json:"matches"`
}

// AgentResponse is the public view of an agent.
type AgentResponse = agent.StatusReport

func (r SubmitTaskRequest) validate() error {
	if r.Type == "" {
		return errors.New("type is required")
	}
	if r.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if r.Deadline != nil && r.Deadline.Before(time.Now()) {
		return errors.New("deadline is in the past")
	}
	return nil
}

func (r SubmitTaskRequest) toSubmitRequest() commandcenter.SubmitRequest {
	return commandcenter.SubmitRequest{
		Type:       r.Type,
		Details:    r.Details,
		Priority:   r.Priority,
		ParentID:   r.ParentID,
		Deadline:   r.Deadline,
		MaxRetries: r.MaxRetries,
	}
}

func toTaskResponse(r task.Record) TaskResponse {
	children := r.Children
	if children == nil {
		children = []string{}
	}
	return TaskResponse{
		ID:           r.ID,
		Type:         r.Type,
		Details:      r.Details,
		Priority:     r.Priority,
		Deadline:     r.Deadline,
		Status:       r.Status,
		AttemptCount: r.AttemptCount,
		MaxRetries:   r.MaxRetries,
		Result:       r.Result,
		Error:        r.Error,
		ParentID:     r.ParentID,
		Children:     children,
		AssignedTo:   r.AssignedTo,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

func toTreeNode(n *delegation.Node) TreeNode {
	out := TreeNode{ID: n.ID, Type: n.Type, Status: n.Status, Children: make([]TreeNode, 0, len(n.Children))}
	for _, c := range n.Children {
		out.Children = append(out.Children, toTreeNode(c))
	}
	return out
}

// parseStatus validates the ?status= filter. Empty means no filter.
func parseStatus(raw string) (task.Status, error) {
	if raw == "" {
		return "", nil
	}
	s := task.Status(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", raw)
	}
	return s, nil
}

func filterTasks(records []task.Record, status task.Status) []TaskResponse {
	out := make([]TaskResponse, 0, len(records))
	for _, r := range records {
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, toTaskResponse(r))
	}
	return out
}

// submitStatus maps a submission error to an HTTP status code.
func submitStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrDataIntegrity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// parseMemoryQuery reads ?q= (required) and ?n= (optional, 0 = store default).
func parseMemoryQuery(values url.Values) (string, int, error) {
	q := strings.TrimSpace(values.Get("q"))
	if q == "" {
		return "", 0, errors.New("q is required")
	}
	n := 0
	if raw := values.Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			return "", 0, fmt.Errorf("invalid n %q", raw)
		}
		n = v
	}
	return q, n, nil
}

// **** Task handlers ****

func (s *Server) handleTaskList(c *okapi.Context) error {
	status, err := parseStatus(c.Request().URL.Query().Get("status"))
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	return c.OK(filterTasks(s.cc.ListAllTasks(), status))
}

func (s *Server) handleTaskSubmit(c *okapi.Context) error {
	var req SubmitTaskRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("invalid request body")
	}
	if err := req.validate(); err != nil {
		return c.AbortBadRequest(err.Error())
	}

	id, err := s.cc.Submit(c.Context(), req.toSubmitRequest())
	if err != nil {
		code := submitStatus(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("task submission failed", slog.String("error", err.Error()))
			return c.AbortInternalServerError("submission failed")
		}
		return c.JSON(code, ErrorBody{Error: err.Error()})
	}
	return c.JSON(http.StatusCreated, SubmitTaskResponse{ID: id, Status: task.StatusPending})
}

func (s *Server) handleTaskGet(c *okapi.Context) error {
	rec, ok := s.cc.GetTaskDetails(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "task not found"})
	}
	return c.OK(toTaskResponse(rec))
}

func (s *Server) handleTaskTree(c *okapi.Context) error {
	node, ok := s.cc.GetTaskHierarchy(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "task not found"})
	}
	return c.OK(toTreeNode(node))
}

func (s *Server) handleTaskCancel(c *okapi.Context) error {
	id := c.Param("id")
	if s.cc.CancelTask(c.Context(), id) {
		return c.OK(map[string]string{"status": string(task.StatusCancelled)})
	}
	status, ok := s.cc.GetTaskStatus(id)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "task not found"})
	}
	return c.JSON(http.StatusConflict, ErrorBody{Error: fmt.Sprintf("task is already %s", status)})
}

// **** Memory handlers ****

func (s *Server) handleMemoryQuery(c *okapi.Context) error {
	q, n, err := parseMemoryQuery(c.Request().URL.Query())
	if err != nil {
		return c.AbortBadRequest(err.Error())
	}
	matches, err := s.cc.QueryMemory(c.Context(), q, n)
	if err != nil {
		s.logger.Error("memory query failed", slog.String("error", err.Error()))
		return c.AbortInternalServerError("memory query failed")
	}
	if matches == nil {
		matches = []string{}
	}
	return c.OK(MemoryResponse{Query: q, Matches: matches})
}

// **** Agent handlers ****

func (s *Server) handleAgentList(c *okapi.Context) error {
	return c.OK(s.cc.ListAllAgents())
}

func (s *Server) handleAgentGet(c *okapi.Context) error {
	st, ok := s.cc.GetAgentStatus(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorBody{Error: "agent not found"})
	}
	return c.OK(st)
}
