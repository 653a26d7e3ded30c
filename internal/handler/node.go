package handler

import (
	"log/slog"
	"net/http"

	"branchtale/internal/domain/services"
	"branchtale/internal/httputil"
)

// NodeHandler handles hand-authored node edits
type NodeHandler struct {
	treeService services.TreeService
	logger      *slog.Logger
}

// NewNodeHandler creates a new node handler
func NewNodeHandler(treeService services.TreeService, logger *slog.Logger) *NodeHandler {
	return &NodeHandler{
		treeService: treeService,
		logger:      logger,
	}
}

// nodeParams reads the story and node ids shared by every node route
func nodeParams(w http.ResponseWriter, r *http.Request) (storyID, nodeID int64, ok bool) {
	if storyID, ok = PathParam(w, r, "id", "Story ID"); !ok {
		return 0, 0, false
	}
	if nodeID, ok = PathParam(w, r, "node_id", "Node ID"); !ok {
		return 0, 0, false
	}
	return storyID, nodeID, true
}

// CreateNode attaches a node to the story tree
// POST /api/v1/stories/{id}/nodes
func (h *NodeHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	var req services.CreateNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	node, err := h.treeService.CreateNode(r.Context(), storyID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusCreated, node)
}

// ListNodes returns every node of the story
// GET /api/v1/stories/{id}/nodes
func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	storyID, ok := PathParam(w, r, "id", "Story ID")
	if !ok {
		return
	}

	nodes, err := h.treeService.ListNodes(r.Context(), storyID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, nodes)
}

// GetNode returns a node with its direct children
// GET /api/v1/stories/{id}/nodes/{node_id}
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	storyID, nodeID, ok := nodeParams(w, r)
	if !ok {
		return
	}

	node, err := h.treeService.GetNode(r.Context(), storyID, nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// UpdateNode applies a partial update
// PATCH /api/v1/stories/{id}/nodes/{node_id}
func (h *NodeHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	storyID, nodeID, ok := nodeParams(w, r)
	if !ok {
		return
	}

	var req services.UpdateNodeRequest
	if err := httputil.ParseJSON(w, r, &req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	node, err := h.treeService.UpdateNode(r.Context(), storyID, nodeID, &req)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, node)
}

// DeleteNode removes a node and its subtree
// DELETE /api/v1/stories/{id}/nodes/{node_id}
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	storyID, nodeID, ok := nodeParams(w, r)
	if !ok {
		return
	}

	if err := h.treeService.DeleteNode(r.Context(), storyID, nodeID); err != nil {
		handleError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetPath returns the nodes from the root down to the node
// GET /api/v1/stories/{id}/nodes/{node_id}/path
func (h *NodeHandler) GetPath(w http.ResponseWriter, r *http.Request) {
	storyID, nodeID, ok := nodeParams(w, r)
	if !ok {
		return
	}

	path, err := h.treeService.GetPath(r.Context(), storyID, nodeID)
	if err != nil {
		handleError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, path)
}
