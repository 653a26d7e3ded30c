package models

import (
	"time"

	"github.com/google/uuid"
)

// Choice is one option offered at the end of a node.
type Choice struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	ConsequenceHint *string `json:"consequence_hint"`
}

// StoryNode is one narrative segment in a story tree.
// Nodes form a tree via parent_id; the root has no parent and depth 0.
type StoryNode struct {
	ID         int64                  `json:"id" db:"id"`
	StoryID    int64                  `json:"story_id" db:"story_id"`
	ParentID   *int64                 `json:"parent_id" db:"parent_id"`
	Content    string                 `json:"content" db:"content"`
	ChoiceText *string                `json:"choice_text" db:"choice_text"`
	Choices    []Choice               `json:"choices" db:"choices"`
	Metadata   map[string]interface{} `json:"node_metadata" db:"node_metadata"`
	IsRoot     bool                   `json:"is_root" db:"is_root"`
	IsEnding   bool                   `json:"is_ending" db:"is_ending"`
	Depth      int                    `json:"depth" db:"depth"`
	CreatedAt  time.Time              `json:"created_at" db:"created_at"`
}

// FindChoice returns the offered choice with the given id.
func (n *StoryNode) FindChoice(id string) (Choice, bool) {
	for _, c := range n.Choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// NewChoiceID returns a short opaque choice identifier.
func NewChoiceID() string {
	return uuid.NewString()[:8]
}

// NodeWithChildren is a node with its subtree attached.
type NodeWithChildren struct {
	StoryNode
	Children []*NodeWithChildren `json:"children"`
}

// BuildTree nests a flat node list under the node with rootID. Nodes whose
// parent is missing from the list are dropped.
func BuildTree(nodes []StoryNode, rootID int64) *NodeWithChildren {
	byID := make(map[int64]*NodeWithChildren, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &NodeWithChildren{StoryNode: nodes[i], Children: []*NodeWithChildren{}}
	}

	for i := range nodes {
		n := &nodes[i]
		if n.ParentID == nil {
			continue
		}
		if parent, ok := byID[*n.ParentID]; ok {
			parent.Children = append(parent.Children, byID[n.ID])
		}
	}

	return byID[rootID]
}
