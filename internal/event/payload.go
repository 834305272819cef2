package event

import "time"

// Payload is the closed set of raw payload shapes adapters can produce.
// Anything an adapter cannot classify must be wrapped in Unrecognized and
// is dropped by the extraction engine as malformed, never accessed
// speculatively.
type Payload interface {
	payloadKind() string
}

// StandardEnvelope is a single notification without embedded sub-messages.
type StandardEnvelope struct {
	App              string
	Sender           string
	Title            string
	Body             string
	OriginID         string
	RenderGeneration int
	Posted           time.Time
}

// RichBundle is a notification envelope carrying embedded per-message
// items (a conversation-style notification). An envelope with Summary set
// and no items is a pure aggregate ("3 new messages") and carries no
// per-message information.
type RichBundle struct {
	StandardEnvelope
	Items   []BundleItem
	Summary bool
}

// BundleItem is one embedded sub-message of a rich bundle. Sender and
// Timestamp may be zero, in which case the envelope's values apply.
type BundleItem struct {
	Sender    string
	Body      string
	Timestamp time.Time
}

// TreeSnapshot is a captured hierarchy of on-screen accessibility nodes.
type TreeSnapshot struct {
	App      string
	Captured time.Time
	Root     *TreeNode
}

// TreeNode is one node of a UI-tree snapshot.
type TreeNode struct {
	Role        string      `json:"role"`
	Text        string      `json:"text"`
	Description string      `json:"description"`
	Editable    bool        `json:"editable"`
	Children    []*TreeNode `json:"children,omitempty"`
}

// UsageSample is one foreground session row from the usage journal.
type UsageSample struct {
	App      string
	Start    time.Time
	Duration time.Duration
	Launch   bool
}

// Unrecognized marks a payload the adapter could not classify.
type Unrecognized struct {
	Reason string
}

func (StandardEnvelope) payloadKind() string { return "standard_envelope" }
func (RichBundle) payloadKind() string       { return "rich_bundle" }
func (TreeSnapshot) payloadKind() string     { return "tree_snapshot" }
func (UsageSample) payloadKind() string      { return "usage_sample" }
func (Unrecognized) payloadKind() string     { return "unrecognized" }
