package extract

import (
	"strings"

	"guardiand/internal/event"
)

const (
	// maxTreeDepth bounds traversal on pathological or cyclic-looking
	// hierarchies. Message content in the supported apps sits well above
	// this depth's floor.
	maxTreeDepth = 12

	// minTextLength rejects fragments (single glyphs, timestamps like
	// "1m") that are never message bodies.
	minTextLength = 3
)

// structuralDenylist marks roles and accessible descriptions of chrome
// elements that carry text but are never message content. Matched
// case-insensitively as substrings.
var structuralDenylist = []string{
	"toolbar",
	"tool bar",
	"navigation",
	"nav bar",
	"status bar",
	"action bar",
	"input",
	"edit box",
	"compose",
	"button",
	"menu",
	"tab",
	"search",
}

// textDisplayRoles are role fragments that indicate a text-display
// element rather than a control or editable field.
var textDisplayRoles = []string{
	"text",
	"label",
	"static",
	"paragraph",
}

// outgoingMarkers lists, per app, the structural markers that indicate a
// message bubble authored on this device. The lists degrade silently when
// a third-party UI changes: an unmatched node stays received, which is
// the safe direction to be wrong in.
var outgoingMarkers = map[string][]string{
	"whatsapp":  {"outgoing", "message_out", "bubble_right"},
	"telegram":  {"outgoing", "sent"},
	"signal":    {"outgoing", "sent_bubble"},
	"snapchat":  {"chat_sent"},
	"instagram": {"outgoing", "direct_out"},
}

// fromTree walks a UI-tree snapshot and extracts candidate messages from
// text-display nodes.
func (e *Engine) fromTree(snap event.TreeSnapshot) []event.NormalizedMessage {
	if snap.Root == nil {
		return nil
	}
	app := normalizeApp(snap.App)
	conv := app + ":onscreen"
	markers := outgoingMarkers[app]

	var msgs []event.NormalizedMessage
	var walk func(node, parent *event.TreeNode, depth int)
	walk = func(node, parent *event.TreeNode, depth int) {
		if node == nil || depth > maxTreeDepth {
			return
		}
		if text, ok := candidateText(node); ok {
			direction := event.DirectionReceived
			if matchesMarker(node, markers) || matchesMarker(parent, markers) {
				direction = event.DirectionSent
			}
			body := truncateBody(text)
			msgs = append(msgs, event.NormalizedMessage{
				ID:             event.MessageID(app, conv, body, snap.Captured),
				SourceApp:      app,
				Body:           body,
				Direction:      direction,
				ConversationID: conv,
				ContentVisible: true,
				Timestamp:      snap.Captured,
			})
		}
		for _, child := range node.Children {
			walk(child, node, depth+1)
		}
	}
	walk(snap.Root, nil, 0)
	return msgs
}

// candidateText reports whether a node's text qualifies as a message
// body: length within bounds, a text-display role, not editable, and not
// excluded by the structural denylist.
func candidateText(node *event.TreeNode) (string, bool) {
	text := strings.TrimSpace(node.Text)
	if len(text) < minTextLength || len(text) >= event.MaxBodyLength {
		return "", false
	}
	if node.Editable {
		return "", false
	}

	role := strings.ToLower(node.Role)
	desc := strings.ToLower(node.Description)
	for _, deny := range structuralDenylist {
		if strings.Contains(role, deny) || strings.Contains(desc, deny) {
			return "", false
		}
	}

	for _, want := range textDisplayRoles {
		if strings.Contains(role, want) {
			return text, true
		}
	}
	return "", false
}

// matchesMarker checks a node's role and description against the app's
// outgoing markers.
func matchesMarker(node *event.TreeNode, markers []string) bool {
	if node == nil || len(markers) == 0 {
		return false
	}
	role := strings.ToLower(node.Role)
	desc := strings.ToLower(node.Description)
	for _, m := range markers {
		if strings.Contains(role, m) || strings.Contains(desc, m) {
			return true
		}
	}
	return false
}
