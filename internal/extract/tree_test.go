package extract

import (
	"testing"
	"time"

	"guardiand/internal/event"
)

func snapshot(app string, root *event.TreeNode) event.RawEvent {
	return event.RawEvent{
		Source: event.SourceSnapshot,
		Payload: event.TreeSnapshot{
			App:      app,
			Captured: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
			Root:     root,
		},
	}
}

func TestTreeExtractsTextNodes(t *testing.T) {
	e := testEngine()
	root := &event.TreeNode{
		Role: "frame",
		Children: []*event.TreeNode{
			{Role: "text view", Text: "hey, are you coming?"},
			{Role: "text view", Text: "yes, on my way"},
		},
	}
	msgs, err := e.Extract(snapshot("whatsapp", root))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	for _, m := range msgs {
		if m.Direction != event.DirectionReceived {
			t.Error("unmarked nodes must default to received")
		}
	}
}

func TestTreeDenylistExclusions(t *testing.T) {
	e := testEngine()
	root := &event.TreeNode{
		Role: "frame",
		Children: []*event.TreeNode{
			{Role: "Toolbar", Text: "WhatsApp chats"},
			{Role: "text view", Description: "message input", Text: "draft text"},
			{Role: "text input", Text: "typing here", Editable: true},
			{Role: "Button", Text: "Send"},
			{Role: "navigation text", Text: "Back to chats"},
			{Role: "text view", Text: "the only real message"},
		},
	}
	msgs, err := e.Extract(snapshot("whatsapp", root))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "the only real message" {
		t.Errorf("denylist failed: got %+v", msgs)
	}
}

func TestTreeLengthBounds(t *testing.T) {
	e := testEngine()
	root := &event.TreeNode{
		Role: "frame",
		Children: []*event.TreeNode{
			{Role: "text", Text: "ok"},  // too short
			{Role: "text", Text: "1m"},  // too short
			{Role: "text", Text: "okay"},
		},
	}
	msgs, err := e.Extract(snapshot("telegram", root))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Body != "okay" {
		t.Errorf("length bounds failed: got %+v", msgs)
	}
}

func TestTreeDirectionFromNodeAndParent(t *testing.T) {
	e := testEngine()
	root := &event.TreeNode{
		Role: "frame",
		Children: []*event.TreeNode{
			{Role: "text view outgoing", Text: "sent directly marked"},
			{
				Role: "group bubble_right",
				Children: []*event.TreeNode{
					{Role: "text view", Text: "sent via parent marker"},
				},
			},
			{Role: "text view", Text: "plain received"},
		},
	}
	msgs, err := e.Extract(snapshot("whatsapp", root))
	if err != nil {
		t.Fatal(err)
	}
	byBody := map[string]event.Direction{}
	for _, m := range msgs {
		byBody[m.Body] = m.Direction
	}
	if byBody["sent directly marked"] != event.DirectionSent {
		t.Error("node marker not detected")
	}
	if byBody["sent via parent marker"] != event.DirectionSent {
		t.Error("parent marker not detected")
	}
	if byBody["plain received"] != event.DirectionReceived {
		t.Error("unmarked node promoted to sent")
	}
}

func TestTreeUnknownAppNeverSent(t *testing.T) {
	e := testEngine()
	root := &event.TreeNode{
		Role: "frame",
		Children: []*event.TreeNode{
			{Role: "text view outgoing", Text: "looks outgoing but app unknown"},
		},
	}
	msgs, err := e.Extract(snapshot("some-new-app", root))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Direction != event.DirectionReceived {
		t.Error("apps without marker lists must stay received")
	}
}

func TestTreeDepthBound(t *testing.T) {
	e := testEngine()

	// A chain far deeper than the bound, with a message at the bottom.
	deepest := &event.TreeNode{Role: "text", Text: "unreachable message"}
	node := deepest
	for i := 0; i < 100; i++ {
		node = &event.TreeNode{Role: "group", Children: []*event.TreeNode{node}}
	}
	shallow := &event.TreeNode{Role: "text", Text: "reachable message"}
	root := &event.TreeNode{Role: "frame", Children: []*event.TreeNode{shallow, node}}

	done := make(chan []event.NormalizedMessage, 1)
	go func() {
		msgs, _ := e.Extract(snapshot("telegram", root))
		done <- msgs
	}()

	select {
	case msgs := <-done:
		if len(msgs) != 1 || msgs[0].Body != "reachable message" {
			t.Errorf("expected only the shallow message, got %+v", msgs)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("traversal did not terminate on a pathological hierarchy")
	}
}

func TestTreeNilRoot(t *testing.T) {
	e := testEngine()
	msgs, err := e.Extract(snapshot("telegram", nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 0 {
		t.Error("nil root should yield nothing")
	}
}
