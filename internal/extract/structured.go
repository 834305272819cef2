package extract

import (
	"strings"
	"time"

	"guardiand/internal/event"
)

// selfSenders are sender labels messaging apps use for the device owner's
// own entries in a conversation bundle.
var selfSenders = map[string]bool{
	"you": true,
	"me":  true,
}

// fromEnvelope extracts a single message from a standard notification
// envelope.
func (e *Engine) fromEnvelope(env event.StandardEnvelope) []event.NormalizedMessage {
	msg, ok := e.buildMessage(env, env.Sender, env.Body, env.Posted)
	if !ok {
		return nil
	}
	return []event.NormalizedMessage{msg}
}

// fromBundle fans a rich bundle out into one record per embedded item.
// A bundle with no items is a pure aggregate ("3 new messages") carrying
// no per-message information and is discarded entirely.
func (e *Engine) fromBundle(b event.RichBundle) []event.NormalizedMessage {
	if len(b.Items) == 0 {
		e.log.Debug("discarding aggregate envelope", "app", b.App, "origin", b.OriginID)
		return nil
	}

	msgs := make([]event.NormalizedMessage, 0, len(b.Items))
	for _, item := range b.Items {
		sender := item.Sender
		if sender == "" {
			sender = b.Sender
		}
		ts := item.Timestamp
		if ts.IsZero() {
			ts = b.Posted
		}
		msg, ok := e.buildMessage(b.StandardEnvelope, sender, item.Body, ts)
		if !ok {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// buildMessage assembles a normalized message from envelope fields,
// applying redaction detection, direction inference, and the body cap.
func (e *Engine) buildMessage(env event.StandardEnvelope, sender, body string, ts time.Time) (event.NormalizedMessage, bool) {
	app := normalizeApp(env.App)
	contentVisible := true

	if isRedacted(app, body) {
		body = disclosureBody(app)
		contentVisible = false
	} else if strings.TrimSpace(body) == "" {
		// Non-redacting source with an empty body carries no information.
		return event.NormalizedMessage{}, false
	}
	body = truncateBody(body)

	direction := event.DirectionReceived
	if selfSenders[strings.ToLower(strings.TrimSpace(sender))] {
		direction = event.DirectionSent
	}

	conv := env.OriginID
	if conv == "" {
		conv = app + ":" + event.NormalizeBody(env.Sender)
	}

	return event.NormalizedMessage{
		ID:             event.MessageID(app, conv, body, ts),
		SourceApp:      app,
		Sender:         sender,
		Body:           body,
		Direction:      direction,
		ConversationID: conv,
		ContentVisible: contentVisible,
		Timestamp:      ts,
	}, true
}

// normalizeApp lowercases and trims an app identifier so dedup keys and
// document ids agree across adapters.
func normalizeApp(app string) string {
	return strings.ToLower(strings.TrimSpace(app))
}
