package extract

import "strings"

// redactingApps sometimes withhold message content from their
// notifications. For these, an empty or placeholder body means the
// content exists but was not disclosed; the engine must record that fact
// without guessing at the hidden text.
var redactingApps = map[string]bool{
	"snapchat": true,
	"signal":   true,
}

// placeholderPhrases are bodies the redacting apps substitute for hidden
// content. Matched case-insensitively after trimming.
var placeholderPhrases = []string{
	"new message",
	"new messages",
	"new snap",
	"new snaps",
	"new chat",
	"sent you a message",
	"sent a message",
	"tap to view",
}

// isRedacted reports whether a body from the given app is a withheld-
// content placeholder rather than real message text.
func isRedacted(app, body string) bool {
	if !redactingApps[app] {
		return false
	}
	trimmed := strings.ToLower(strings.TrimSpace(body))
	if trimmed == "" {
		return true
	}
	for _, phrase := range placeholderPhrases {
		if trimmed == phrase {
			return true
		}
	}
	return false
}

// disclosureBody is the fixed placeholder recorded for withheld content.
// It names the source so the record stays meaningful downstream.
func disclosureBody(app string) string {
	return "[content hidden by " + app + "]"
}
