package notify

import (
	"fmt"
	"strings"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
)

// Text renders a stored message as plain text for the agent gateway.
// It returns false when there is nothing worth forwarding.
func Text(msg store.Message) (string, bool) {
	content := ""
	if msg.Content != nil {
		content = strings.TrimSpace(*msg.Content)
	}

	if msg.Attributes.IsReaction {
		if content == "" {
			return "", false
		}
		return fmt.Sprintf("[reaction] %s to %s", content, msg.Attributes.InReplyToExternalID), true
	}

	var parts []string
	for _, a := range msg.Attachments {
		parts = append(parts, formatAttachment(a))
	}
	if content != "" {
		parts = append(parts, content)
	}
	if len(parts) == 0 {
		if msg.Attributes.IsUnsupported {
			return "[unsupported]", true
		}
		return "", false
	}
	return strings.Join(parts, "\n"), true
}

func formatAttachment(a store.Attachment) string {
	if a.FileType == store.FileContact {
		name := strings.TrimSpace(fmt.Sprintf("%s %s", metaString(a.Meta, "firstName"), metaString(a.Meta, "lastName")))
		if name == "" {
			return "[contact] " + a.FallbackTitle
		}
		return fmt.Sprintf("[contact] %s (%s)", name, a.FallbackTitle)
	}

	parts := []string{"[" + a.FileType + "]"}
	if a.FileName != "" {
		parts = append(parts, a.FileName)
	}
	if a.ContentType != "" {
		parts = append(parts, "("+a.ContentType+")")
	}
	if a.StorageKey != "" {
		parts = append(parts, a.StorageKey)
	}
	return strings.Join(parts, " ")
}

func metaString(meta map[string]any, key string) string {
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
