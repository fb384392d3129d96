package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/capitalize-ai/messaging-platform/internal/model"
)

const mediaPreviewChars = 80

var phoneRe = regexp.MustCompile(`^\+1\d{10}$`)

// ValidPhone reports whether number is in +1XXXXXXXXXX form.
func ValidPhone(number string) bool {
	return phoneRe.MatchString(number)
}

// Preview builds the conversation preview for a message body and its
// attachment count.
func Preview(body string, mediaCount int) string {
	text := strings.TrimSpace(body)
	switch {
	case mediaCount > 0 && text == "":
		return fmt.Sprintf("📎 %d attachment(s)", mediaCount)
	case mediaCount > 0:
		return truncate("📎 "+truncate(body, mediaPreviewChars)+"...", model.PreviewLimit)
	default:
		return truncate(body, model.PreviewLimit)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// MessageType is MMS when any media is attached.
func MessageType(media []model.MediaFile) model.MessageType {
	if len(media) > 0 {
		return model.MessageTypeMMS
	}
	return model.MessageTypeSMS
}

// MediaFilename names an attachment from its mime type, falling back to
// the mime subtype and then to "media".
func MediaFilename(mimeType string, index int) string {
	base := fmt.Sprintf("attachment-%d", index+1)
	mimeType = strings.TrimSpace(mimeType)
	if m := mimetype.Lookup(mimeType); m != nil && m.Extension() != "" {
		return base + m.Extension()
	}
	if _, sub, ok := strings.Cut(mimeType, "/"); ok && sub != "" {
		sub, _, _ = strings.Cut(sub, ";")
		return base + "." + sub
	}
	return base + ".media"
}
