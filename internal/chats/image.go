package chats

import (
	"encoding/base64"
	"strings"

	"chatsync/internal/apperrors"
)

// ValidateImage accepts a base64 payload, optionally wrapped in a
// data:image/...;base64, URL, whose decoded size is at most maxBytes.
func ValidateImage(payload string, maxBytes int) error {
	if payload == "" {
		return apperrors.ErrEmptyMessage
	}
	data := payload
	if rest, ok := strings.CutPrefix(payload, "data:"); ok {
		header, body, found := strings.Cut(rest, ",")
		if !found || !strings.HasPrefix(header, "image/") || !strings.HasSuffix(header, ";base64") {
			return apperrors.ErrInvalidPayload
		}
		data = body
	}
	if data == "" {
		return apperrors.ErrEmptyMessage
	}
	if base64.StdEncoding.DecodedLen(len(data)) > maxBytes+2 {
		return apperrors.ErrMessageTooLarge
	}
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return apperrors.ErrInvalidPayload
	}
	if len(raw) > maxBytes {
		return apperrors.ErrMessageTooLarge
	}
	return nil
}
