package hub

import (
	"context"
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`@([\p{L}\p{N}_.\-]+)`)

// extractMentionTokens returns the bare @-tokens in a message body.
func extractMentionTokens(content string) []string {
	matches := mentionPattern.FindAllStringSubmatch(content, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}

// mentionedUsers maps @-tokens in the message body to participant user
// ids by display name, case-insensitively. Tokens that match nobody are
// ignored.
func (h *Hub) mentionedUsers(ctx context.Context, content string, participants []string) map[string]struct{} {
	tokens := extractMentionTokens(content)
	if len(tokens) == 0 {
		return nil
	}

	byName := make(map[string]string, len(participants))
	for _, userID := range participants {
		user, err := h.store.GetUser(ctx, userID)
		if err != nil {
			h.logger.Debug("mention lookup skipped participant", "user_id", userID, "error", err)
			continue
		}
		if user.DisplayName != "" {
			byName[strings.ToLower(user.DisplayName)] = userID
		}
	}

	mentioned := make(map[string]struct{})
	for _, token := range tokens {
		if userID, ok := byName[strings.ToLower(token)]; ok {
			mentioned[userID] = struct{}{}
		}
	}
	if len(mentioned) == 0 {
		return nil
	}
	return mentioned
}
