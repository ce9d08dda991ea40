package notify

// Kind identifies what a notification is about. The set is closed: a
// kind unknown to this package is a caller bug and fails dispatch
// loudly instead of silently dropping the notification.
type Kind string

const (
	KindChatMessage        Kind = "chat_message"
	KindChatMention        Kind = "chat_mention"
	KindChatReaction       Kind = "chat_reaction"
	KindDriveShared        Kind = "drive_shared"
	KindDrivePermission    Kind = "drive_permission"
	KindBusinessInvitation Kind = "business_invitation"
	KindMemberRequest      Kind = "member_request"
	KindSystemAlert        Kind = "system_alert"
	KindCalendarReminder   Kind = "calendar_reminder"
)

var kinds = map[Kind]struct{}{
	KindChatMessage:        {},
	KindChatMention:        {},
	KindChatReaction:       {},
	KindDriveShared:        {},
	KindDrivePermission:    {},
	KindBusinessInvitation: {},
	KindMemberRequest:      {},
	KindSystemAlert:        {},
	KindCalendarReminder:   {},
}

// Valid reports whether the kind belongs to the known set.
func (k Kind) Valid() bool {
	_, ok := kinds[k]
	return ok
}

// ExcludesSender reports whether fan-out skips the triggering sender.
// System alerts and calendar reminders have no human sender to exclude.
func (k Kind) ExcludesSender() bool {
	switch k {
	case KindSystemAlert, KindCalendarReminder:
		return false
	default:
		return true
	}
}

func (k Kind) String() string { return string(k) }
