package eventlog

import "strings"

// JobSubject builds a `farmhand.jobs.<kind>` subject, e.g. "video_to_stream"
// or "chat.save".
func JobSubject(kind string) string {
	return JobSubjectPrefix + kind
}

// EventSubject builds the canonical, all-lowercase
// `farmhand.events.twitch.events.<broadcaster>.<kind>` subject. broadcaster
// is lowercased here so every publisher produces the same subject for the
// same channel regardless of how the upstream payload capitalized it —
// callers must not lowercase it themselves and risk drifting from this.
func EventSubject(broadcaster, kind string) string {
	return EventSubjectPrefix + "twitch.events." + strings.ToLower(broadcaster) + "." + kind
}

// ParseEventSubject splits a `farmhand.events.twitch.events.<broadcaster>.
// <kind>` subject back into its broadcaster and kind parts. ok is false if
// subject doesn't have the expected shape.
func ParseEventSubject(subject string) (broadcaster, kind string, ok bool) {
	const root = EventSubjectPrefix + "twitch.events."
	if !strings.HasPrefix(subject, root) {
		return "", "", false
	}
	rest := subject[len(root):]
	idx := strings.LastIndex(rest, ".")
	if idx < 0 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}
