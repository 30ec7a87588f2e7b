package eventlog

import "testing"

func TestEventSubjectIsLowercased(t *testing.T) {
	got := EventSubject("ShroudFPS", "stream_online")
	want := "farmhand.events.twitch.events.shroudfps.stream_online"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestJobSubject(t *testing.T) {
	if got := JobSubject("video_to_stream"); got != "farmhand.jobs.video_to_stream" {
		t.Fatalf("unexpected subject: %s", got)
	}
	if got := JobSubject("chat.save"); got != "farmhand.jobs.chat.save" {
		t.Fatalf("unexpected subject: %s", got)
	}
}

func TestParseEventSubjectRoundTrips(t *testing.T) {
	subject := EventSubject("ShroudFPS", "chat_message")
	broadcaster, kind, ok := ParseEventSubject(subject)
	if !ok {
		t.Fatalf("expected ok=true for %q", subject)
	}
	if broadcaster != "shroudfps" || kind != "chat_message" {
		t.Fatalf("got broadcaster=%q kind=%q", broadcaster, kind)
	}
}

func TestParseEventSubjectRejectsUnrelatedSubject(t *testing.T) {
	if _, _, ok := ParseEventSubject("farmhand.jobs.video_to_stream"); ok {
		t.Fatalf("expected ok=false for a job subject")
	}
}
