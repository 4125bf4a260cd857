package rabbitmq

import (
	"encoding/json"
	"testing"
)

func TestQueueNames(t *testing.T) {
	if got := DLQName("image_jobs"); got != "image_jobs.dlq" {
		t.Fatalf("dlq name %q", got)
	}
	if got := RetryName("image_jobs"); got != "image_jobs.retry" {
		t.Fatalf("retry name %q", got)
	}
}

func TestImageJobMessage_WireShape(t *testing.T) {
	body, err := json.Marshal(ImageJobMessage{JobID: "01ABC"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// The worker depends on this exact key.
	if string(body) != `{"job_id":"01ABC"}` {
		t.Fatalf("unexpected payload %s", body)
	}
}
