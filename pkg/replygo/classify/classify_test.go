package classify

import (
	"fmt"
	"testing"
)

// inboundFrame builds a well-formed sendType 2 frame with the given sms body.
func inboundFrame(sms string) []byte {
	frame := `{
		"sendType": 2,
		"sendInfo": {
			"isSend": 0,
			"username": 555001,
			"chatContent": "hello there",
			"csUsername": "operator7",
			"csId": 42,
			"csChatUserId": 98765,
			"messageId": 111,
			"id": 222` + sms + `
		}
	}`
	return []byte(frame)
}

func TestClassifyDiscriminators(t *testing.T) {
	tests := []struct {
		name   string
		frame  string
		reason DropReason
	}{
		{"echo", `{"sendType": 1}`, DropEcho},
		{"read receipt", `{"sendType": 6}`, DropReadReceipt},
		{"own message", `{"sendType": 7}`, DropOwnMessage},
		{"system notice", `{"sendType": 10}`, DropSystemNotice},
		{"unknown discriminator", `{"sendType": 99}`, DropUnknownType},
		{"already sent", `{"sendType": 2, "sendInfo": {"isSend": 1}}`, DropAlreadySent},
		{"missing isSend", `{"sendType": 2, "sendInfo": {"username": 1}}`, DropAlreadySent},
		{"missing sendInfo", `{"sendType": 2}`, DropAlreadySent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Classify([]byte(tt.frame))
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if res.Message != nil {
				t.Fatalf("expected dropped frame, got message %+v", res.Message)
			}
			if res.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", res.Reason, tt.reason)
			}
		})
	}
}

func TestClassifyMalformed(t *testing.T) {
	if _, err := Classify([]byte("not json at all")); err == nil {
		t.Fatal("expected error for malformed frame")
	}
}

func TestClassifyText(t *testing.T) {
	t.Run("sms text", func(t *testing.T) {
		res, err := Classify(inboundFrame(`, "sms": {"type": 9, "text": "typed text"}`))
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		msg := res.Message
		if msg == nil {
			t.Fatalf("expected message, dropped with reason %q", res.Reason)
		}
		if msg.MediaKind != MediaText {
			t.Errorf("media kind = %q, want text", msg.MediaKind)
		}
		if msg.Content != "typed text" {
			t.Errorf("content = %q, want sms text", msg.Content)
		}
	})

	t.Run("falls back to chatContent", func(t *testing.T) {
		res, err := Classify(inboundFrame(``))
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if res.Message == nil {
			t.Fatalf("expected message, dropped with reason %q", res.Reason)
		}
		if res.Message.Content != "hello there" {
			t.Errorf("content = %q, want chatContent fallback", res.Message.Content)
		}
	})

	t.Run("routing fields", func(t *testing.T) {
		res, _ := Classify(inboundFrame(``))
		msg := res.Message
		if msg.SessionKey != "98765" {
			t.Errorf("session key = %q, want 98765", msg.SessionKey)
		}
		if string(msg.SessionRef) != "98765" {
			t.Errorf("session ref = %s, want verbatim 98765", msg.SessionRef)
		}
		if msg.AccountID != "operator7" {
			t.Errorf("account = %q, want operator7", msg.AccountID)
		}
		if msg.CounterpartID != "555001" {
			t.Errorf("counterpart = %q, want 555001", msg.CounterpartID)
		}
		if msg.AckToken != "222" {
			t.Errorf("ack token = %q, want 222", msg.AckToken)
		}
		if string(msg.OperatorID) != "42" {
			t.Errorf("operator id = %s, want 42", msg.OperatorID)
		}
		if msg.ChatType != 1 {
			t.Errorf("chat type = %d, want 1", msg.ChatType)
		}
	})
}

func TestClassifyMedia(t *testing.T) {
	tests := []struct {
		name    string
		sms     string
		kind    MediaKind
		url     string
		content string
	}{
		{
			"image with caption",
			`, "sms": {"type": 1, "imageUrl": "https://cdn/img.jpg", "caption": "look"}`,
			MediaImage, "https://cdn/img.jpg", "look",
		},
		{
			"image caption defaults to space",
			`, "sms": {"type": 1, "imageUrl": "https://cdn/img.jpg"}`,
			MediaImage, "https://cdn/img.jpg", " ",
		},
		{
			"image url falls back to fileUrl",
			`, "sms": {"type": 1, "fileUrl": "https://cdn/img2.jpg"}`,
			MediaImage, "https://cdn/img2.jpg", " ",
		},
		{
			"video",
			`, "sms": {"type": 3, "fileUrl": "https://cdn/v.mp4"}`,
			MediaVideo, "https://cdn/v.mp4", " ",
		},
		{
			"audio",
			`, "sms": {"type": 4, "fileUrl": "https://cdn/a.ogg"}`,
			MediaAudio, "https://cdn/a.ogg", " ",
		},
		{
			"gif maps to video",
			`, "sms": {"type": 8, "fileUrl": "https://cdn/g.mp4", "caption": "haha"}`,
			MediaVideo, "https://cdn/g.mp4", "haha",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Classify(inboundFrame(tt.sms))
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			msg := res.Message
			if msg == nil {
				t.Fatalf("expected message, dropped with reason %q", res.Reason)
			}
			if msg.MediaKind != tt.kind {
				t.Errorf("media kind = %q, want %q", msg.MediaKind, tt.kind)
			}
			if msg.MediaURL != tt.url {
				t.Errorf("media url = %q, want %q", msg.MediaURL, tt.url)
			}
			if msg.Content != tt.content {
				t.Errorf("content = %q, want %q", msg.Content, tt.content)
			}
		})
	}
}

func TestClassifyUnsupportedKinds(t *testing.T) {
	t.Run("file attachment always dropped", func(t *testing.T) {
		res, err := Classify(inboundFrame(`, "sms": {"type": 2, "fileUrl": "https://cdn/doc.pdf", "fileName": "doc.pdf"}`))
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if res.Message != nil {
			t.Fatal("file attachment must never yield a message")
		}
		if res.Reason != DropFileAttachment {
			t.Errorf("reason = %q, want %q", res.Reason, DropFileAttachment)
		}
		if res.Detail != "doc.pdf" {
			t.Errorf("detail = %q, want file name", res.Detail)
		}
	})

	t.Run("contact card always dropped", func(t *testing.T) {
		res, err := Classify(inboundFrame(`, "sms": {"type": 7, "displayName": "Jo"}`))
		if err != nil {
			t.Fatalf("Classify failed: %v", err)
		}
		if res.Message != nil {
			t.Fatal("contact card must never yield a message")
		}
		if res.Reason != DropContactCard {
			t.Errorf("reason = %q, want %q", res.Reason, DropContactCard)
		}
	})

	t.Run("video without url is malformed", func(t *testing.T) {
		if _, err := Classify(inboundFrame(`, "sms": {"type": 3}`)); err == nil {
			t.Fatal("expected error for video frame without url")
		}
	})
}

func TestClassifyStringAndNumberIDs(t *testing.T) {
	// The platform is inconsistent about string vs numeric ids; both must
	// normalize identically.
	for _, id := range []string{`98765`, `"98765"`} {
		t.Run(fmt.Sprintf("csChatUserId=%s", id), func(t *testing.T) {
			frame := []byte(`{"sendType": 2, "sendInfo": {"isSend": 0, "csChatUserId": ` + id + `, "chatContent": "hi"}}`)
			res, err := Classify(frame)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if res.Message == nil {
				t.Fatalf("expected message, dropped with reason %q", res.Reason)
			}
			if res.Message.SessionKey != "98765" {
				t.Errorf("session key = %q, want 98765", res.Message.SessionKey)
			}
		})
	}
}
