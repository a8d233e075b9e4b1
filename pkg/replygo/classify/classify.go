// Package classify turns raw platform frames into actionable inbound
// messages. Classification is pure: no I/O, no store access — callers decide
// how to log, acknowledge, and persist based on the returned verdict.
//
// The platform multiplexes everything over one socket: echoes of our own
// traffic, delivery receipts, system notices, and real counterpart messages
// all arrive as JSON frames distinguished by a sendType discriminator. Only
// "counterpart sent an unread message" survives classification.
package classify

import (
	"encoding/json"
	"fmt"
)

// sendType discriminator values used by the platform.
const (
	sendTypeEcho    = 1  // server echo of our own traffic
	sendTypeInbound = 2  // counterpart message (only actionable when unread)
	sendTypeReceipt = 6  // counterpart read receipt
	sendTypeOwn     = 7  // message we sent, relayed back
	sendTypeSystem  = 10 // system notice
)

// sms media type values used by the platform.
const (
	smsTypeImage   = 1
	smsTypeFile    = 2
	smsTypeVideo   = 3
	smsTypeAudio   = 4
	smsTypeContact = 7
	smsTypeGif     = 8
)

// MediaKind is the normalized media category of an inbound message.
type MediaKind string

const (
	MediaText        MediaKind = "text"
	MediaImage       MediaKind = "image"
	MediaVideo       MediaKind = "video"
	MediaAudio       MediaKind = "audio"
	MediaUnsupported MediaKind = "unsupported"
)

// DropReason explains why a frame produced no message. The zero value means
// the frame was actionable.
type DropReason string

const (
	DropNone           DropReason = ""
	DropEcho           DropReason = "echo"
	DropAlreadySent    DropReason = "already_sent"
	DropReadReceipt    DropReason = "read_receipt"
	DropOwnMessage     DropReason = "own_message"
	DropSystemNotice   DropReason = "system_notice"
	DropUnknownType    DropReason = "unknown_send_type"
	DropFileAttachment DropReason = "file_attachment"
	DropContactCard    DropReason = "contact_card"
)

// InboundMessage is one actionable counterpart message, consumed once by the
// reply pipeline and then discarded. Routing fields are carried verbatim so
// outbound sends target the same platform conversation.
type InboundMessage struct {
	// SessionKey is the platform's conversation handle (csChatUserId),
	// unique per operator-account/counterpart pair.
	SessionKey string

	// SessionRef is SessionKey in its verbatim wire form, for the send
	// payload: the platform is picky about number vs string ids.
	SessionRef json.RawMessage

	// AccountID is the operator account (csUsername).
	AccountID string

	// CounterpartID is the remote user's id (username).
	CounterpartID string

	// DisplayName is the platform's display label for the counterpart.
	// Falls back to CounterpartID when the platform sends none.
	DisplayName string

	// Content is the message text, or the media caption. Captionless media
	// carries a single space so the completion call never sees an empty
	// query.
	Content string

	MediaKind MediaKind

	// MediaURL is the remote attachment URL for image/video/audio kinds.
	MediaURL string

	// AckToken marks the source message read on the platform.
	AckToken string

	// MessageID is the platform's message id, for logging.
	MessageID string

	// ChatType is the platform routing constant (always 1 here).
	ChatType int

	// OperatorID is the csId routing value, preserved byte-for-byte since
	// the platform is picky about number vs string ids.
	OperatorID json.RawMessage
}

// Result is the classification verdict for one frame.
type Result struct {
	// Message is nil when the frame was dropped.
	Message *InboundMessage

	// Reason says why Message is nil.
	Reason DropReason

	// SendType is the raw discriminator, for log context.
	SendType int

	// Detail carries drop context (file name, contact label) for logging.
	Detail string
}

// wireFrame is the raw platform frame envelope.
type wireFrame struct {
	SendType int           `json:"sendType"`
	SendInfo *wireSendInfo `json:"sendInfo"`
}

// wireSendInfo is the payload of a sendType 2 frame.
type wireSendInfo struct {
	IsSend       *int            `json:"isSend"`
	Username     json.RawMessage `json:"username"`
	ChatContent  string          `json:"chatContent"`
	CsUsername   json.RawMessage `json:"csUsername"`
	CsID         json.RawMessage `json:"csId"`
	CsChatUserID json.RawMessage `json:"csChatUserId"`
	Login        string          `json:"login"`
	MessageID    json.RawMessage `json:"messageId"`
	ID           json.RawMessage `json:"id"`
	Sms          *wireSms        `json:"sms"`
}

// wireSms is the nested media descriptor.
type wireSms struct {
	Type        int    `json:"type"`
	Text        string `json:"text"`
	Caption     string `json:"caption"`
	ImageURL    string `json:"imageUrl"`
	FileURL     string `json:"fileUrl"`
	FileName    string `json:"fileName"`
	DisplayName string `json:"displayName"`
}

// Classify parses one raw frame. Malformed input returns an error; frames
// that are well-formed but not actionable return a nil Message with the
// drop reason. The discriminator set is closed: unknown values are dropped
// with DropUnknownType, never treated as an error.
func Classify(raw []byte) (Result, error) {
	var frame wireFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Result{}, fmt.Errorf("parse frame: %w", err)
	}

	res := Result{SendType: frame.SendType}

	switch frame.SendType {
	case sendTypeEcho:
		res.Reason = DropEcho
		return res, nil
	case sendTypeInbound:
		return classifyInbound(frame.SendInfo, res)
	case sendTypeReceipt:
		res.Reason = DropReadReceipt
		return res, nil
	case sendTypeOwn:
		res.Reason = DropOwnMessage
		return res, nil
	case sendTypeSystem:
		res.Reason = DropSystemNotice
		return res, nil
	default:
		res.Reason = DropUnknownType
		return res, nil
	}
}

// classifyInbound handles sendType 2: a counterpart message. Only unread
// messages (isSend == 0) are actionable.
func classifyInbound(info *wireSendInfo, res Result) (Result, error) {
	if info == nil || info.IsSend == nil || *info.IsSend != 0 {
		res.Reason = DropAlreadySent
		return res, nil
	}

	msg := &InboundMessage{
		SessionKey:    rawString(info.CsChatUserID),
		SessionRef:    info.CsChatUserID,
		AccountID:     rawString(info.CsUsername),
		CounterpartID: rawString(info.Username),
		DisplayName:   info.Login,
		AckToken:      rawString(info.ID),
		MessageID:     rawString(info.MessageID),
		ChatType:      1,
		OperatorID:    info.CsID,
	}
	if msg.DisplayName == "" {
		msg.DisplayName = msg.CounterpartID
	}

	sms := info.Sms
	if sms == nil {
		sms = &wireSms{}
	}

	switch sms.Type {
	case smsTypeImage:
		url := sms.ImageURL
		if url == "" {
			url = sms.FileURL
		}
		msg.MediaKind = MediaImage
		msg.MediaURL = url
		msg.Content = caption(sms)

	case smsTypeFile:
		// Arbitrary files are never forwarded to the AI layer. Deliberate
		// policy, not a missing feature.
		res.Reason = DropFileAttachment
		res.Detail = sms.FileName
		return res, nil

	case smsTypeVideo, smsTypeGif:
		if sms.FileURL == "" {
			return res, fmt.Errorf("video frame missing file url")
		}
		msg.MediaKind = MediaVideo
		msg.MediaURL = sms.FileURL
		msg.Content = caption(sms)

	case smsTypeAudio:
		if sms.FileURL == "" {
			return res, fmt.Errorf("audio frame missing file url")
		}
		msg.MediaKind = MediaAudio
		msg.MediaURL = sms.FileURL
		msg.Content = caption(sms)

	case smsTypeContact:
		// Contact cards are likewise dropped, log-only.
		res.Reason = DropContactCard
		res.Detail = sms.DisplayName
		return res, nil

	default:
		// Unrecognized or absent media type: plain text.
		msg.MediaKind = MediaText
		msg.Content = sms.Text
		if msg.Content == "" {
			msg.Content = info.ChatContent
		}
	}

	res.Message = msg
	return res, nil
}

// caption returns the media caption, defaulting to a single space so the
// downstream completion query is never empty.
func caption(sms *wireSms) string {
	if sms.Caption == "" {
		return " "
	}
	return sms.Caption
}

// rawString normalizes a JSON value that the platform sends sometimes as a
// string and sometimes as a bare number.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return string(raw)
}
