package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Attribute carrying the epoch milliseconds at which the queue accepted the message.
const AttributeSentTimestamp = "SentTimestamp"

var (
	ErrMissingSentTimestamp = errors.New("envelope has no SentTimestamp attribute")
	ErrInvalidSentTimestamp = errors.New("envelope has an invalid SentTimestamp attribute")
)

// Envelope is a single delivery from the event source.
type Envelope struct {
	MessageID     string            `json:"MessageId"`
	ReceiptHandle string            `json:"ReceiptHandle,omitempty"`
	Subject       string            `json:"Subject,omitempty"`
	Message       string            `json:"Message"`
	Attributes    map[string]string `json:"Attributes,omitempty"`
}

// SentTimestamp returns the time the queue accepted the envelope.
func (env Envelope) SentTimestamp() (time.Time, error) {
	raw, ok := env.Attributes[AttributeSentTimestamp]
	if !ok || strings.TrimSpace(raw) == "" {
		return time.Time{}, fmt.Errorf("%w: message %s", ErrMissingSentTimestamp, env.MessageID)
	}
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: message %s: %q", ErrInvalidSentTimestamp, env.MessageID, raw)
	}
	return time.UnixMilli(ms).UTC(), nil
}

// Notification is the pub/sub notification document carried in Envelope.Message.
type Notification struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn,omitempty"`
	Subject      string `json:"Subject,omitempty"`
	Message      string `json:"Message"`
	Timestamp    string `json:"Timestamp,omitempty"`
	SubscribeURL string `json:"SubscribeURL,omitempty"`
	Token        string `json:"Token,omitempty"`
}

func parseNotification(message string) (Notification, error) {
	var n Notification
	if strings.TrimSpace(message) == "" {
		return n, errors.New("empty notification body")
	}
	if err := json.Unmarshal([]byte(message), &n); err != nil {
		return n, err
	}
	return n, nil
}

// Subject picks the routing subject: the envelope's own subject wins over the notification's.
func (n Notification) subject(env Envelope) string {
	if strings.TrimSpace(env.Subject) != "" {
		return env.Subject
	}
	if strings.TrimSpace(n.Subject) != "" {
		return n.Subject
	}
	if strings.EqualFold(n.Type, tagNames[TagSubscriptionConfirmation]) {
		return n.Type
	}
	return ""
}

// CompareSent orders envelopes by SentTimestamp, then by message ID.
// An envelope without a usable SentTimestamp is an error.
func CompareSent(a, b Envelope) (int, error) {
	ta, err := a.SentTimestamp()
	if err != nil {
		return 0, err
	}
	tb, err := b.SentTimestamp()
	if err != nil {
		return 0, err
	}
	switch {
	case ta.Before(tb):
		return -1, nil
	case ta.After(tb):
		return 1, nil
	}
	return strings.Compare(a.MessageID, b.MessageID), nil
}

// SortBySent sorts envelopes with CompareSent. On error the slice is left untouched.
func SortBySent(envs []Envelope) error {
	for _, env := range envs {
		if _, err := env.SentTimestamp(); err != nil {
			return err
		}
	}
	sort.SliceStable(envs, func(i, j int) bool {
		c, _ := CompareSent(envs[i], envs[j])
		return c < 0
	})
	return nil
}
