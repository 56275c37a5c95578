package domain

import "time"

type UserID string

// Favorite is a call the user bookmarked. Favorites are independent of the call lifecycle.
type Favorite struct {
	UserID  UserID    `json:"userId"`
	Call    Call      `json:"call"`
	AddedAt time.Time `json:"addedAt"`
}

// HistoryEntry is a call as presented in a user's recent-calls list.
type HistoryEntry struct {
	Call        Call   `json:"call"`
	DisplayName string `json:"displayName"`
	Duration    string `json:"durationText"`
	Favorite    bool   `json:"favorite"`
}

// Notification is delivered to the push notification sink.
type Notification struct {
	UserID    UserID            `json:"userId"`
	Kind      NotificationKind  `json:"kind"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	CallID    CallID            `json:"callId,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	Data      map[string]string `json:"data,omitempty"`
}

type NotificationKind string

const (
	NotificationIncomingCall NotificationKind = "incoming_call"
	NotificationMissedCall   NotificationKind = "missed_call"
	NotificationCallFailed   NotificationKind = "call_failed"
)
