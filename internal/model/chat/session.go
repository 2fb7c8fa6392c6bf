package chat

import "time"

// Session is the transcript header for one interview room.
type Session struct {
	ID          string    `json:"id"`
	RoomName    string    `json:"roomName"`
	Participant string    `json:"participant"`
	CreatedAt   time.Time `json:"createdAt"`
}
