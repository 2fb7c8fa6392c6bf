package interview

// EventType 是推送给客户端的事件类型。
type EventType string

const (
	EventConnected  EventType = "connected"
	EventProcessing EventType = "processing"
	EventResponse   EventType = "response"
	EventError      EventType = "error"
	EventPong       EventType = "pong"
)

// Event 是推送事件的线上格式。
type Event struct {
	Type     EventType `json:"type"`
	RoomName string    `json:"room_name,omitempty"`
	Message  string    `json:"message,omitempty"`
	AudioURL *string   `json:"audio_url,omitempty"`
	VideoURL *string   `json:"video_url,omitempty"`
}

// Client 是一个已连接的事件接收端。会话只持有弱引用，不负责其生命周期。
type Client interface {
	Send(event Event) error
}

func ConnectedEvent(room string) Event {
	return Event{Type: EventConnected, RoomName: room, Message: "Connected to interviewer"}
}

func ProcessingEvent() Event {
	return Event{Type: EventProcessing, Message: "Interviewer is thinking..."}
}

func ResponseEvent(result SayResult) Event {
	return Event{Type: EventResponse, RoomName: result.RoomName, Message: result.Response, AudioURL: result.AudioURL, VideoURL: result.VideoURL}
}

func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

func PongEvent() Event {
	return Event{Type: EventPong}
}
