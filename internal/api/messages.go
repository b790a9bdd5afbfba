package api

import "time"

// Row is one line of the panel: a metric category or a line of text.
type Row struct {
	Key        string `json:"key"`
	Label      string `json:"label"`
	Value      string `json:"value"`
	Level      string `json:"level"`
	Extra      string `json:"extra,omitempty"`
	ExtraLevel string `json:"extra_level,omitempty"`
}

// View is the complete content of the panel screen.
type View struct {
	Seq       uint64    `json:"seq"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Subtitle  string    `json:"subtitle,omitempty"`
	Indicator string    `json:"indicator,omitempty"`
	Rows      []Row     `json:"rows"`
	Footer    string    `json:"footer"`
	LinkUp    bool      `json:"link_up"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares nothing with v.
func (v View) Clone() View {
	v.Rows = append([]Row(nil), v.Rows...)
	return v
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type     string          `json:"type"`
	Version  string          `json:"version"`
	Mode     string          `json:"mode"`
	Features map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(version, mode string, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:     "hello",
		Version:  version,
		Mode:     mode,
		Features: features,
	}
}

// ViewMessage wraps a panel view for transport.
type ViewMessage struct {
	Type string `json:"type"`
	View
}

// NewViewMessage constructs a view payload.
func NewViewMessage(view View) ViewMessage {
	return ViewMessage{
		Type: "view",
		View: view,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
