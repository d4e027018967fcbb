package models

// WatchEvent is one frame of a watch stream.
//
// Types: "change" and "delete" carry a row or device in Value, "bookmark"
// marks the end of the initial snapshot, "error" carries a message and
// terminates the stream, "close" terminates the stream without output.
type WatchEvent struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value,omitempty"`
}
