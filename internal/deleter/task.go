package deleter

// Task represents one object deletion. Immutable once created; owned by
// whichever component currently holds it (producer, queue, then a worker).
type Task struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}
