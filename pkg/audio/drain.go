package audio

// Drain reads from ch until the channel is closed, discarding all values.
// It keeps producers such as a microphone callback or a session receive loop
// from blocking on a channel nobody reads anymore.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
