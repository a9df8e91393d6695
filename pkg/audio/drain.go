package audio

// Drain discards values from ch until it is closed. Callers that stop
// consuming a [MicStream] use it so the reader goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
