package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it when a streaming channel is abandoned early so that its producer
// goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
