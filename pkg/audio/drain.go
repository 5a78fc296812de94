package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this when abandoning a streaming channel (for example the chunk channel
// of a superseded LLM completion) so the producer goroutine can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
