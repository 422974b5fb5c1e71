package agent

import (
	"context"
	"strings"

	"graphchat/internal/logging"
)

// FinalAnswerMarker separates internal reasoning from the client-visible
// answer in a transcript.
const FinalAnswerMarker = "## Final Answer:"

// colorReset is the terminal escape artifact some reasoning engines append
// to their last output line.
const colorReset = "\x1b[00m"

// ExtractFinalAnswer consumes a live transcript and emits only the lines
// after the final-answer marker. The marker line itself is never emitted,
// and a trailing color-reset escape is stripped from the line carrying it.
// The output channel closes when the transcript closes or ctx is cancelled.
func ExtractFinalAnswer(ctx context.Context, transcript <-chan string) <-chan string {
	out := make(chan string, cap(transcript))

	go func() {
		defer close(out)

		streaming := false
		emitted := 0
		for {
			select {
			case line, ok := <-transcript:
				if !ok {
					logging.Stream("Transcript closed: emitted=%d fragments", emitted)
					return
				}
				if strings.Contains(line, FinalAnswerMarker) {
					streaming = true
					continue
				}
				if !streaming {
					continue
				}
				select {
				case out <- strings.TrimSuffix(line, colorReset):
					emitted++
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}
