package narration

import (
	"context"
	"math"
	"strings"
)

// MockSeconds is the length of the silence the mock backend produces for text.
func MockSeconds(text string) float64 {
	return math.Max(1.0, float64(len(strings.Fields(text)))*0.4)
}

type mockBackend struct {
	sampleRate int
	channels   int
}

func (m *mockBackend) pcm(ctx context.Context, req Request) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	frames := int(math.Round(MockSeconds(req.Text) * float64(m.sampleRate)))
	return make([]byte, frames*m.channels*2), nil
}
