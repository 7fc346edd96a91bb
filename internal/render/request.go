package render

import (
	"github.com/loqalabs/textreel/internal/access"
	"github.com/loqalabs/textreel/internal/failure"
	"github.com/loqalabs/textreel/internal/media"
)

// DefaultLanguage is used when a request names none.
const DefaultLanguage = "de"

// Request is the loosely typed form of a Job as it arrives from the bus, a
// manifest file or the command line.
type Request struct {
	JobID       string
	Text        string
	Blocks      []string
	Language    string
	Background  string
	Font        string
	FontSize    int
	Color       string
	Anchor      string
	Transition  *float64
	Entitlement access.Entitlement
}

// Job parses and validates the request fields. Blocks wins over Text when both
// are set.
func (r Request) Job() (Job, error) {
	var (
		blocks []media.TextBlock
		err    error
	)
	if len(r.Blocks) > 0 {
		blocks, err = media.NewBlocks(r.Blocks)
	} else {
		blocks, err = media.ParseBlocks(r.Text)
	}
	if err != nil {
		return Job{}, err
	}
	style, err := media.NewStyle(r.Font, r.FontSize, r.Color, r.Anchor)
	if err != nil {
		return Job{}, err
	}
	bg, err := media.ResolveBackground(r.Background)
	if err != nil {
		return Job{}, err
	}
	lang := r.Language
	if lang == "" {
		lang = DefaultLanguage
	}
	if !media.SupportedLanguage(lang) {
		return Job{}, failure.Errorf(failure.InvalidInput, "request", "unsupported language %q", lang)
	}
	return Job{
		ID:          r.JobID,
		Blocks:      blocks,
		Style:       style,
		Background:  bg,
		Language:    lang,
		Entitlement: r.Entitlement,
		Transition:  r.Transition,
	}, nil
}
