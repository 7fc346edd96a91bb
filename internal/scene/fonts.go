package scene

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FontLocator maps a font family to a font file usable by the renderer.
type FontLocator interface {
	Locate(family string) (string, error)
}

// DirFontLocator looks for <Family>.ttf or <Family>.otf in Dir.
type DirFontLocator struct {
	Dir string
}

func (l DirFontLocator) Locate(family string) (string, error) {
	names := []string{family}
	if spaced := strings.ReplaceAll(family, "-", " "); spaced != family {
		names = append(names, spaced)
	}
	for _, name := range names {
		for _, ext := range []string{".ttf", ".otf", ".TTF", ".OTF"} {
			path := filepath.Join(l.Dir, name+ext)
			info, err := os.Stat(path)
			if err == nil && !info.IsDir() {
				abs, err := filepath.Abs(path)
				if err != nil {
					return path, nil
				}
				return abs, nil
			}
		}
	}
	return "", fmt.Errorf("font %q not found in %s", family, l.Dir)
}
