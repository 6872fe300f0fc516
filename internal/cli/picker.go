package cli

import (
	"errors"
	"fmt"

	"github.com/ncruces/zenity"
	"github.com/rs/zerolog/log"

	"github.com/boxtvstar/ai-split-hd/internal/filehandler"
)

// ErrPickCanceled is returned when the user closes the file dialog.
var ErrPickCanceled = errors.New("file selection canceled")

// PickImageFile opens a native file dialog filtered to supported images.
func PickImageFile() (string, error) {
	selected, err := zenity.SelectFile(
		zenity.Title("Select an image to split"),
		zenity.FileFilters{
			{Name: "Images", Patterns: imagePatterns()},
		},
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPickCanceled
		}
		return "", fmt.Errorf("file picker failed: %w", err)
	}

	log.Info().Str("path", selected).Msg("Image picked via native dialog")
	return selected, nil
}

func imagePatterns() []string {
	exts := filehandler.SupportedExtensionList()
	patterns := make([]string, len(exts))
	for i, ext := range exts {
		patterns[i] = "*" + ext
	}
	return patterns
}
