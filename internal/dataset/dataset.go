// Package dataset loads the word list used to pick round targets.
package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

var (
	ErrDatasetNotFound   = errors.New("dataset file not found")
	ErrEmptyDataset      = errors.New("dataset contains no usable words")
	ErrUnsupportedFormat = errors.New("unsupported dataset format")
)

// Load reads a JSON or YAML word list, chosen by file extension.
func Load(path string) ([]models.WordEntry, error) {
	util.LogInfo("Loading words from %s", path)

	if !util.FileExists(path) {
		return nil, fmt.Errorf("%w: %s (set WORDS_FILE)", ErrDatasetNotFound, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	var wl models.WordList
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &wl)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &wl)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("parse dataset %s: %w", path, err)
	}

	words := Clean(wl.Words)
	if len(words) == 0 {
		return nil, ErrEmptyDataset
	}
	util.LogInfo("Successfully loaded %d words", len(words))
	return words, nil
}

// Clean lowercases and trims entries, drops blank words and repeated
// entries, and removes related words that are blank, repeated or equal to
// the word itself.
func Clean(entries []models.WordEntry) []models.WordEntry {
	seen := make(map[string]struct{}, len(entries))
	return lo.FilterMap(entries, func(entry models.WordEntry, _ int) (models.WordEntry, bool) {
		word := normalize(entry.Word)
		if word == "" {
			util.LogWarn("Skipping entry with empty word")
			return models.WordEntry{}, false
		}
		if _, dup := seen[word]; dup {
			util.LogWarn("Skipping duplicate word %q", word)
			return models.WordEntry{}, false
		}
		seen[word] = struct{}{}

		related := lo.Uniq(lo.FilterMap(entry.Related, func(r string, _ int) (string, bool) {
			r = normalize(r)
			return r, r != "" && r != word
		}))
		return models.WordEntry{Word: word, Related: related}, true
	})
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
