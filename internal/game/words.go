package game

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"

	"github.com/samber/lo"

	"github.com/CodeAndHammer/khamklai/internal/models"
	"github.com/CodeAndHammer/khamklai/internal/util"
)

var ErrNoWords = errors.New("word list is empty")

func RandomWordEntry(ctx context.Context, words []models.WordEntry) (models.WordEntry, error) {
	if len(words) == 0 {
		return models.WordEntry{}, ErrNoWords
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(words))))
	if err != nil {
		util.WithRequest(ctx).Warnf("Error generating random number: %v, using fallback", err)
		return words[0], nil
	}
	return words[n.Int64()], nil
}

// RandomWordEntryExcluding picks a word other than previous when the list
// allows it, so a session never repeats the same word back to back.
func RandomWordEntryExcluding(ctx context.Context, words []models.WordEntry, previous string) (models.WordEntry, error) {
	if previous == "" || len(words) < 2 {
		return RandomWordEntry(ctx, words)
	}

	available := lo.Filter(words, func(entry models.WordEntry, _ int) bool {
		return entry.Word != previous
	})
	if len(available) == 0 {
		return RandomWordEntry(ctx, words)
	}

	selected, err := RandomWordEntry(ctx, available)
	if err != nil {
		return models.WordEntry{}, err
	}
	util.WithRequest(ctx).Debugf("Selected word from %d available options (excluding %q)", len(available), previous)
	return selected, nil
}
