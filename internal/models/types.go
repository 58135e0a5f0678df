package models

// WordEntry is one round's content: the secret word and words close enough
// to earn a related-word score.
type WordEntry struct {
	Word    string   `json:"word" yaml:"word"`
	Related []string `json:"related" yaml:"related"`
}

type WordList struct {
	Words []WordEntry `json:"words" yaml:"words"`
}

// GuessRecord is the first result recorded for a normalised guess in a round.
type GuessRecord struct {
	Player     string  `json:"player"`
	Percentage float64 `json:"percentage"`
}
