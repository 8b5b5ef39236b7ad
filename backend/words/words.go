package words

import (
	"bufio"
	_ "embed"
	"errors"
	"io"
	"math/rand/v2"
	"os"
	"strings"
)

var (
	ErrEmptyList = errors.New("word list is empty")
)

//go:embed words.txt
var defaultList string

// Generator draws candidate room names uniformly from a fixed word list.
// It knows nothing about which names are taken.
type Generator struct {
	words []string
}

// NewDefault returns a generator over the built-in word list.
func NewDefault() *Generator {
	g, err := New(strings.NewReader(defaultList))
	if err != nil {
		panic("words: built-in list: " + err.Error())
	}
	return g
}

// NewFromFile reads a word list from path. Same format as New.
func NewFromFile(path string) (*Generator, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()
	return New(f)
}

// New reads one word per line. Blank lines and lines starting with '#' are
// skipped, duplicates are kept once.
func New(r io.Reader) (*Generator, error) {
	var (
		seen  = make(map[string]struct{})
		words []string
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		w := strings.TrimSpace(sc.Text())
		if w == "" || strings.HasPrefix(w, "#") {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		words = append(words, w)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, ErrEmptyList
	}
	return &Generator{words: words}, nil
}

// Next returns a random word from the list. Safe for concurrent use.
func (g *Generator) Next() string {
	return g.words[rand.IntN(len(g.words))]
}

// Size is the number of distinct words.
func (g *Generator) Size() int {
	return len(g.words)
}
