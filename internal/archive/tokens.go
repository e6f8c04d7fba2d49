package archive

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

// TokenCounter counts model tokens in a text.
type TokenCounter interface {
	CountTokens(text string) int
}

// DefaultEncoding is the BPE encoding used by TiktokenCounter.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// TiktokenCounter counts tokens with an embedded BPE table, so it never
// reaches the network.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the given encoding ("" selects DefaultEncoding).
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load %s encoding: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// HeuristicCounter estimates tokens as len(text)/4. It is the fallback when
// the BPE table cannot be loaded.
type HeuristicCounter struct{}

// CountTokens implements TokenCounter.
func (HeuristicCounter) CountTokens(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	if n := len(text) / 4; n > 0 {
		return n
	}
	return 1
}
