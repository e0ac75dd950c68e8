// Package testutil 提供测试使用的假模型与假向量化器。
package testutil

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/cloudwego/eino/components/embedding"
)

// KeywordEmbedder 将文本映射为词表计数向量，便于测试中得到可预期的距离排序。
type KeywordEmbedder struct {
	Vocabulary []string
	Err        error

	mu    sync.Mutex
	calls [][]string
}

// NewKeywordEmbedder 使用给定词表构造向量化器，向量维度等于词表长度。
func NewKeywordEmbedder(vocabulary ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Vocabulary: vocabulary}
}

// EmbedStrings 实现 embedding.Embedder。
func (e *KeywordEmbedder) EmbedStrings(ctx context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.Err != nil {
		return nil, e.Err
	}

	out := make([][]float64, len(texts))
	for i, text := range texts {
		vec := make([]float64, len(e.Vocabulary))
		for _, token := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			for j, word := range e.Vocabulary {
				if token == word {
					vec[j]++
				}
			}
		}
		out[i] = vec
	}
	return out, nil
}

// Calls 返回每次调用传入的文本批次。
func (e *KeywordEmbedder) Calls() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.calls))
	copy(out, e.calls)
	return out
}
