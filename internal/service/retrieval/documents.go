package retrieval

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/cardfinder/backend/internal/model/card"
)

// 文档元数据键。
const (
	MetaPath         = "path"
	MetaCategory     = "category"
	MetaAction       = "action"
	MetaTarget       = "target"
	MetaKeywords     = "keywords"
	MetaURL          = "url"
	MetaThumbnailURL = "thumbnail_url"
)

// CardDocument 将卡片渲染为可向量化的文档，ID 为卡片路径。
func CardDocument(c card.Card) *schema.Document {
	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s, Action: %s, Target: %s", c.Category, c.Action, c.Target)
	if len(c.Keywords) > 0 {
		b.WriteString(", Keywords: ")
		b.WriteString(strings.Join(c.Keywords, ", "))
	}

	meta := map[string]any{
		MetaPath:     c.Path,
		MetaCategory: c.Category,
		MetaAction:   c.Action,
		MetaTarget:   c.Target,
	}
	if len(c.Keywords) > 0 {
		meta[MetaKeywords] = append([]string(nil), c.Keywords...)
	}
	if c.URL != "" {
		meta[MetaURL] = c.URL
	}
	if c.ThumbnailURL != "" {
		meta[MetaThumbnailURL] = c.ThumbnailURL
	}

	return &schema.Document{ID: c.Path, Content: b.String(), MetaData: meta}
}

// DocumentCard 从文档元数据还原卡片。
func DocumentCard(doc *schema.Document) card.Card {
	if doc == nil {
		return card.Card{}
	}
	c := card.Card{
		Path:         metaString(doc.MetaData, MetaPath),
		Category:     metaString(doc.MetaData, MetaCategory),
		Action:       metaString(doc.MetaData, MetaAction),
		Target:       metaString(doc.MetaData, MetaTarget),
		Keywords:     metaStrings(doc.MetaData, MetaKeywords),
		URL:          metaString(doc.MetaData, MetaURL),
		ThumbnailURL: metaString(doc.MetaData, MetaThumbnailURL),
	}
	if c.Path == "" {
		c.Path = doc.ID
	}
	return c
}

func metaString(meta map[string]any, key string) string {
	if v, ok := meta[key].(string); ok {
		return v
	}
	return ""
}

// metaStrings 兼容直接写入的 []string 与经过 JSON 往返后的 []any。
func metaStrings(meta map[string]any, key string) []string {
	switch v := meta[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
