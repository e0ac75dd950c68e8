package audience

import (
	"strings"
	"unicode"
)

// Label 表示卡片面向的人群。
type Label string

const (
	Kids   Label = "kids"
	Adults Label = "adults"
	Any    Label = "any"
)

// Decision 给出人群识别结果及命中得分。
type Decision struct {
	Target Label
	Score  int
}

var keywordBuckets = map[Label][]string{
	Kids: {
		"kid", "kids", "child", "children", "toddler", "toddlers", "son", "daughter", "boy", "girl",
		"preschool", "kindergarten", "classroom", "student", "students", "baby", "little one", "my child",
		"nap", "playground", "teacher", "孩子", "儿童", "小朋友", "宝宝", "幼儿园",
	},
	// 不收录 grandma、meeting 这类卡片目录本身的词汇，否则描述卡片内容的查询会被误判。
	Adults: {
		"adult", "adults", "elderly", "senior", "patient", "resident", "coworker", "colleague",
		"caregiver for my husband", "caregiver for my wife", "husband", "wife", "stroke", "aphasia",
		"成人", "老人", "大人", "同事",
	},
}

// ParseLabel 解析人群标签，无法识别时返回 Any。
func ParseLabel(raw string) Label {
	switch Label(strings.ToLower(strings.TrimSpace(raw))) {
	case Kids, "kid", "children", "child":
		return Kids
	case Adults, "adult":
		return Adults
	default:
		return Any
	}
}

// Detect 根据请求文本推断目标人群；两类信号持平或都不存在时返回 Any。
func Detect(text string) Decision {
	normalized := normalize(text)
	if normalized == "" {
		return Decision{Target: Any}
	}

	kids := score(normalized, keywordBuckets[Kids])
	adults := score(normalized, keywordBuckets[Adults])

	switch {
	case kids > adults:
		return Decision{Target: Kids, Score: kids - adults}
	case adults > kids:
		return Decision{Target: Adults, Score: adults - kids}
	default:
		return Decision{Target: Any}
	}
}

// Matches 判断卡片的人群标签是否满足请求的人群。
func Matches(cardTarget string, label Label) bool {
	if label == Any || label == "" {
		return true
	}
	switch target := strings.ToLower(strings.TrimSpace(cardTarget)); target {
	case "all", "any", "":
		return true
	default:
		return ParseLabel(target) == label
	}
}

func score(normalized string, keywords []string) int {
	total := 0
	for _, word := range keywords {
		if strings.Contains(normalized, " "+word+" ") {
			total += 3
		} else if !isASCII(word) && strings.Contains(normalized, word) {
			total += 3
		}
	}
	return total
}

// normalize 转小写、去除标点，并在两端补空格以便整词匹配。
func normalize(text string) string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return ""
	}
	mapped := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		if r == '\'' {
			return -1
		}
		return ' '
	}, text)
	return " " + strings.Join(strings.Fields(mapped), " ") + " "
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
