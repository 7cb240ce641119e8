// Package keyword turns a raw chat query into a ranked list of search
// keywords. The default extractor is a best-effort heuristic built for
// Chinese-heavy queries where whitespace tokenization does not apply; it is
// deliberately pluggable so a real tokenizer or a remote NLP service can be
// substituted without touching the search engine.
package keyword

import (
	"regexp"
	"sort"
	"strings"
)

// MaxKeywords caps the number of terms any extraction returns.
const MaxKeywords = 15

// Extractor produces an ordered, deduplicated keyword list for a query.
// An empty or whitespace-only query yields an empty list, which callers must
// treat as "match everything", never "match nothing".
type Extractor interface {
	Extract(query string) []string
}

// HeuristicExtractor is the default pattern-and-table based extractor. All of
// its tables are package-level, read-only, and immutable after init, so a
// single instance is safe for concurrent use across queries.
type HeuristicExtractor struct{}

// NewHeuristicExtractor returns the shared heuristic extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

var _ Extractor = (*HeuristicExtractor)(nil)

// patternRule contributes its whole keyword set when its pattern matches.
type patternRule struct {
	pattern  *regexp.Regexp
	keywords []string
}

// patternRules are scanned in declaration order; every matching rule
// contributes all of its keywords.
var patternRules = []patternRule{
	{regexp.MustCompile(`(介绍|认识).{0,4}(自己|我)|自我介绍`), []string{"介绍", "自己", "我", "个人"}},
	{regexp.MustCompile(`(电脑|笔记本|MacBook|Mac|手机|平板)`), []string{"电脑", "设备", "MacBook"}},
	{regexp.MustCompile(`(工作|职业|上班|公司|同事)`), []string{"工作", "公司", "职业"}},
	{regexp.MustCompile(`(喜欢|爱好|兴趣|热爱)`), []string{"喜欢", "爱好", "兴趣"}},
	{regexp.MustCompile(`(家人|父母|家庭|妻子|丈夫|孩子)`), []string{"家庭", "家人", "父母"}},
	{regexp.MustCompile(`(朋友|同学|闺蜜)`), []string{"朋友", "关系"}},
	{regexp.MustCompile(`(运动|锻炼|健身|篮球|足球|跑步)`), []string{"运动", "锻炼"}},
	{regexp.MustCompile(`(生活|习惯|作息|日常)`), []string{"生活", "习惯"}},
}

// anchorMapping appends the anchor and its first two related terms when the
// anchor appears anywhere in the query. Declared as a slice, not a map, so
// contribution order is deterministic.
type anchorMapping struct {
	anchor  string
	related []string
}

var directMappings = []anchorMapping{
	{"我", []string{"自己", "个人", "本人"}},
	{"电脑", []string{"设备", "笔记本", "MacBook"}},
	{"MacBook", []string{"电脑", "设备"}},
	{"篮球", []string{"运动", "球类", "锻炼"}},
	{"工作", []string{"公司", "职业", "同事"}},
	{"音乐", []string{"歌曲", "歌手", "听歌"}},
	{"电影", []string{"影片", "观影"}},
	{"游戏", []string{"玩游戏", "娱乐"}},
	{"宠物", []string{"猫", "狗"}},
}

// importantChars are semantically loaded single characters (pronouns) that
// are kept verbatim when present.
var importantChars = []string{"我", "你", "他", "她"}

// importantWords are two-character domain words matched as substrings.
var importantWords = []string{
	"介绍", "电脑", "工作", "公司", "篮球", "音乐", "电影", "游戏",
	"朋友", "家庭", "学习", "旅行", "宠物", "运动", "爱好", "生活",
	"喜欢", "习惯", "名字", "年龄",
}

// dynamicPatterns pull out the object of common "verb + filler + noun" runs.
var dynamicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:喜欢|讨厌|爱)[\p{Han}]{0,2}?([\p{Han}]{2,4})`),
	regexp.MustCompile(`我的([\p{Han}]{2,4})`),
}

// genericRun matches any 2-4 character Han run; ASCII words are kept whole.
var (
	genericHanRun = regexp.MustCompile(`[\p{Han}]{2,4}`)
	asciiWordRun  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9]{1,}`)
)

// maxGenericTerms caps how many terms the generic run stage may add.
const maxGenericTerms = 3

// stoplist filters known-meaningless fragments out of the generic run stage.
var stoplist = map[string]bool{
	"一下": true, "什么": true, "怎么": true, "这个": true, "那个": true,
	"可以": true, "一个": true, "没有": true, "知道": true, "时候": true,
	"现在": true, "觉得": true, "想要": true, "一些": true, "还是": true,
	"就是": true, "然后": true, "因为": true, "所以": true, "我想": true,
}

// priorityRank gives explicit ranks to known high-value terms; everything
// else sorts after them, keeping its relative order.
var priorityRank = map[string]int{
	"我": 0, "自己": 1, "介绍": 2, "名字": 3, "工作": 4, "电脑": 5,
	"喜欢": 6, "爱好": 7, "家庭": 8, "朋友": 9, "篮球": 10, "运动": 11,
	"音乐": 12, "生活": 13, "习惯": 14,
}

// Extract runs the pattern, direct-mapping, and segmentation stages, then
// merges: deduplicate preserving first occurrence, stable-sort by the fixed
// priority list, truncate to MaxKeywords.
func (e *HeuristicExtractor) Extract(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var acc []string

	// Stage 1: pattern rules, in declaration order.
	for _, rule := range patternRules {
		if rule.pattern.MatchString(query) {
			acc = append(acc, rule.keywords...)
		}
	}

	// Stage 2: direct anchor mappings — anchor plus first two related terms.
	for _, m := range directMappings {
		if !strings.Contains(query, m.anchor) {
			continue
		}
		acc = append(acc, m.anchor)
		for i, rel := range m.related {
			if i >= 2 {
				break
			}
			acc = append(acc, rel)
		}
	}

	// Stage 3: segmentation.
	acc = append(acc, segment(query)...)

	// Stage 4: merge.
	merged := dedupe(acc)
	sortByPriority(merged)
	if len(merged) > MaxKeywords {
		merged = merged[:MaxKeywords]
	}
	return merged
}

// segment scans for important single characters, important domain words,
// dynamic verb-object runs, and finally generic character runs filtered
// against the stoplist. When no other stage matched anything, this generic
// tail is all the extraction has.
func segment(query string) []string {
	var out []string

	for _, ch := range importantChars {
		if strings.Contains(query, ch) {
			out = append(out, ch)
		}
	}
	for _, w := range importantWords {
		if strings.Contains(query, w) {
			out = append(out, w)
		}
	}
	for _, p := range dynamicPatterns {
		for _, m := range p.FindAllStringSubmatch(query, -1) {
			if len(m) > 1 && m[1] != "" && !stoplist[m[1]] {
				out = append(out, m[1])
			}
		}
	}

	generic := 0
	for _, run := range append(genericHanRun.FindAllString(query, -1), asciiWordRun.FindAllString(query, -1)...) {
		if generic >= maxGenericTerms {
			break
		}
		if stoplist[run] {
			continue
		}
		out = append(out, run)
		generic++
	}
	return out
}

// dedupe preserves first occurrence.
func dedupe(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// sortByPriority stable-sorts terms by the fixed priority list. Terms not in
// the list rank after all listed terms and keep their relative order.
func sortByPriority(terms []string) {
	sort.SliceStable(terms, func(i, j int) bool {
		ri, iOK := priorityRank[terms[i]]
		rj, jOK := priorityRank[terms[j]]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		default:
			return false
		}
	})
}
