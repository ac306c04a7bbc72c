package dart

import (
    "regexp"
    "sort"
    "strings"
)

// DetailTypeRe matches the publication detail-type taxonomy, codes A001
// through J999.
var DetailTypeRe = regexp.MustCompile(`^[A-J]\d{3}$`)

// detailTypes lists the codes the pipeline knows how to name. The taxonomy
// is larger; codes outside this table still pass DetailTypeRe validation and
// flow through searches untouched.
var detailTypes = map[string]string{
    "A001": "사업보고서",
    "A002": "반기보고서",
    "A003": "분기보고서",
    "B001": "주요사항보고서",
    "C001": "증권신고서(지분증권)",
    "C002": "증권신고서(채무증권)",
    "D001": "주식등의대량보유상황보고서",
    "D002": "임원ㆍ주요주주특정증권등소유상황보고서",
    "E001": "자기주식취득/처분",
    "E002": "자기주식신탁계약",
    "E003": "합병등종료보고서",
    "E004": "주식매수선택권부여에관한신고",
    "F001": "감사보고서",
    "G001": "자산운용보고서",
    "H001": "거래소공시",
    "I001": "공정위공시",
    "J001": "기타공시",
}

// ValidDetailType reports whether a code fits the taxonomy format.
func ValidDetailType(code string) bool {
    return DetailTypeRe.MatchString(code)
}

// DetailTypeName returns the Korean label for a known code.
func DetailTypeName(code string) (string, bool) {
    name, ok := detailTypes[code]
    return name, ok
}

// topicHints maps question keywords to the detail types that usually carry
// the answer. The catalogue API has no full-text search, so doc-type
// narrowing is the main retrieval lever.
var topicHints = []struct {
    keywords []string
    codes    []string
}{
    {[]string{"합병", "인수", "m&a"}, []string{"B001", "E003"}},
    {[]string{"스톡옵션", "주식매수선택권"}, []string{"B001", "E004"}},
    {[]string{"자기주식", "자사주"}, []string{"B001", "E001", "E002"}},
    {[]string{"유상증자", "무상증자", "증자", "감자"}, []string{"B001", "C001"}},
    {[]string{"전환사채", "신주인수권부사채", "교환사채"}, []string{"B001", "C002"}},
    {[]string{"사업보고서", "실적", "매출", "영업이익"}, []string{"A001", "A002", "A003"}},
    {[]string{"감사", "감사의견"}, []string{"F001", "A001"}},
    {[]string{"지분", "대량보유", "5%"}, []string{"D001", "D002"}},
    {[]string{"임원", "대표이사", "경영진"}, []string{"B001", "D002"}},
}

// GuessDetailTypes returns the detail types hinted at by a raw question, in
// stable order. Used by the rule-based expander and to sanity-check LLM
// proposals.
func GuessDetailTypes(text string) []string {
    lower := strings.ToLower(text)
    seen := map[string]struct{}{}
    var out []string
    for _, h := range topicHints {
        for _, kw := range h.keywords {
            if !strings.Contains(lower, kw) {
                continue
            }
            for _, c := range h.codes {
                if _, ok := seen[c]; ok {
                    continue
                }
                seen[c] = struct{}{}
                out = append(out, c)
            }
            break
        }
    }
    return out
}

// KnownDetailTypes returns the table's codes sorted, for prompt building.
func KnownDetailTypes() []string {
    out := make([]string, 0, len(detailTypes))
    for c := range detailTypes {
        out = append(out, c)
    }
    sort.Strings(out)
    return out
}
