package dateparse

import (
    "fmt"
    "regexp"
    "strconv"
    "time"

    "github.com/hyperifyio/dartsearch/internal/dart"
)

// DefaultWindowDays is the fallback window when no date phrase is
// recognized.
const DefaultWindowDays = 90

const layout = "20060102"

var (
    // 최근/지난 N 일|주|개월|달|년, optionally followed by 간
    relativeRe = regexp.MustCompile(`(?:최근|지난)\s*(\d+)\s*(일|주|개월|달|년)간?`)
    // N일 전, N개월 전 …
    agoRe = regexp.MustCompile(`(\d+)\s*(일|주|개월|달|년)\s*전`)
    // 2024-01-01 ~ 2024-06-30 and dotted/slashed variants
    absRangeRe = regexp.MustCompile(`(\d{4})[-./](\d{1,2})[-./](\d{1,2})\s*[~\x{2013}-]\s*(\d{4})[-./](\d{1,2})[-./](\d{1,2})`)
    // 20240101~20240630
    compactRangeRe = regexp.MustCompile(`(\d{8})\s*[~\x{2013}]\s*(\d{8})`)
    // 2024년 3분기 / 2024 1분기 / Q2 2024
    quarterRe   = regexp.MustCompile(`(\d{4})\s*년?\s*([1-4])\s*분기`)
    quarterEnRe = regexp.MustCompile(`(?i)q([1-4])\s*(\d{4})`)
    // 2024년 3월
    monthRe = regexp.MustCompile(`(\d{4})\s*년\s*(\d{1,2})\s*월`)
    // bare year: 2024년
    yearRe = regexp.MustCompile(`(\d{4})\s*년(?:도)?`)
)

// Parse extracts a date range from a text containing a Korean (or mixed)
// date phrase. ok is false when nothing was recognized; callers then use
// Default and attach a parser warning to the run.
func Parse(text string, now time.Time) (dart.DateRange, bool) {
    today := now.Format(layout)

    if m := absRangeRe.FindStringSubmatch(text); m != nil {
        begin := ymd(m[1], m[2], m[3])
        end := ymd(m[4], m[5], m[6])
        return clamp(dart.DateRange{Begin: begin, End: end}, today), true
    }
    if m := compactRangeRe.FindStringSubmatch(text); m != nil {
        return clamp(dart.DateRange{Begin: m[1], End: m[2]}, today), true
    }
    if m := relativeRe.FindStringSubmatch(text); m != nil {
        n, _ := strconv.Atoi(m[1])
        return clamp(dart.DateRange{Begin: back(now, n, m[2]), End: today}, today), true
    }
    if m := agoRe.FindStringSubmatch(text); m != nil {
        n, _ := strconv.Atoi(m[1])
        return clamp(dart.DateRange{Begin: back(now, n, m[2]), End: today}, today), true
    }
    if m := quarterRe.FindStringSubmatch(text); m != nil {
        y, _ := strconv.Atoi(m[1])
        q, _ := strconv.Atoi(m[2])
        return clamp(quarter(y, q), today), true
    }
    if m := quarterEnRe.FindStringSubmatch(text); m != nil {
        q, _ := strconv.Atoi(m[1])
        y, _ := strconv.Atoi(m[2])
        return clamp(quarter(y, q), today), true
    }
    if m := monthRe.FindStringSubmatch(text); m != nil {
        y, _ := strconv.Atoi(m[1])
        mo, _ := strconv.Atoi(m[2])
        first := time.Date(y, time.Month(mo), 1, 0, 0, 0, 0, time.UTC)
        last := first.AddDate(0, 1, -1)
        return clamp(dart.DateRange{Begin: first.Format(layout), End: last.Format(layout)}, today), true
    }
    if m := yearRe.FindStringSubmatch(text); m != nil {
        y := m[1]
        return clamp(dart.DateRange{Begin: y + "0101", End: y + "1231"}, today), true
    }
    return dart.DateRange{}, false
}

// Default is the last-90-days window ending today.
func Default(now time.Time) dart.DateRange {
    return dart.DateRange{
        Begin: now.AddDate(0, 0, -DefaultWindowDays).Format(layout),
        End:   now.Format(layout),
    }
}

// Broaden widens a range backward by pct percent of its current span,
// used by the sufficiency loop's deterministic refinement.
func Broaden(r dart.DateRange, pct int, now time.Time) dart.DateRange {
    begin, err1 := time.Parse(layout, r.Begin)
    end, err2 := time.Parse(layout, r.End)
    if err1 != nil || err2 != nil {
        return Default(now)
    }
    span := end.Sub(begin)
    if span <= 0 {
        span = 24 * time.Hour
    }
    extra := span * time.Duration(pct) / 100
    return clamp(dart.DateRange{
        Begin: begin.Add(-extra).Format(layout),
        End:   r.End,
    }, now.Format(layout))
}

func back(now time.Time, n int, unit string) string {
    switch unit {
    case "일":
        return now.AddDate(0, 0, -n).Format(layout)
    case "주":
        return now.AddDate(0, 0, -7*n).Format(layout)
    case "개월", "달":
        return now.AddDate(0, -n, 0).Format(layout)
    case "년":
        return now.AddDate(-n, 0, 0).Format(layout)
    }
    return now.AddDate(0, 0, -n).Format(layout)
}

func quarter(y, q int) dart.DateRange {
    first := time.Date(y, time.Month(3*q-2), 1, 0, 0, 0, 0, time.UTC)
    last := first.AddDate(0, 3, -1)
    return dart.DateRange{Begin: first.Format(layout), End: last.Format(layout)}
}

func ymd(y, m, d string) string {
    yi, _ := strconv.Atoi(y)
    mi, _ := strconv.Atoi(m)
    di, _ := strconv.Atoi(d)
    return fmt.Sprintf("%04d%02d%02d", yi, mi, di)
}

// clamp orders the range and caps the end at today.
func clamp(r dart.DateRange, today string) dart.DateRange {
    if r.Begin > r.End {
        r.Begin, r.End = r.End, r.Begin
    }
    if r.End > today {
        r.End = today
    }
    if r.Begin > r.End {
        r.Begin = r.End
    }
    return r
}
