package report

import (
    "fmt"
    "strings"

    "github.com/hyperifyio/dartsearch/internal/synth"
)

// Markdown renders a response envelope as a human-readable report. The
// envelope stays the machine contract; this artifact is for operators.
func Markdown(env synth.Envelope) string {
    var sb strings.Builder
    sb.WriteString("# 공시 심층검색 결과\n\n")
    sb.WriteString("질문: ")
    sb.WriteString(env.Query)
    sb.WriteString("\n\n")

    if env.Kind == "Cancelled" {
        sb.WriteString("검색이 취소되었습니다.\n")
        return sb.String()
    }

    if env.Answer != "" {
        sb.WriteString("## 답변\n\n")
        sb.WriteString(env.Answer)
        sb.WriteString("\n\n")
    }

    sb.WriteString("## 요약\n\n")
    sb.WriteString(fmt.Sprintf("- 문서 수: %d\n", env.Summary.TotalDocuments))
    sb.WriteString(fmt.Sprintf("- 조회 기간: %s ~ %s\n", env.Summary.DateRange.Begin, env.Summary.DateRange.End))
    if len(env.Summary.Companies) > 0 {
        sb.WriteString("- 회사: ")
        sb.WriteString(strings.Join(env.Summary.Companies, ", "))
        sb.WriteString("\n")
    }
    sb.WriteString(fmt.Sprintf("- 신뢰도: %s\n\n", env.Summary.Confidence))

    if len(env.KeyFindings) > 0 {
        sb.WriteString("## 주요 공시\n\n")
        for i, kf := range env.KeyFindings {
            if kf.SourceURL != "" {
                sb.WriteString(fmt.Sprintf("%d. [%s %s — %s](%s)\n", i+1, kf.RceptDt, kf.CorpName, kf.ReportNm, kf.SourceURL))
            } else {
                sb.WriteString(fmt.Sprintf("%d. %s %s — %s\n", i+1, kf.RceptDt, kf.CorpName, kf.ReportNm))
            }
            if kf.Snippet != "" {
                sb.WriteString("   ")
                sb.WriteString(strings.ReplaceAll(kf.Snippet, "\n", " "))
                sb.WriteString("\n")
            }
        }
        sb.WriteString("\n")
    }

    if len(env.Timeline) > 0 {
        sb.WriteString("## 타임라인\n\n")
        for _, te := range env.Timeline {
            sb.WriteString("### ")
            sb.WriteString(te.Date)
            sb.WriteString("\n")
            for _, ev := range te.Events {
                sb.WriteString("- ")
                sb.WriteString(ev)
                sb.WriteString("\n")
            }
        }
        sb.WriteString("\n")
    }

    sb.WriteString(fmt.Sprintf("---\n시도 %d회, LLM 호출 %d회, 캐시 적중률 %.0f%%, 소요 %dms\n",
        env.Telemetry.Attempts, env.Telemetry.LLMCalls, env.Telemetry.CacheHitRate*100, env.Telemetry.DurationMs))
    return sb.String()
}
