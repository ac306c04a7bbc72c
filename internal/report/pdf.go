package report

import (
    "fmt"

    "github.com/jung-kurt/gofpdf"

    "github.com/hyperifyio/dartsearch/internal/synth"
)

// PDFOptions configures the PDF artifact.
type PDFOptions struct {
    // FontPath points at a TTF with Hangul coverage (e.g. NotoSansKR).
    // gofpdf's built-in core fonts are WinAnsi-only, so rendering Korean
    // envelopes without a UTF-8 font would silently produce mojibake;
    // WritePDF refuses instead.
    FontPath string
}

const (
    pdfBodySize    = 10.5
    pdfHeadingSize = 13.0
    pdfLineHeight  = 5.5
)

// pdfLabels are the section captions. The Korean set needs the UTF-8 font;
// without one only WinAnsi-safe envelopes render, under English captions.
type pdfLabels struct {
    title, query, answer, summary, findings, timeline string
    summaryLine, companies, telemetryLine, cancelled  string
}

var koLabels = pdfLabels{
    title:         "공시 심층검색 결과",
    query:         "질문: %s",
    answer:        "답변",
    summary:       "요약",
    findings:      "주요 공시",
    timeline:      "타임라인",
    summaryLine:   "문서 %d건 / 기간 %s ~ %s / 신뢰도 %s",
    companies:     "회사: %s",
    telemetryLine: "시도 %d회 / LLM 호출 %d회 / 캐시 적중률 %.0f%% / 소요 %dms",
    cancelled:     "검색이 취소되었습니다.",
}

var enLabels = pdfLabels{
    title:         "Disclosure deep-search report",
    query:         "Query: %s",
    answer:        "Answer",
    summary:       "Summary",
    findings:      "Key filings",
    timeline:      "Timeline",
    summaryLine:   "%d documents / window %s ~ %s / confidence %s",
    companies:     "Companies: %s",
    telemetryLine: "%d attempts / %d LLM calls / %.0f%% cache hits / %dms",
    cancelled:     "The search was cancelled.",
}

// WritePDF renders the response envelope as a PDF artifact. The layout
// follows the envelope structure: answer, summary, key findings with
// clickable viewer links, timeline, and a telemetry footer.
func WritePDF(env synth.Envelope, outPath string, opts PDFOptions) error {
    family := "Helvetica"
    labels := enLabels
    pdf := gofpdf.New("P", "mm", "A4", "")
    if opts.FontPath != "" {
        family = "report"
        labels = koLabels
        pdf.AddUTF8Font(family, "", opts.FontPath)
        pdf.AddUTF8Font(family, "B", opts.FontPath)
    } else if needsUnicodeFont(env) {
        return fmt.Errorf("write pdf: envelope contains non-latin text; a UTF-8 font is required (set -report.font)")
    }
    pdf.SetFont(family, "", pdfBodySize)
    pdf.AddPage()

    heading := func(text string) {
        pdf.Ln(3)
        pdf.SetFont(family, "B", pdfHeadingSize)
        pdf.MultiCell(0, 7, text, "", "L", false)
        pdf.SetFont(family, "", pdfBodySize)
    }
    body := func(text string) {
        if text == "" {
            return
        }
        pdf.MultiCell(0, pdfLineHeight, text, "", "L", false)
        pdf.Ln(2)
    }

    heading(labels.title)
    body(fmt.Sprintf(labels.query, env.Query))

    if env.Kind == "Cancelled" {
        body(labels.cancelled)
        return pdf.OutputFileAndClose(outPath)
    }

    if env.Answer != "" {
        heading(labels.answer)
        body(env.Answer)
    }

    heading(labels.summary)
    body(fmt.Sprintf(labels.summaryLine,
        env.Summary.TotalDocuments, env.Summary.DateRange.Begin, env.Summary.DateRange.End, env.Summary.Confidence))
    if len(env.Summary.Companies) > 0 {
        body(fmt.Sprintf(labels.companies, joinComma(env.Summary.Companies)))
    }

    if len(env.KeyFindings) > 0 {
        heading(labels.findings)
        for i, kf := range env.KeyFindings {
            label := fmt.Sprintf("%d. %s %s %s", i+1, kf.RceptDt, kf.CorpName, kf.ReportNm)
            if kf.SourceURL != "" {
                pdf.WriteLinkString(pdfLineHeight, label, kf.SourceURL)
                pdf.Ln(pdfLineHeight)
            } else {
                body(label)
            }
            if kf.Snippet != "" {
                pdf.SetFontSize(9)
                pdf.MultiCell(0, 4.5, kf.Snippet, "", "L", false)
                pdf.SetFontSize(pdfBodySize)
                pdf.Ln(1.5)
            }
        }
    }

    if len(env.Timeline) > 0 {
        heading(labels.timeline)
        for _, entry := range env.Timeline {
            body(entry.Date)
            for _, event := range entry.Events {
                body("  - " + event)
            }
        }
    }

    pdf.Ln(4)
    pdf.SetFontSize(8.5)
    body(fmt.Sprintf(labels.telemetryLine,
        env.Telemetry.Attempts, env.Telemetry.LLMCalls, env.Telemetry.CacheHitRate*100, env.Telemetry.DurationMs))

    return pdf.OutputFileAndClose(outPath)
}

// needsUnicodeFont reports whether any envelope text falls outside the
// WinAnsi range the core fonts can encode.
func needsUnicodeFont(env synth.Envelope) bool {
    if hasWideRunes(env.Query) || hasWideRunes(env.Answer) {
        return true
    }
    for _, c := range env.Summary.Companies {
        if hasWideRunes(c) {
            return true
        }
    }
    for _, kf := range env.KeyFindings {
        if hasWideRunes(kf.CorpName) || hasWideRunes(kf.ReportNm) || hasWideRunes(kf.Snippet) {
            return true
        }
    }
    for _, entry := range env.Timeline {
        for _, event := range entry.Events {
            if hasWideRunes(event) {
                return true
            }
        }
    }
    return false
}

func hasWideRunes(s string) bool {
    for _, r := range s {
        if r > 0xFF {
            return true
        }
    }
    return false
}

func joinComma(ss []string) string {
    out := ""
    for i, s := range ss {
        if i > 0 {
            out += ", "
        }
        out += s
    }
    return out
}
