package fetchdoc

import (
    "bytes"
    "encoding/xml"
    "io"
    "strings"

    "golang.org/x/net/html"
)

// MaxContentChars bounds the cleaned text attached to a Filing; the full
// text stays in the cache for later runs.
const MaxContentChars = 1500

// XMLToText flattens a DART document XML body into readable plain text.
// Table rows collapse to "key: value" lines; other elements contribute
// their character data with block separation.
func XMLToText(input []byte) string {
    d := xml.NewDecoder(bytes.NewReader(input))
    d.Strict = false
    d.AutoClose = xml.HTMLAutoClose
    // DART documents declare legacy charsets; bytes are passed through and
    // cleaned as-is rather than rejected.
    d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

    var b strings.Builder
    var row []string
    var cell strings.Builder
    inRow := false
    for {
        tok, err := d.Token()
        if err != nil {
            break
        }
        switch t := tok.(type) {
        case xml.StartElement:
            switch strings.ToUpper(t.Name.Local) {
            case "TR":
                inRow = true
                row = row[:0]
                cell.Reset()
            case "TD", "TH", "TE", "TU":
                if inRow {
                    cell.Reset()
                }
            }
        case xml.EndElement:
            switch strings.ToUpper(t.Name.Local) {
            case "TD", "TH", "TE", "TU":
                if inRow {
                    row = append(row, strings.TrimSpace(cell.String()))
                    cell.Reset()
                }
            case "TR":
                inRow = false
                writeRow(&b, row)
                row = row[:0]
            case "P", "TITLE", "SECTION-1", "SECTION-2", "PGBRK":
                b.WriteString("\n")
            }
        case xml.CharData:
            if inRow {
                cell.Write(t)
            } else {
                b.Write(t)
                b.WriteString(" ")
            }
        }
    }
    return normalizeWhitespace(b.String())
}

// HTMLToText extracts readable text from viewer HTML, skipping script,
// style, and navigation boilerplate, and collapsing table rows to
// "key: value" lines.
func HTMLToText(input []byte) string {
    node, err := html.Parse(bytes.NewReader(input))
    if err != nil || node == nil {
        return ""
    }
    var b strings.Builder
    collectText(&b, node)
    return normalizeWhitespace(b.String())
}

func collectText(b *strings.Builder, n *html.Node) {
    if n.Type == html.ElementNode {
        switch strings.ToLower(n.Data) {
        case "script", "style", "noscript", "nav", "footer", "aside", "iframe", "head":
            return
        case "tr":
            writeRow(b, rowCells(n))
            return
        case "br", "hr", "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6":
            b.WriteString("\n")
        }
    }
    if n.Type == html.TextNode {
        b.WriteString(n.Data)
        b.WriteString(" ")
    }
    for c := n.FirstChild; c != nil; c = c.NextSibling {
        collectText(b, c)
    }
    if n.Type == html.ElementNode {
        switch strings.ToLower(n.Data) {
        case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "table":
            b.WriteString("\n")
        }
    }
}

func rowCells(tr *html.Node) []string {
    var cells []string
    var walk func(*html.Node)
    walk = func(n *html.Node) {
        if n.Type == html.ElementNode {
            name := strings.ToLower(n.Data)
            if name == "td" || name == "th" {
                cells = append(cells, strings.TrimSpace(nodeText(n)))
                return
            }
        }
        for c := n.FirstChild; c != nil; c = c.NextSibling {
            walk(c)
        }
    }
    walk(tr)
    return cells
}

func nodeText(n *html.Node) string {
    var b strings.Builder
    var walk func(*html.Node)
    walk = func(cur *html.Node) {
        if cur.Type == html.TextNode {
            b.WriteString(cur.Data)
            b.WriteString(" ")
        }
        for c := cur.FirstChild; c != nil; c = c.NextSibling {
            walk(c)
        }
    }
    walk(n)
    return collapseSpaces(b.String())
}

// writeRow renders one table row. Two cells collapse to "key: value";
// anything else joins with " | ".
func writeRow(b *strings.Builder, cells []string) {
    nonEmpty := cells[:0]
    for _, c := range cells {
        if strings.TrimSpace(c) != "" {
            nonEmpty = append(nonEmpty, collapseSpaces(c))
        }
    }
    if len(nonEmpty) == 0 {
        return
    }
    b.WriteString("\n")
    if len(nonEmpty) == 2 {
        b.WriteString(nonEmpty[0])
        b.WriteString(": ")
        b.WriteString(nonEmpty[1])
    } else {
        b.WriteString(strings.Join(nonEmpty, " | "))
    }
    b.WriteString("\n")
}

// Truncate cuts cleaned text at a rune boundary.
func Truncate(s string, maxChars int) string {
    if maxChars <= 0 {
        return s
    }
    runes := []rune(s)
    if len(runes) <= maxChars {
        return s
    }
    return string(runes[:maxChars])
}

func normalizeWhitespace(s string) string {
    lines := strings.Split(s, "\n")
    out := make([]string, 0, len(lines))
    for _, line := range lines {
        trimmed := strings.TrimSpace(line)
        if trimmed == "" {
            if len(out) > 0 && out[len(out)-1] == "" {
                continue
            }
            out = append(out, "")
            continue
        }
        out = append(out, collapseSpaces(trimmed))
    }
    for len(out) > 0 && out[0] == "" {
        out = out[1:]
    }
    for len(out) > 0 && out[len(out)-1] == "" {
        out = out[:len(out)-1]
    }
    return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
    var b strings.Builder
    lastSpace := false
    for _, r := range s {
        if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\u00a0' {
            if !lastSpace && b.Len() > 0 {
                b.WriteByte(' ')
                lastSpace = true
            }
            continue
        }
        b.WriteRune(r)
        lastSpace = false
    }
    return strings.TrimSpace(b.String())
}
