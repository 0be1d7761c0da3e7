package labreport

import "strings"

// Header aliases seen on Chinese lab report tables, most specific first.
var (
	itemHeaders   = []string{"项目名称", "检验项目", "检查项目", "项目", "名称"}
	testHeaders   = []string{"检测项目", "英文名称", "缩写", "代号"}
	resultHeaders = []string{"检验结果", "测定结果", "结果", "检测值", "数值"}
	unitHeaders   = []string{"单位"}
	rangeHeaders  = []string{"参考范围", "参考区间", "参考值", "正常范围"}
	hintHeaders   = []string{"结果提示", "提示", "标志", "异常标识"}
)

// EntryFromRow maps one recognized table row (header -> cell) to a
// LabEntry. Rows without a name or result are rejected.
func EntryFromRow(row map[string]string) (LabEntry, bool) {
	entry := LabEntry{
		ItemName:       lookup(row, itemHeaders),
		TestName:       lookup(row, testHeaders),
		Result:         lookup(row, resultHeaders),
		Unit:           lookup(row, unitHeaders),
		ReferenceRange: normalizeRange(lookup(row, rangeHeaders)),
		ResultHint:     lookup(row, hintHeaders),
	}
	if entry.TestName == "" {
		entry.TestName = entry.ItemName
	}
	if entry.TestName == "" || entry.Result == "" {
		return LabEntry{}, false
	}
	return entry, true
}

// EntriesFromRows converts every usable row.
func EntriesFromRows(rows []map[string]string) []LabEntry {
	entries := make([]LabEntry, 0, len(rows))
	for _, row := range rows {
		if entry, ok := EntryFromRow(row); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

// Source tags which extractor produced a set of findings.
const (
	SourceStructured = "structured"
	SourceFreeText   = "free_text"
)

// Analysis is the outcome of running the extractor over one OCR result.
type Analysis struct {
	Entries  []LabEntry `json:"entries,omitempty"`
	Findings []string   `json:"findings"`
	Source   string     `json:"source"`
}

// Analyze prefers structured rows and falls back to free text when the rows
// yield no usable entry.
func Analyze(rows []map[string]string, text string) Analysis {
	entries := EntriesFromRows(rows)
	if len(entries) > 0 {
		found := ExtractFromStructured(entries)
		lines := make([]string, 0, len(found))
		for _, f := range found {
			lines = append(lines, f.Text)
		}
		return Analysis{Entries: entries, Findings: lines, Source: SourceStructured}
	}
	return Analysis{Findings: ExtractFromFreeText(text), Source: SourceFreeText}
}

func lookup(row map[string]string, headers []string) string {
	for _, h := range headers {
		if v, ok := row[h]; ok {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

// normalizeRange folds the dash variants OCR produces into "-".
func normalizeRange(raw string) string {
	r := strings.NewReplacer("～", "-", "~", "-", "—", "-", "–", "-", "－", "-")
	return strings.TrimSpace(r.Replace(raw))
}
