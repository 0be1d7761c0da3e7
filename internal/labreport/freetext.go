package labreport

import (
	"regexp"
	"strings"
)

// measurementRule ties a clinical category to the pattern that recognizes a
// numeric measurement of it. Rules are checked in table order.
type measurementRule struct {
	Category string
	Pattern  *regexp.Regexp
}

const (
	gap       = `[^\d\n]{0,12}`
	number    = `\d+(?:\.\d+)?`
	molarUnit = `\s*(?:mmol/L|mg/dL|μmol/L|umol/L|µmol/L)`
)

var measurementRules = []measurementRule{
	{"glucose", regexp.MustCompile(`(?i)(?:空腹血糖|餐后血糖|随机血糖|血糖|葡萄糖|\bGLU\b|\bFPG\b)` + gap + number + `\s*(?:mmol/L|mg/dL)`)},
	{"hba1c", regexp.MustCompile(`(?i)(?:糖化血红蛋白|\bHbA1c\b|\bGHb\b)` + gap + number + `\s*%`)},
	{"blood_pressure", regexp.MustCompile(`(?i)(?:血压|\bBP\b)` + gap + `\d{2,3}\s*/\s*\d{2,3}`)},
	{"blood_pressure", regexp.MustCompile(`(?i)\d{2,3}\s*/\s*\d{2,3}\s*mmHg`)},
	{"weight", regexp.MustCompile(`(?i)(?:体重|\bweight\b)` + gap + number + `\s*(?:kg|公斤|斤)`)},
	{"bmi", regexp.MustCompile(`(?i)(?:\bBMI\b|体重指数)` + gap + number)},
	{"cholesterol", regexp.MustCompile(`(?i)(?:总胆固醇|胆固醇|\bTC\b|\bCHOL\b)` + gap + number + molarUnit)},
	{"triglycerides", regexp.MustCompile(`(?i)(?:甘油三酯|\bTG\b|\bTRIG\b)` + gap + number + molarUnit)},
	{"hdl", regexp.MustCompile(`(?i)(?:高密度脂蛋白|\bHDL(?:-C)?\b)` + gap + number + molarUnit)},
	{"ldl", regexp.MustCompile(`(?i)(?:低密度脂蛋白|\bLDL(?:-C)?\b)` + gap + number + molarUnit)},
	{"uric_acid", regexp.MustCompile(`(?i)(?:尿酸|\bUA\b|\bURIC\b)` + gap + number + molarUnit)},
	{"creatinine", regexp.MustCompile(`(?i)(?:肌酐|\bCREA\b|\bCr\b)` + gap + number + molarUnit)},
	{"liver_enzyme", regexp.MustCompile(`(?i)(?:谷丙转氨酶|谷草转氨酶|丙氨酸氨基转移酶|天门冬氨酸氨基转移酶|\bALT\b|\bAST\b)` + gap + number + `\s*(?:U/L|IU/L)`)},
}

var anomalyKeywords = []string{"偏高", "偏低", "异常", "超标", "升高", "降低", "阳性", "过高", "过低", "↑", "↓"}

var chronicConditions = []string{"糖尿病", "高血压", "高血脂", "高脂血症", "肥胖", "代谢综合征"}

const (
	CategoryKeyword   = "anomaly_keyword"
	CategoryCondition = "chronic_condition"
)

// FreeTextMatch is a retained line with the first category that matched it.
type FreeTextMatch struct {
	Line     string `json:"line"`
	Category string `json:"category"`
}

// MatchFreeText returns the non-blank lines of text that carry a clinical
// measurement, an anomaly keyword or a chronic condition, each once, in
// order of first appearance.
func MatchFreeText(text string) []FreeTextMatch {
	matches := make([]FreeTextMatch, 0)
	seen := make(map[string]struct{})

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		category, ok := classifyLine(line)
		if !ok {
			continue
		}
		seen[line] = struct{}{}
		matches = append(matches, FreeTextMatch{Line: line, Category: category})
	}
	return matches
}

// ExtractFromFreeText is MatchFreeText without the categories.
func ExtractFromFreeText(text string) []string {
	matches := MatchFreeText(text)
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, m.Line)
	}
	return lines
}

func classifyLine(line string) (string, bool) {
	for _, rule := range measurementRules {
		if rule.Pattern.MatchString(line) {
			return rule.Category, true
		}
	}
	if containsAny(line, anomalyKeywords) {
		return CategoryKeyword, true
	}
	if containsAny(line, chronicConditions) {
		return CategoryCondition, true
	}
	return "", false
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
