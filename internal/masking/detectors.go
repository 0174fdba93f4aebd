package masking

import "regexp"

// Detector is a built-in recognizer for one class of sensitive value.
type Detector struct {
	ID             string
	Label          string
	Prefix         string
	Pattern        *regexp.Regexp
	DefaultEnabled bool
	// DigitBounded rejects matches that sit inside a longer run of digits, so
	// a phone-shaped slice of a card number is left for the card detector.
	DigitBounded bool
	Examples     []string
}

// Detector ids, in catalog order.
const (
	DetectorMoney    = "money"
	DetectorEmail    = "email"
	DetectorDate     = "date"
	DetectorPhone    = "phone"
	DetectorBankCard = "bank_card"
	DetectorCompany  = "company"
)

const monthName = `(?:Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|June?|July?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`

// catalog order is part of the masking contract: a detector only sees text
// that every earlier detector left untouched.
var catalog = []Detector{
	{
		ID:     DetectorMoney,
		Label:  "Money amounts",
		Prefix: "[AMOUNT_",
		Pattern: regexp.MustCompile(
			`(?:[¥￥€£]|US\$|\$|RMB|USD|CNY|EUR|人民币)\s?\d+(?:,\d{3})*(?:\.\d+)?(?:[万亿千百]?元|美元|[万亿千百])?` +
				`|\d+(?:,\d{3})*(?:\.\d+)?[万亿]?(?:元|美元|人民币)`),
		DefaultEnabled: true,
		Examples:       []string{"$5,000", "¥1,200.50", "RMB 300万", "人民币50万元", "12,000元"},
	},
	{
		ID:             DetectorEmail,
		Label:          "Email addresses",
		Prefix:         "[EMAIL_",
		Pattern:        regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
		DefaultEnabled: true,
		Examples:       []string{"legal@techcorp.com", "zhang.san+contracts@example.com.cn"},
	},
	{
		ID:     DetectorDate,
		Label:  "Dates",
		Prefix: "[DATE_",
		Pattern: regexp.MustCompile(
			`\d{4}年\d{1,2}月(?:\d{1,2}日)?` +
				`|\d{4}[-/.]\d{1,2}[-/.]\d{1,2}` +
				`|` + monthName + `\.?\s+\d{1,2}(?:st|nd|rd|th)?,?\s+\d{4}` +
				`|\d{1,2}\s+` + monthName + `\.?,?\s+\d{4}`),
		DefaultEnabled: true,
		DigitBounded:   true,
		Examples:       []string{"2024-01-15", "2024.1.5", "2024年1月15日", "January 15, 2024", "15 Mar 2024"},
	},
	{
		ID:     DetectorPhone,
		Label:  "Phone and ID numbers",
		Prefix: "[PHONE_",
		Pattern: regexp.MustCompile(
			`[1-9]\d{5}(?:18|19|20)\d{2}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}[\dXx]` +
				`|[1-9]\d{7}(?:0[1-9]|1[0-2])(?:0[1-9]|[12]\d|3[01])\d{3}` +
				`|(?:\+86[- ]?)?1[3-9]\d{9}` +
				`|0\d{2,3}-\d{7,8}`),
		DefaultEnabled: true,
		DigitBounded:   true,
		Examples:       []string{"13800138000", "+86 13912345678", "010-12345678", "11010519491231002X", "110105491231002"},
	},
	{
		ID:             DetectorBankCard,
		Label:          "Bank card numbers",
		Prefix:         "[BANK_CARD_",
		// Grouped numbers need whole groups after each separator, so a
		// standalone number that follows a card is not pulled into it.
		Pattern:        regexp.MustCompile(`\d{4}(?:[ \-]\d{4}){2,6}(?:[ \-]\d{3})?|\d{13,30}`),
		DefaultEnabled: true,
		DigitBounded:   true,
		Examples:       []string{"6222021234567890", "6222 0212 3456 7890", "4111-1111-1111-1111", "6222 0212 3456 7890 123"},
	},
	{
		ID:     DetectorCompany,
		Label:  "Company names",
		Prefix: "[COMPANY_",
		Pattern: regexp.MustCompile(
			`[\p{Han}A-Za-z0-9（）()]{2,30}?(?:有限责任公司|股份有限公司|有限公司|集团|公司)` +
				`|[A-Z][A-Za-z0-9&]*(?:\s+[A-Z][A-Za-z0-9&]*)*\s+(?:Inc\.?|Ltd\.?|LLC|Corp\.?|Corporation|Limited)`),
		DefaultEnabled: false,
		Examples:       []string{"北京星辰科技有限公司", "Acme Widgets Inc."},
	},
}

// Catalog returns the built-in detectors in application order.
func Catalog() []Detector {
	out := make([]Detector, len(catalog))
	copy(out, catalog)
	return out
}

// LookupDetector returns the catalog entry for id.
func LookupDetector(id string) (Detector, bool) {
	for _, d := range catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Detector{}, false
}

// DefaultDetectors returns the set of detectors enabled out of the box.
func DefaultDetectors() DetectorSet {
	set := make(DetectorSet)
	for _, d := range catalog {
		if d.DefaultEnabled {
			set[d.ID] = true
		}
	}
	return set
}

// AllDetectors returns a set with every catalog detector enabled.
func AllDetectors() DetectorSet {
	set := make(DetectorSet, len(catalog))
	for _, d := range catalog {
		set[d.ID] = true
	}
	return set
}

func isASCIIDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// bounded reports whether text[start:end] is not glued to a neighbouring digit.
func (d Detector) bounded(text string, start, end int) bool {
	if !d.DigitBounded {
		return true
	}
	if start > 0 && isASCIIDigit(text[start-1]) {
		return false
	}
	if end < len(text) && isASCIIDigit(text[end]) {
		return false
	}
	return true
}
