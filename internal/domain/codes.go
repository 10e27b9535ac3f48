package domain

import "strings"

// IsSequentialCode reports whether code is prefix followed by digits only.
func IsSequentialCode(code, prefix string) bool {
	digits, ok := strings.CutPrefix(code, prefix)
	if !ok || digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// CodeSortKey orders sequential codes numerically even after they outgrow their padding:
// the trailing digits are left-padded to 19 places ("SUB-0042" -> "SUB-0000000000000000042").
func CodeSortKey(code string) string {
	i := len(code)
	for i > 0 && code[i-1] >= '0' && code[i-1] <= '9' {
		i--
	}
	digits := strings.TrimLeft(code[i:], "0")
	if len(digits) >= 19 {
		return code[:i] + digits
	}
	return code[:i] + strings.Repeat("0", 19-len(digits)) + digits
}
