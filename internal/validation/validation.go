// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

// IsValidPeriodKey проверяет ключ периода формата "YYYY-MM".
// Фиксированная ширина с нулями даёт хронологический порядок при
// лексикографической сортировке.
func IsValidPeriodKey(key string) bool {
	if len(key) != 7 {
		return false
	}

	for i, ch := range key {
		if i == 4 {
			if ch != '-' {
				return false
			}
			continue
		}
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	month := int(key[5]-'0')*10 + int(key[6]-'0')
	return month >= 1 && month <= 12
}

// IsValidCedula проверяет номер удостоверения личности: от 6 до 10 цифр.
func IsValidCedula(cedula string) bool {
	if len(cedula) < 6 || len(cedula) > 10 {
		return false
	}

	for _, ch := range cedula {
		if !unicode.IsDigit(ch) {
			return false
		}
	}

	return true
}
