package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Константы валидации
const (
	MinDisputeDescriptionLength = 10
	MaxDisputeDescriptionLength = 5000
	MaxNoteLength               = 2000
	MaxCancelReasonLength       = 500
	MaxPayerNameLength          = 100
)

var (
	emailLocalRegex  = regexp.MustCompile(`^[a-z0-9._+-]+$`)
	emailDomainRegex = regexp.MustCompile(`^[a-z0-9.-]+\.[a-z]{2,}$`)
	// Мобильные номера Бангладеш: 01[3-9] и восемь цифр, код страны необязателен.
	phoneRegex = regexp.MustCompile(`^(?:\+?880|0)1[3-9]\d{8}$`)
)

// ValidateLength проверяет длину строки.
func ValidateLength(fieldName, value string, min, max int) error {
	length := utf8.RuneCountInString(value)
	if min > 0 && length < min {
		return fmt.Errorf("%s должен быть не менее %d символов", fieldName, min)
	}
	if max > 0 && length > max {
		return fmt.Errorf("%s должен быть не более %d символов", fieldName, max)
	}
	return nil
}

// ValidateNonEmpty проверяет, что строка не пустая.
func ValidateNonEmpty(fieldName, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%s не может быть пустым", fieldName)
	}
	return nil
}

// ValidateEmail проверяет формат email.
func ValidateEmail(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return fmt.Errorf("email обязателен")
	}

	localPart, domainPart, ok := strings.Cut(email, "@")
	if !ok || strings.Contains(domainPart, "@") {
		return fmt.Errorf("некорректный формат email")
	}
	if len(localPart) == 0 || len(localPart) > 64 {
		return fmt.Errorf("локальная часть email должна быть от 1 до 64 символов")
	}
	if len(domainPart) == 0 || len(domainPart) > 255 {
		return fmt.Errorf("доменная часть email должна быть от 1 до 255 символов")
	}
	if !emailLocalRegex.MatchString(localPart) {
		return fmt.Errorf("локальная часть email содержит недопустимые символы")
	}
	if !emailDomainRegex.MatchString(domainPart) {
		return fmt.Errorf("доменная часть email имеет некорректный формат")
	}
	return nil
}

// ValidatePhone проверяет мобильный номер плательщика.
func ValidatePhone(phone string) error {
	normalized := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
	if normalized == "" {
		return fmt.Errorf("телефон обязателен")
	}
	if !phoneRegex.MatchString(normalized) {
		return fmt.Errorf("телефон должен быть мобильным номером формата 01XXXXXXXXX")
	}
	return nil
}

// ValidatePayer проверяет контакты, которые уходят в платёжный шлюз.
// Пустые поля допустимы: шлюз подставит значения по умолчанию.
func ValidatePayer(name, email, phone string) error {
	if name != "" {
		if err := ValidateLength("имя плательщика", strings.TrimSpace(name), 0, MaxPayerNameLength); err != nil {
			return err
		}
	}
	if email != "" {
		if err := ValidateEmail(email); err != nil {
			return err
		}
	}
	if phone != "" {
		if err := ValidatePhone(phone); err != nil {
			return err
		}
	}
	return nil
}

// ValidateDisputeDescription проверяет описание спора.
func ValidateDisputeDescription(description string) error {
	if err := ValidateNonEmpty("описание спора", description); err != nil {
		return err
	}
	return ValidateLength("описание спора", strings.TrimSpace(description), MinDisputeDescriptionLength, MaxDisputeDescriptionLength)
}

// ValidateNote проверяет комментарий модератора.
func ValidateNote(note *string) error {
	if note == nil {
		return nil
	}
	return ValidateLength("комментарий", strings.TrimSpace(*note), 0, MaxNoteLength)
}

// ValidateCancelReason проверяет причину отмены.
func ValidateCancelReason(reason string) error {
	return ValidateLength("причина отмены", strings.TrimSpace(reason), 0, MaxCancelReasonLength)
}
