package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// PhoneNumber represents a validated phone number value object.
// Stored in canonical domestic form: exactly ten digits, no country code.
type PhoneNumber struct {
	number string
}

var (
	// Ten digits; area code cannot start with 0 or 1
	domesticRegex = regexp.MustCompile(`^[2-9][0-9]{9}$`)
)

// NewPhoneNumber creates a new PhoneNumber value object with validation.
// Accepts common input shapes ((555) 123-4567, +1 555 123 4567, 5551234567)
// and normalizes them to the ten-digit canonical form.
func NewPhoneNumber(number string) (PhoneNumber, error) {
	if strings.TrimSpace(number) == "" {
		return PhoneNumber{}, fmt.Errorf("phone number cannot be empty")
	}

	digits := digitsOnly(number)

	// Strip a leading country code 1 from eleven-digit input
	if len(digits) == 11 && strings.HasPrefix(digits, "1") {
		digits = digits[1:]
	}

	if !domesticRegex.MatchString(digits) {
		return PhoneNumber{}, fmt.Errorf("invalid phone number format: %s", number)
	}

	return PhoneNumber{number: digits}, nil
}

// MustNewPhoneNumber creates PhoneNumber and panics on error (for constants/tests)
func MustNewPhoneNumber(number string) PhoneNumber {
	phone, err := NewPhoneNumber(number)
	if err != nil {
		panic(err)
	}
	return phone
}

// String returns the canonical ten-digit form
func (p PhoneNumber) String() string {
	return p.number
}

// IsEmpty checks if the phone number is empty
func (p PhoneNumber) IsEmpty() bool {
	return p.number == ""
}

// Equal checks if two PhoneNumber values are equal
func (p PhoneNumber) Equal(other PhoneNumber) bool {
	return p.number == other.number
}

// E164 returns the number in E.164 form with the US country code,
// for providers whose APIs require it.
func (p PhoneNumber) E164() string {
	if p.number == "" {
		return ""
	}
	return "+1" + p.number
}

// AreaCode returns the three-digit area code
func (p PhoneNumber) AreaCode() string {
	if len(p.number) != 10 {
		return ""
	}
	return p.number[:3]
}

// FormatUS returns a display form: (XXX) XXX-XXXX
func (p PhoneNumber) FormatUS() string {
	if len(p.number) != 10 {
		return p.number
	}
	return fmt.Sprintf("(%s) %s-%s", p.number[:3], p.number[3:6], p.number[6:])
}

// MarshalJSON implements JSON marshaling
func (p PhoneNumber) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.number)
}

// UnmarshalJSON implements JSON unmarshaling
func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	var number string
	if err := json.Unmarshal(data, &number); err != nil {
		return err
	}

	phone, err := NewPhoneNumber(number)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

// Value implements driver.Valuer for database storage
func (p PhoneNumber) Value() (driver.Value, error) {
	if p.number == "" {
		return nil, nil
	}
	return p.number, nil
}

// Scan implements sql.Scanner for database retrieval
func (p *PhoneNumber) Scan(value interface{}) error {
	if value == nil {
		*p = PhoneNumber{}
		return nil
	}

	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		return fmt.Errorf("cannot scan %T into PhoneNumber", value)
	}

	if str == "" {
		*p = PhoneNumber{}
		return nil
	}

	phone, err := NewPhoneNumber(str)
	if err != nil {
		return err
	}

	*p = phone
	return nil
}

func digitsOnly(number string) string {
	var b strings.Builder
	for _, char := range number {
		if char >= '0' && char <= '9' {
			b.WriteRune(char)
		}
	}
	return b.String()
}
