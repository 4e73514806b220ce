// Package identity models the recipient of an escrowed transfer as a closed set of
// contact kinds. The set is sealed: only this package can add a variant, so a type
// switch over Email, Phone and Username is exhaustive.
package identity

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Method is the wire/storage tag of an identity variant
type Method string

const (
	MethodEmail    Method = "email"
	MethodPhone    Method = "phone"
	MethodUsername Method = "username"
)

var (
	ErrUnknownMethod   = errors.New("method must be 'email', 'phone', or 'username'")
	ErrInvalidEmail    = errors.New("invalid email address")
	ErrInvalidPhone    = errors.New("invalid phone number")
	ErrInvalidUsername = errors.New("username cannot be empty")
)

var (
	emailPattern      = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phoneDigits       = regexp.MustCompile(`^\d{10,15}$`)
	phoneFormatting   = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "", "+", "")
	maxUsernameLength = 64
)

// Identity is a recipient address. Implementations are Email, Phone and Username.
type Identity interface {
	Method() Method
	Contact() string
	sealed()
}

// Email identifies a recipient by a lower-cased email address
type Email struct{ address string }

// Phone identifies a recipient by a digits-only phone number
type Phone struct{ number string }

// Username identifies a recipient by an existing account username
type Username struct{ name string }

func (Email) Method() Method {
	return MethodEmail
}

func (e Email) Contact() string {
	return e.address
}

func (Email) sealed() {}

func (Phone) Method() Method {
	return MethodPhone
}

func (p Phone) Contact() string {
	return p.number
}

func (Phone) sealed() {}

func (Username) Method() Method {
	return MethodUsername
}

func (u Username) Contact() string {
	return u.name
}

func (Username) sealed() {}

// NewEmail validates and normalizes an email address
func NewEmail(address string) (Email, error) {
	address = strings.TrimSpace(address)
	if !emailPattern.MatchString(address) {
		return Email{}, ErrInvalidEmail
	}
	return Email{address: strings.ToLower(address)}, nil
}

// NewPhone strips common formatting characters and requires 10-15 digits
func NewPhone(number string) (Phone, error) {
	cleaned := phoneFormatting.Replace(strings.TrimSpace(number))
	if !phoneDigits.MatchString(cleaned) {
		return Phone{}, ErrInvalidPhone
	}
	return Phone{number: cleaned}, nil
}

// NewUsername trims the name and rejects empty or oversized values
func NewUsername(name string) (Username, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxUsernameLength {
		return Username{}, ErrInvalidUsername
	}
	return Username{name: name}, nil
}

// Parse builds the variant for a stored or requested (method, contact) pair.
// The method is matched case-insensitively.
func Parse(method, contact string) (Identity, error) {
	switch Method(strings.ToLower(strings.TrimSpace(method))) {
	case MethodEmail:
		return NewEmail(contact)
	case MethodPhone:
		return NewPhone(contact)
	case MethodUsername:
		return NewUsername(contact)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, method)
	}
}

// Equal reports whether two identities address the same recipient
func Equal(a, b Identity) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Method() == b.Method() && a.Contact() == b.Contact()
}

// String renders the identity as method:contact, used in logs
func String(id Identity) string {
	if id == nil {
		return ""
	}
	return string(id.Method()) + ":" + id.Contact()
}
