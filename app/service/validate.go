package service

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	cardTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{10,100}$`)
	cvvPattern       = regexp.MustCompile(`^[0-9]{3,4}$`)
	panPattern       = regexp.MustCompile(`^[0-9]{12,19}$`)
)

func validateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" || len(email) > 255 || !emailPattern.MatchString(email) {
		return fmt.Errorf("%w: invalid email address", ErrInvalidRequest)
	}
	return nil
}

func validateCustomerName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: invalid customer name", ErrInvalidRequest)
	}
	return nil
}

func validateCardToken(token string) error {
	if !cardTokenPattern.MatchString(token) {
		return fmt.Errorf("%w: invalid card token", ErrInvalidRequest)
	}
	return nil
}

func validateSecurityCode(code string) error {
	if !cvvPattern.MatchString(code) {
		return fmt.Errorf("%w: invalid security code", ErrInvalidRequest)
	}
	return nil
}

func validatePAN(pan string) error {
	if !panPattern.MatchString(strings.ReplaceAll(pan, " ", "")) {
		return fmt.Errorf("%w: invalid card number", ErrInvalidRequest)
	}
	return nil
}
