package service

import (
	"fmt"
	"regexp"
	"strings"
)

var nationalPhone = regexp.MustCompile(`^254[17]\d{8}$`)

// NormalizePhone converts 07XXXXXXXX, 01XXXXXXXX, +2547XXXXXXXX and
// 2547XXXXXXXX into the gateway's national format 2547XXXXXXXX.
func NormalizePhone(raw string) (string, error) {
	p := strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(raw))
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") && len(p) == 10 {
		p = "254" + p[1:]
	}
	if !nationalPhone.MatchString(p) {
		return "", fmt.Errorf("%w: phone %q is not a valid mobile number", ErrValidation, raw)
	}
	return p, nil
}
