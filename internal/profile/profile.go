// Package profile persists named upstream proxy profiles in an INI file.
//
// Each profile is one section:
//
//	[work]
//	type     = http
//	host     = proxy.example.com
//	port     = 3128
//	username = alice
//
// Passwords are never written to the file.
package profile

import (
	"errors"
	"fmt"
	"strings"

	"github.com/die-net/proxyctl/internal/proxy"
)

var (
	ErrNotFound = errors.New("profile not found")
	ErrInvalid  = errors.New("invalid profile")
)

// Type is the protocol the upstream proxy speaks.
type Type string

const (
	TypeHTTP   Type = "http"
	TypeSOCKS4 Type = "socks4"
	TypeSOCKS5 Type = "socks5"
)

// Types lists every supported Type.
var Types = []Type{TypeHTTP, TypeSOCKS4, TypeSOCKS5}

func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown type %q", ErrInvalid, s)
}

// IsSOCKS reports whether t is served by a raw listener.
func (t Type) IsSOCKS() bool {
	return t == TypeSOCKS4 || t == TypeSOCKS5
}

type Profile struct {
	Name     string
	Type     Type
	Upstream proxy.Upstream
}

func (p Profile) Validate() error {
	if err := validateName(p.Name); err != nil {
		return err
	}
	if _, err := ParseType(string(p.Type)); err != nil {
		return err
	}
	if err := p.Upstream.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case strings.EqualFold(name, "DEFAULT"):
		return fmt.Errorf("%w: %q is reserved", ErrInvalid, name)
	case strings.ContainsAny(name, "[]\r\n"):
		return fmt.Errorf("%w: name %q contains [, ] or a newline", ErrInvalid, name)
	}
	return nil
}
