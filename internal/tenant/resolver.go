// Package tenant resolves authenticated caller identity into vector store
// namespaces and enforces namespace membership on retrieved data.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Common errors.
var (
	ErrInvalidTenant    = errors.New("invalid tenant")
	ErrInvalidOrgID     = errors.New("invalid organization ID")
	ErrInvalidUserID    = errors.New("invalid user ID")
	ErrInvalidNamespace = errors.New("invalid namespace")
)

// maxIdentifierLength bounds org and user identifiers so namespace strings
// stay usable as payload filter values.
const maxIdentifierLength = 64

// Scope identifies the authenticated caller a query executes on behalf of.
type Scope struct {
	OrgID  string
	UserID string
}

// Validate checks that both identifiers are present and well formed.
func (s Scope) Validate() error {
	if err := validateIdentifier(s.OrgID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrgID, err)
	}
	if err := validateIdentifier(s.UserID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidUserID, err)
	}
	return nil
}

// Namespace returns the canonical namespace for this scope.
//
// The format is org_{orgID}_user_{userID}. Every stored chunk carries its
// owner's namespace, and every retrieval filters on it.
func (s Scope) Namespace() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	return fmt.Sprintf("org_%s_user_%s", s.OrgID, s.UserID), nil
}

// namespacePattern matches well-formed namespace strings.
var namespacePattern = regexp.MustCompile(`^org_[a-z0-9-]+_user_[a-z0-9-]+$`)

// ValidateNamespace checks that a namespace string is well formed. It does
// not verify ownership; use Scope.Namespace to derive the caller's own.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// identifierPattern restricts identifiers to lowercase alphanumerics and
// hyphens. Underscores are excluded so namespace strings parse unambiguously.
var identifierPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

func validateIdentifier(id string) error {
	if id == "" {
		return errors.New("empty identifier")
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("identifier exceeds %d characters", maxIdentifierLength)
	}
	if strings.ContainsAny(id, " \t\n") {
		return errors.New("identifier contains whitespace")
	}
	if !identifierPattern.MatchString(id) {
		return fmt.Errorf("identifier %q contains invalid characters", id)
	}
	return nil
}
