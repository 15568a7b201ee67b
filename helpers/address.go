package helpers

import (
	"strings"

	"github.com/letterfeed/letterfeed/server/idgen"
)

// ParseMailboxAddress extracts the feed reference from a recipient address of
// the shape <reference>@<host>. Matching is case-insensitive and tolerates
// surrounding whitespace and angle brackets. The second return value is false
// when the address does not have the mailbox shape for the given host.
func ParseMailboxAddress(address, host string) (string, bool) {
	address = strings.TrimSpace(address)
	address = strings.TrimPrefix(address, "<")
	address = strings.TrimSuffix(address, ">")
	address = strings.ToLower(address)

	at := strings.LastIndex(address, "@")
	if at < 0 {
		return "", false
	}

	localPart := address[:at]
	domain := address[at+1:]

	if domain != strings.ToLower(host) {
		return "", false
	}
	if !idgen.IsWellFormed(localPart) {
		return "", false
	}

	return localPart, true
}

// FirstMailboxReference returns the reference of the first recipient that
// matches the mailbox address shape, or false when none does.
func FirstMailboxReference(recipients []string, host string) (string, bool) {
	for _, rcpt := range recipients {
		if ref, ok := ParseMailboxAddress(rcpt, host); ok {
			return ref, true
		}
	}
	return "", false
}
