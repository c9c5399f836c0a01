package wallet

import (
	"errors"
	"strings"
)

var (
	ErrInvalidAddress        = errors.New(`wallet: invalid Stellar address, it should start with "G" and be 56 characters long`)
	ErrNotConnected          = errors.New("wallet: no wallet connected")
	ErrExtensionNotInstalled = errors.New("wallet: Freighter extension not detected")
)

// ErrorKind groups extension failures by what the user should do next.
type ErrorKind string

const (
	KindDeclined         ErrorKind = "declined"
	KindLocked           ErrorKind = "locked"
	KindExtensionMissing ErrorKind = "extension_missing"
	KindNotConnected     ErrorKind = "not_connected"
	KindUnknown          ErrorKind = "unknown"
)

// Classify maps an error to a kind. Extensions only report free-form
// messages, so this matches on the substrings they are known to use.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrNotConnected):
		return KindNotConnected
	case errors.Is(err, ErrExtensionNotInstalled):
		return KindExtensionMissing
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "User declined"),
		strings.Contains(msg, "rejected"),
		strings.Contains(msg, "denied"):
		return KindDeclined
	case strings.Contains(msg, "unlock"):
		return KindLocked
	case strings.Contains(msg, "Freighter"):
		return KindExtensionMissing
	}
	return KindUnknown
}

// Operation selects the wording of UserMessage.
type Operation string

const (
	OpConnect  Operation = "connect"
	OpPurchase Operation = "purchase"
)

// UserMessage returns the text shown to the user for a failure of op.
func UserMessage(kind ErrorKind, op Operation) string {
	if op == OpPurchase {
		switch kind {
		case KindDeclined:
			return "Transaction cancelled"
		case KindExtensionMissing, KindLocked:
			return "Please install and unlock Freighter wallet"
		case KindNotConnected:
			return "Please connect your wallet first"
		default:
			return "Purchase failed. Please try again."
		}
	}

	switch kind {
	case KindDeclined:
		return "You declined the connection request. Approve the request in the wallet popup to connect."
	case KindLocked:
		return "Freighter is locked. Please unlock it and try again."
	case KindExtensionMissing:
		return "Freighter not detected. Install it from " + InstallURL + ", enable the extension and refresh."
	case KindNotConnected:
		return "Please connect your wallet first"
	default:
		return "Connection error. Refresh the page, disable browser shields or blockers and try again."
	}
}
