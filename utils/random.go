package utils

import (
	"crypto/rand"
)

// ticketCharset leaves out characters that are easy to misread at the door.
const ticketCharset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateTicketCode returns a check-in code such as "TKT-7KQ2M9XA".
func GenerateTicketCode(length int) (string, error) {
	code := make([]byte, length)

	if _, err := rand.Read(code); err != nil {
		return "", err
	}

	for i := 0; i < length; i++ {
		code[i] = ticketCharset[int(code[i])%len(ticketCharset)]
	}

	return "TKT-" + string(code), nil
}
