package toyyibpay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"campus-ticket/internal/status"
)

const credentialFailure = "KEY-DID-NOT-EXIST-OR-USER-IS-NOT-ACTIVE"

var errUnexpectedReply = errors.New("unexpected reply shape")

// normalizeTransactions accepts a bare object, an array of objects or an
// object wrapping a "transactions" array.
func normalizeTransactions(raw []byte) ([]status.Transaction, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] != '[' && raw[0] != '{' {
		if strings.Contains(strings.ToLower(string(raw)), "no data") {
			return nil, nil
		}
		return nil, errUnexpectedReply
	}

	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("json.Unmarshal: %w", err)
	}

	switch v := tree.(type) {
	case []any:
		return fromList(v), nil
	case map[string]any:
		if list, ok := v["transactions"].([]any); ok {
			return fromList(list), nil
		}
		if len(v) == 0 {
			return nil, nil
		}
		return []status.Transaction{{Fields: v}}, nil
	}
	return nil, errUnexpectedReply
}

func fromList(list []any) []status.Transaction {
	txs := make([]status.Transaction, 0, len(list))
	for _, item := range list {
		if fields, ok := item.(map[string]any); ok && len(fields) > 0 {
			txs = append(txs, status.Transaction{Fields: fields})
		}
	}
	return txs
}

// replyError detects the gateway's error replies, which arrive with HTTP 200.
func replyError(raw []byte) error {
	text := strings.TrimSpace(string(raw))
	if strings.Contains(text, credentialFailure) {
		return status.ErrGatewayCredentials
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		var single map[string]any
		if json.Unmarshal(raw, &single) != nil {
			return nil
		}
		items = []map[string]any{single}
	}

	for _, item := range items {
		s, _ := item["status"].(string)
		if !strings.EqualFold(s, "error") {
			continue
		}
		msg := strings.TrimSpace(fmt.Sprint(item["msg"]))
		return fmt.Errorf("gateway rejected request: %s", msg)
	}
	return nil
}

// filterByExternalRef keeps records for ref. Records without a reference are
// kept since the gateway does not always echo it.
func filterByExternalRef(txs []status.Transaction, ref string) []status.Transaction {
	if ref == "" {
		return txs
	}
	out := txs[:0:0]
	for _, tx := range txs {
		if got := tx.ExternalRef(); got == "" || got == ref {
			out = append(out, tx)
		}
	}
	return out
}

// sanitize keeps the characters the gateway accepts in bill names.
func sanitize(s string) string {
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}
