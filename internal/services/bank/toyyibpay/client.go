package toyyibpay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"campus-ticket/internal/status"

	"go.uber.org/zap"
)

const (
	createBillPath      = "/index.php/api/createBill"
	billTransactionPath = "/index.php/api/getBillTransactions"

	// expiryLayout is the gateway's billExpiryDate format.
	expiryLayout = "02-01-2006 15:04:05"

	maxBillName        = 30
	maxBillDescription = 100
	maxReplyBytes      = 1 << 20
)

// createBill posts the bill form and returns the gateway's bill code.
func (t *toyyibpay) createBill(ctx context.Context, f *status.FormBill) (string, error) {
	form := url.Values{}
	form.Set("userSecretKey", t.secretKey)
	form.Set("categoryCode", f.CategoryCode)
	form.Set("billName", truncate(sanitize(f.Title), maxBillName))
	form.Set("billDescription", truncate(sanitize(f.Description), maxBillDescription))
	form.Set("billPriceSetting", "1")
	form.Set("billPayorInfo", "1")
	form.Set("billAmount", strconv.FormatInt(status.ToMinorUnits(f.Amount), 10))
	form.Set("billReturnUrl", f.ReturnURL)
	form.Set("billCallbackUrl", f.CallbackURL)
	form.Set("billExternalReferenceNo", f.ExternalRef)
	form.Set("billTo", f.PayerName)
	form.Set("billEmail", f.PayerEmail)
	form.Set("billPhone", f.PayerPhone)
	form.Set("billPaymentChannel", "0")
	form.Set("billChargeToCustomer", "")
	if !f.ExpiresAt.IsZero() {
		form.Set("billExpiryDate", f.ExpiresAt.Format(expiryLayout))
	}

	raw, code, err := t.post(ctx, createBillPath, form)
	if err != nil {
		return "", &status.GatewayError{Op: "createBill", Err: err}
	}
	if code != http.StatusOK {
		return "", &status.GatewayError{Op: "createBill", StatusCode: code, Raw: string(raw)}
	}
	if err := replyError(raw); err != nil {
		return "", &status.GatewayError{Op: "createBill", StatusCode: code, Raw: string(raw), Err: err}
	}

	var reply []struct {
		BillCode string `json:"BillCode"`
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		return "", &status.GatewayError{Op: "createBill", StatusCode: code, Raw: string(raw), Err: fmt.Errorf("json.Unmarshal: %w", err)}
	}
	if len(reply) == 0 || strings.TrimSpace(reply[0].BillCode) == "" {
		return "", &status.GatewayError{Op: "createBill", StatusCode: code, Raw: string(raw), Err: status.ErrMissingBillCode}
	}

	t.logger.Debug("bill created",
		zap.String("bill_code", reply[0].BillCode),
		zap.String("external_ref", f.ExternalRef),
	)

	return strings.TrimSpace(reply[0].BillCode), nil
}

// getBillTransactions returns every transaction the gateway holds for billCode.
func (t *toyyibpay) getBillTransactions(ctx context.Context, billCode string) ([]status.Transaction, error) {
	form := url.Values{}
	form.Set("billCode", billCode)

	raw, code, err := t.post(ctx, billTransactionPath, form)
	if err != nil {
		return nil, &status.GatewayError{Op: "getBillTransactions", Err: err}
	}
	if code != http.StatusOK {
		return nil, &status.GatewayError{Op: "getBillTransactions", StatusCode: code, Raw: string(raw)}
	}
	if err := replyError(raw); err != nil {
		return nil, &status.GatewayError{Op: "getBillTransactions", StatusCode: code, Raw: string(raw), Err: err}
	}

	txs, err := normalizeTransactions(raw)
	if err != nil {
		return nil, &status.GatewayError{Op: "getBillTransactions", StatusCode: code, Raw: string(raw), Err: err}
	}

	return txs, nil
}

func (t *toyyibpay) post(ctx context.Context, path string, form url.Values) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("http.NewRequestWithContext: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := t.hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http.Client.Do: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("io.ReadAll: %w", err)
	}

	return raw, resp.StatusCode, nil
}
