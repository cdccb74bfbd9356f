// Package google mirrors the ledger into a Google Sheets tab.
package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"housefees/internal/core"
	applog "housefees/internal/log"
	ports "housefees/internal/sheets"
)

var _ ports.LedgerMirror = (*Client)(nil)

// Config selects the spreadsheet and the service account used to write it.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *slog.Logger
}

// New creates a Sheets client authenticated with the configured service
// account. Extra options are appended after the defaults.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...goption.ClientOption) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Ledger"
	}
	logger = applog.WithComponent(logger, applog.ComponentSheets)

	all := []goption.ClientOption{goption.WithHTTPClient(newHTTPClientWithPooling())}
	if len(opts) == 0 {
		creds, err := credentialsJSON(cfg)
		if err != nil {
			return nil, err
		}
		all = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}
	all = append(all, opts...)

	svc, err := gsheet.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	logger.InfoContext(ctx, "Google Sheets mirror ready", "sheet", sheet)
	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, logger: logger}, nil
}

// credentialsJSON resolves the service account key: inline JSON, a file, or
// GOOGLE_APPLICATION_CREDENTIALS.
func credentialsJSON(cfg Config) ([]byte, error) {
	inline := strings.TrimSpace(cfg.CredentialsJSON)
	file := strings.TrimSpace(cfg.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// newHTTPClientWithPooling creates an HTTP client tuned for the Sheets API.
func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          20,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{Transport: transport, Timeout: 60 * time.Second}
}

// ReplaceUnits clears the mirror tab and writes the header plus one row per
// unit. Values are written RAW so owner names are never parsed as formulas.
func (c *Client) ReplaceUnits(ctx context.Context, units []core.Unit) error {
	if c.svc == nil {
		return errors.New("sheets service not initialized")
	}

	rng := fmt.Sprintf("%s!A:H", c.sheet)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, rng, &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", rng, err)
	}

	values := make([][]any, 0, len(units)+1)
	values = append(values, toCells(ports.Header))
	for _, u := range units {
		values = append(values, toCells(ports.Row(u)))
	}

	start := fmt.Sprintf("%s!A1", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, start, &gsheet.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", start, err)
	}

	c.logger.InfoContext(ctx, "Ledger mirrored to spreadsheet",
		applog.FieldUnits, len(units),
		"updated_cells", resp.UpdatedCells)
	return nil
}

func toCells(row []string) []any {
	out := make([]any, len(row))
	for i, v := range row {
		out[i] = v
	}
	return out
}
