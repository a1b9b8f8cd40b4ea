package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"dogepal/internal/core"
	applog "dogepal/internal/log"
	ports "dogepal/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var _ ports.RecommendationExporter = (*Client)(nil)

type Options struct {
	SpreadsheetID string
	Sheet         string
	// Inline service account JSON takes precedence over CredentialsFile.
	CredentialsJSON string
	CredentialsFile string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	sheet := strings.TrimSpace(opts.Sheet)
	if sheet == "" {
		sheet = "Recommendations"
	}

	creds, err := credentials(ctx, opts)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	slog.InfoContext(ctx, "Google Sheets exporter ready",
		applog.FieldComponent, applog.ComponentSheets,
		applog.FieldSpreadsheet, spreadsheetID,
		"sheet", sheet)

	return &Client{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet}, nil
}

// credentials resolves service account JSON from the options, falling back
// to GOOGLE_APPLICATION_CREDENTIALS.
func credentials(ctx context.Context, opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		slog.DebugContext(ctx, "Using inline service account credentials",
			applog.FieldComponent, applog.ComponentSheets)
		return []byte(inline), nil
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// Export appends recs below the last used row of the sheet, writing the
// header first when the sheet is empty.
func (c *Client) Export(ctx context.Context, recs []core.Recommendation) (int, error) {
	if c.svc == nil {
		return 0, errors.New("sheets service not initialized")
	}
	if len(recs) == 0 {
		return 0, nil
	}

	headerRange := fmt.Sprintf("%s!A1:A1", c.sheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", headerRange, err)
	}

	values := buildValues(recs, len(resp.Values) == 0)

	rng := fmt.Sprintf("%s!A:J", c.sheet)
	_, err = c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: values}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, fmt.Errorf("append to sheet %s: %w", c.sheet, err)
	}

	slog.InfoContext(ctx, "Exported recommendations",
		applog.FieldComponent, applog.ComponentSheets,
		applog.FieldCount, len(recs),
		"sheet", c.sheet)
	return len(recs), nil
}

func buildValues(recs []core.Recommendation, withHeader bool) [][]any {
	values := make([][]any, 0, len(recs)+1)
	if withHeader {
		values = append(values, ports.Header)
	}
	for _, r := range recs {
		values = append(values, ports.Row(r))
	}
	return values
}
