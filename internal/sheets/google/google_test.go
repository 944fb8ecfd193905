package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"finance/internal/amqp"
	"finance/internal/core"
	ports "finance/internal/sheets"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// fakeSheets serves the three Values endpoints the client touches.
type fakeSheets struct {
	mu       sync.Mutex
	header   []any
	appended [][]any
	gets     int
	fail     bool
}

func (f *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		http.Error(w, `{"error":{"code":400,"message":"sheet locked"}}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/values/"):
		f.gets++
		resp := gsheet.ValueRange{Range: "Ledger!A1:K1"}
		if f.header != nil {
			resp.Values = [][]any{f.header}
		}
		json.NewEncoder(w).Encode(resp)

	case r.Method == http.MethodPut:
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil || len(vr.Values) != 1 {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		f.header = vr.Values[0]
		json.NewEncoder(w).Encode(gsheet.UpdateValuesResponse{UpdatedRange: "Ledger!A1:K1"})

	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":append"):
		var vr gsheet.ValueRange
		if err := json.NewDecoder(r.Body).Decode(&vr); err != nil {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		f.appended = append(f.appended, vr.Values...)
		json.NewEncoder(w).Encode(gsheet.AppendValuesResponse{
			SpreadsheetId: "sheet-1",
			Updates:       &gsheet.UpdateValuesResponse{UpdatedRange: "Ledger!A2:K2", UpdatedRows: 1},
		})

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T, fake *fakeSheets) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return NewWithService(svc, "sheet-1", "Ledger", nil)
}

func testEvent() *amqp.LedgerEvent {
	return &amqp.LedgerEvent{
		ID:            "evt-9",
		Kind:          amqp.EventRetracted,
		TransactionID: 9,
		BudgetID:      4,
		OwnerID:       1,
		Amount:        decimal.RequireFromString("20"),
		Label:         "refund",
		Type:          core.Entree,
		Delta:         decimal.RequireFromString("-20"),
		Balance:       decimal.RequireFromString("480"),
		At:            time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestClient_AppendEventWritesHeaderOnce(t *testing.T) {
	fake := &fakeSheets{}
	c := newTestClient(t, fake)

	require.NoError(t, c.AppendEvent(context.Background(), testEvent()))
	require.NoError(t, c.AppendEvent(context.Background(), testEvent()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 1, fake.gets, "header is checked only once per client")
	require.Len(t, fake.header, len(ports.Header))
	assert.Equal(t, "At", fake.header[0])

	require.Len(t, fake.appended, 2)
	row := fake.appended[0]
	require.Len(t, row, len(ports.Header))
	assert.Equal(t, "2024-05-02T10:00:00Z", row[0])
	assert.Equal(t, "evt-9", row[1])
	assert.Equal(t, "retracted", row[2])
	assert.Equal(t, "20.00", row[8])
	assert.Equal(t, "-20.00", row[9])
	assert.Equal(t, "480.00", row[10])
}

func TestClient_AppendEventKeepsExistingHeader(t *testing.T) {
	fake := &fakeSheets{header: []any{"custom"}}
	c := newTestClient(t, fake)

	require.NoError(t, c.AppendEvent(context.Background(), testEvent()))

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []any{"custom"}, fake.header)
	assert.Len(t, fake.appended, 1)
}

func TestClient_AppendEventRetriesHeaderAfterFailure(t *testing.T) {
	fake := &fakeSheets{fail: true}
	c := newTestClient(t, fake)

	err := c.AppendEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure header")

	fake.mu.Lock()
	fake.fail = false
	fake.mu.Unlock()

	require.NoError(t, c.AppendEvent(context.Background(), testEvent()))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Len(t, fake.appended, 1)
}

func TestClient_AppendEventWithoutService(t *testing.T) {
	c := &Client{sheetName: "Ledger"}
	err := c.AppendEvent(context.Background(), testEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not initialized")
}

func TestNew_MissingSpreadsheetID(t *testing.T) {
	_, err := New(context.Background(), Config{CredentialsJSON: "{}"}, nil)
	require.Error(t, err)
	assert.Equal(t, "missing GOOGLE_SPREADSHEET_ID", err.Error())
}

func TestReadCredentials(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"from":"file"}`), 0o600))

	got, err := readCredentials(Config{CredentialsJSON: ` {"from":"inline"} `, CredentialsFile: file})
	require.NoError(t, err)
	assert.Equal(t, `{"from":"inline"}`, string(got))

	got, err = readCredentials(Config{CredentialsFile: file})
	require.NoError(t, err)
	assert.Equal(t, `{"from":"file"}`, string(got))

	_, err = readCredentials(Config{CredentialsFile: filepath.Join(dir, "missing.json")})
	assert.Error(t, err)

	_, err = readCredentials(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing service account credentials")
}
