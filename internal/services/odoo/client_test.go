package odoo

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	authResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><int>7</int></value></param></params></methodResponse>`

	refusedResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><boolean>0</boolean></value></param></params></methodResponse>`

	locationsResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><array><data>
<value><struct>
<member><name>id</name><value><int>11</int></value></member>
<member><name>complete_name</name><value><string>WH/Stock/A01</string></value></member>
<member><name>barcode</name><value><boolean>0</boolean></value></member>
</struct></value>
</data></array></value></param></params></methodResponse>`

	writeResponse = `<?xml version="1.0"?>
<methodResponse><params><param><value><boolean>1</boolean></value></param></params></methodResponse>`
)

func fakeServer(t *testing.T, auth string, authCalls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "text/xml")
		switch {
		case strings.HasSuffix(r.URL.Path, "/common"):
			atomic.AddInt32(authCalls, 1)
			_, _ = io.WriteString(w, auth)
		case strings.Contains(string(body), "<string>search_read</string>"):
			_, _ = io.WriteString(w, locationsResponse)
		case strings.Contains(string(body), "<string>write</string>"):
			_, _ = io.WriteString(w, writeResponse)
		default:
			http.Error(w, "unexpected call", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSearchReadAuthenticatesOnce(t *testing.T) {
	var authCalls int32
	srv := fakeServer(t, authResponse, &authCalls)
	c := NewClient(srv.URL, "odoo", "picker", "secret", 5*time.Second)
	ctx := context.Background()

	var recs []locationRecord
	for i := 0; i < 2; i++ {
		require.NoError(t, c.SearchRead(ctx, "stock.location", []interface{}{}, []string{"complete_name", "barcode"}, 10, 0, &recs))
	}
	require.Len(t, recs, 1)
	assert.Equal(t, int64(11), recs[0].ID)
	assert.Equal(t, "WH/Stock/A01", recs[0].CompleteName.String())
	assert.Equal(t, "", recs[0].Barcode.String())
	assert.Equal(t, int32(1), atomic.LoadInt32(&authCalls))

	ok, err := c.Write(ctx, "stock.move.line", []int64{101}, map[string]interface{}{"qty_done": 2.0})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientRefusedCredentials(t *testing.T) {
	var authCalls int32
	srv := fakeServer(t, refusedResponse, &authCalls)
	c := NewClient(srv.URL, "odoo", "picker", "wrong", 5*time.Second)

	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestClientReadWithoutIDsSkipsNetwork(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "odoo", "picker", "secret", time.Second)
	var recs []productRecord
	require.NoError(t, c.Read(context.Background(), "product.product", nil, []string{"name"}, &recs))
	assert.Empty(t, recs)
}
