package catalogapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"order-concierge/internal/domain"
)

func serve(t *testing.T, routes map[string]string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewClient_EmptyURL(t *testing.T) {
	_, err := NewClient(" ")
	require.Error(t, err)
}

func TestFetchProducts(t *testing.T) {
	srv := serve(t, map[string]string{
		"/api/produtos": `{"data":[
			{"id":1,"slug":"doce","nome":"Pamonha Doce ","preco":"13.00","quantidade_estoque":42},
			{"id":2,"slug":"cafe","nome":"Café","preco":4.5,"quantidade_estoque":0,"controla_estoque":false},
			{"id":3,"slug":"","nome":"sem slug","preco":"1"}
		]}`,
	}, http.StatusOK)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	got, err := c.FetchProducts(context.Background())
	require.NoError(t, err)
	require.Equal(t, []domain.MenuItem{
		{Slug: "doce", Name: "Pamonha Doce", Price: 13, Stock: 42, Tracked: true},
		{Slug: "cafe", Name: "Café", Price: 4.5, Stock: 0, Tracked: false},
	}, got)
}

func TestFetchProducts_BadPrice(t *testing.T) {
	srv := serve(t, map[string]string{
		"/api/produtos": `{"data":[{"slug":"doce","preco":"treze"}]}`,
	}, http.StatusOK)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchProducts(context.Background())
	require.ErrorContains(t, err, "invalid price")
}

func TestFetchProducts_StatusError(t *testing.T) {
	srv := serve(t, map[string]string{"/api/produtos": `{"error":"db down"}`}, http.StatusInternalServerError)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.FetchProducts(context.Background())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusInternalServerError, statusErr.HTTPStatusCode())
	require.Contains(t, statusErr.Body, "db down")
}

func TestFetchStoreStatus(t *testing.T) {
	srv := serve(t, map[string]string{
		"/api/loja/status": `{"status":"aberto","mensagem":"Estamos abertos!","horarios":{}}`,
	}, http.StatusOK)
	c, err := NewClient(srv.URL + "/")
	require.NoError(t, err)

	got, err := c.FetchStoreStatus(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.StoreStatus{Open: true, Message: "Estamos abertos!"}, got)
}

func TestFetchStoreStatus_Closed(t *testing.T) {
	srv := serve(t, map[string]string{
		"/api/loja/status": `{"status":"fechado","mensagem":"Estamos fechados hoje."}`,
	}, http.StatusOK)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	got, err := c.FetchStoreStatus(context.Background())
	require.NoError(t, err)
	require.False(t, got.Open)
}
