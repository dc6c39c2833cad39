package logbook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestApiEnvelopeUnwrap(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/statuses", r.URL.Path)
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "mou", r.URL.Query().Get("search"))

		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"data": []map[string]any{
					{"id": 1, "nama": "Draft"},
					{"id": 2, "nama": "Aktif"},
				},
				"current_page": 2,
				"from":         11,
				"to":           12,
				"total":        12,
				"last_page":    2,
				"links": []map[string]any{
					{"url": nil, "label": "&laquo; Previous", "active": false},
				},
			},
		})
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()
	api.SetToken("token-123")

	page, err := api.GetStatuses(context.Background(), 2, "mou", 0)
	assert.Equal(t, nil, err)

	assert.Equal(t, "Bearer token-123", gotAuth)
	assert.Equal(t, 2, len(page.Items))
	assert.Equal(t, "Draft", page.Items[0].Nama)
	assert.Equal(t, 2, page.CurrentPage)
	assert.Equal(t, 2, page.LastPage)
	assert.Equal(t, 12, page.Total)
	assert.Equal(t, 1, len(page.Links))
}

func TestApiValidationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]any{
			"message": "Data tidak valid",
			"errors": map[string]any{
				"nama": []string{"Nama wajib diisi"},
			},
		})
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()

	_, err := api.CreateStatus(context.Background(), &StatusArgs{})
	assert.NotEqual(t, nil, err)

	apiError, ok := err.(*ApiError)
	assert.Equal(t, true, ok)
	assert.Equal(t, 422, apiError.StatusCode)
	assert.Equal(t, "Data tidak valid", apiError.Message)
	assert.Equal(t, []string{"Nama wajib diisi"}, apiError.Fields["nama"])
}

func TestApiPlainTextError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("something broke\n"))
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()

	_, err := api.GetUnits(context.Background(), 0, "", 0)
	apiError, ok := err.(*ApiError)
	assert.Equal(t, true, ok)
	assert.Equal(t, 500, apiError.StatusCode)
	assert.Equal(t, "something broke", apiError.Message)
}

func TestApiUnauthorizedFiresForcedLogout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()

	notify := api.ForcedLogout().NotifyChannel()

	_, err := api.GetMitra(context.Background(), 0, "", 0)
	apiError, ok := err.(*ApiError)
	assert.Equal(t, true, ok)
	assert.Equal(t, 401, apiError.StatusCode)

	select {
	case <-notify:
	default:
		t.Fatal("forced logout was not signaled")
	}
}

func TestApiEnvelopeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"message": "Dokumen tidak ditemukan",
		})
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()

	_, err := api.GetDokumenById(context.Background(), 99)
	assert.NotEqual(t, nil, err)
	assert.Equal(t, "Dokumen tidak ditemukan", err.Error())
}

func TestApiWriteVerbs(t *testing.T) {
	var gotMethods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethods = append(gotMethods, r.Method+" "+r.URL.Path)

		switch r.Method {
		case "POST":
			var args MitraArgs
			json.NewDecoder(r.Body).Decode(&args)
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"id": 5, "nama": args.Nama},
			})
		case "PATCH":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"id": 5, "nama": "Updated"},
			})
		case "DELETE":
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
			})
		}
	}))
	defer server.Close()

	api := NewLogbookApi(server.URL)
	defer api.Close()

	created, err := api.CreateMitra(context.Background(), &MitraArgs{Nama: "Universitas A"})
	assert.Equal(t, nil, err)
	assert.Equal(t, 5, created.Id)
	assert.Equal(t, "Universitas A", created.Nama)

	updated, err := api.UpdateMitra(context.Background(), 5, &MitraArgs{Nama: "Updated"})
	assert.Equal(t, nil, err)
	assert.Equal(t, "Updated", updated.Nama)

	err = api.DeleteMitra(context.Background(), 5)
	assert.Equal(t, nil, err)

	assert.Equal(t, []string{
		"POST /mitra",
		"PATCH /mitra/5",
		"DELETE /mitra/5",
	}, gotMethods)
}
