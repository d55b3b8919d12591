package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sharmaji847401-hue/myapi/internal/models"
	pkgerrors "github.com/sharmaji847401-hue/myapi/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	t.Run("Standard", func(t *testing.T) {
		svc := &models.Service{Slug: "pan", EndpointTemplate: "https://p.test/pan?q=", URLMode: models.URLModeStandard}
		got, err := BuildURL(svc, Input{Data: "AB CD&1"})
		require.NoError(t, err)
		assert.Equal(t, "https://p.test/pan?q=AB+CD%261", got)
	})

	t.Run("EmptyModeIsStandard", func(t *testing.T) {
		svc := &models.Service{Slug: "pan", EndpointTemplate: "https://p.test/pan/"}
		got, err := BuildURL(svc, Input{Data: "X1"})
		require.NoError(t, err)
		assert.Equal(t, "https://p.test/pan/X1", got)
	})

	t.Run("BilledUtilityMergesQuery", func(t *testing.T) {
		svc := &models.Service{Slug: "electric", EndpointTemplate: "https://p.test/bill?token=abc", URLMode: models.URLModeBilledUtility}
		got, err := BuildURL(svc, Input{Data: "123 45", BillerID: "MSEB"})
		require.NoError(t, err)

		u, err := url.Parse(got)
		require.NoError(t, err)
		assert.Equal(t, "/bill", u.Path)
		assert.Equal(t, "abc", u.Query().Get("token"))
		assert.Equal(t, "MSEB", u.Query().Get("biller_id"))
		assert.Equal(t, "123 45", u.Query().Get("consumer_number"))
	})

	t.Run("BilledUtilityRequiresBiller", func(t *testing.T) {
		svc := &models.Service{Slug: "electric", EndpointTemplate: "https://p.test/bill", URLMode: models.URLModeBilledUtility}
		_, err := BuildURL(svc, Input{Data: "123"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("UnknownMode", func(t *testing.T) {
		svc := &models.Service{Slug: "x", URLMode: "carrier-pigeon"}
		_, err := BuildURL(svc, Input{Data: "1"})
		assert.ErrorIs(t, err, pkgerrors.ErrUnknownURLMode)
	})

	t.Run("RegisteredMode", func(t *testing.T) {
		RegisterURLBuilder("path-suffix", func(svc *models.Service, in Input) (string, error) {
			return strings.TrimSuffix(svc.EndpointTemplate, "/") + "/" + url.PathEscape(in.Data), nil
		})
		svc := &models.Service{Slug: "gst", EndpointTemplate: "https://p.test/gst/", URLMode: "path-suffix"}
		got, err := BuildURL(svc, Input{Data: "27AAA"})
		require.NoError(t, err)
		assert.Equal(t, "https://p.test/gst/27AAA", got)
	})
}

func TestSucceeded(t *testing.T) {
	plain := &models.Service{}
	withField := &models.Service{SuccessField: "status"}
	nested := &models.Service{SuccessField: "result.ok"}

	tests := []struct {
		name   string
		svc    *models.Service
		status int
		body   string
		want   bool
	}{
		{"Plain2xx", plain, 200, "anything", true},
		{"Plain201", plain, 201, "", true},
		{"Plain4xx", plain, 404, "{}", false},
		{"Plain5xx", plain, 503, "{}", false},
		{"FieldTrue", withField, 200, `{"status":true}`, true},
		{"FieldSuccessString", withField, 200, `{"status":"SUCCESS"}`, true},
		{"FieldOkString", withField, 200, `{"status":"ok"}`, true},
		{"FieldOne", withField, 200, `{"status":1}`, true},
		{"FieldFalse", withField, 200, `{"status":false}`, false},
		{"FieldZero", withField, 200, `{"status":0}`, false},
		{"FieldFailedString", withField, 200, `{"status":"failed"}`, false},
		{"FieldMissing", withField, 200, `{"data":{}}`, false},
		{"NotJSON", withField, 200, `<html>ok</html>`, false},
		{"Nested", nested, 200, `{"result":{"ok":true}}`, true},
		{"FieldTrueBut5xx", withField, 500, `{"status":true}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Succeeded(tt.svc, tt.status, []byte(tt.body)))
		})
	}
}

func TestClient_Invoke(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var gotQuery string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query().Get("q")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"status":true,"name":"A"}`))
		}))
		defer srv.Close()

		svc := &models.Service{Slug: "pan", EndpointTemplate: srv.URL + "/?q=", SuccessField: "status"}
		res := NewClient(time.Second, 0).Invoke(context.Background(), svc, Input{Data: "ABCDE1234F"})

		assert.Equal(t, KindSuccess, res.Kind)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "application/json", res.ContentType)
		assert.JSONEq(t, `{"status":true,"name":"A"}`, string(res.Body))
		assert.Equal(t, "ABCDE1234F", gotQuery)
	})

	t.Run("UpstreamError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("provider down"))
		}))
		defer srv.Close()

		svc := &models.Service{Slug: "pan", EndpointTemplate: srv.URL + "/?q="}
		res := NewClient(time.Second, 0).Invoke(context.Background(), svc, Input{Data: "x"})

		assert.Equal(t, KindUpstreamError, res.Kind)
		assert.Equal(t, http.StatusBadGateway, res.StatusCode)
		assert.Equal(t, "provider down", string(res.Body))
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		svc := &models.Service{Slug: "pan", EndpointTemplate: srv.URL + "/?q="}
		res := NewClient(50*time.Millisecond, 0).Invoke(context.Background(), svc, Input{Data: "x"})

		assert.Equal(t, KindTimeout, res.Kind)
		assert.Error(t, res.Err)
	})

	t.Run("NetworkFailure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		target := srv.URL
		srv.Close()

		svc := &models.Service{Slug: "pan", EndpointTemplate: target + "/?q="}
		res := NewClient(time.Second, 0).Invoke(context.Background(), svc, Input{Data: "x"})

		assert.Equal(t, KindNetworkFailure, res.Kind)
		assert.Error(t, res.Err)
	})

	t.Run("OversizeBodyIsUpstreamError", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(strings.Repeat("a", 100)))
		}))
		defer srv.Close()

		svc := &models.Service{Slug: "pan", EndpointTemplate: srv.URL + "/?q="}
		res := NewClient(time.Second, 10).Invoke(context.Background(), svc, Input{Data: "x"})

		assert.Equal(t, KindUpstreamError, res.Kind)
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.ErrorIs(t, res.Err, pkgerrors.ErrResponseTooLarge)
		assert.Empty(t, res.Body)
	})

	t.Run("BodyExactlyAtLimit", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(strings.Repeat("a", 10)))
		}))
		defer srv.Close()

		svc := &models.Service{Slug: "pan", EndpointTemplate: srv.URL + "/?q="}
		res := NewClient(time.Second, 10).Invoke(context.Background(), svc, Input{Data: "x"})

		assert.Equal(t, KindSuccess, res.Kind)
		assert.Len(t, res.Body, 10)
	})
}
