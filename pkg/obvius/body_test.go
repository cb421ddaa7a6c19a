package obvius

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBodyFieldsForm(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("MODE=STATUS&password=x&UPTIME=10&UPTIME=20"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	values, err := readBodyFields(httptest.NewRecorder(), req, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "STATUS", values.Get("MODE"))
	assert.Equal(t, []string{"10", "20"}, values["UPTIME"])

	// request form state is left alone
	assert.Nil(t, req.PostForm)
}

func TestReadBodyFieldsFormOnGet(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", strings.NewReader("mode=MODE_TEST"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=utf-8")

	values, err := readBodyFields(httptest.NewRecorder(), req, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "MODE_TEST", values.Get("mode"))
}

func TestReadBodyFieldsMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("MODE", "LOGFILEUPLOAD"))
	require.NoError(t, mw.WriteField("SERIALNUMBER", "001EC6"))
	fw, err := mw.CreateFormFile("LOGFILE", "mb-250.log.gz")
	require.NoError(t, err)
	_, err = fw.Write([]byte("binary-ish payload"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	values, err := readBodyFields(httptest.NewRecorder(), req, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "LOGFILEUPLOAD", values.Get("MODE"))
	assert.Equal(t, "001EC6", values.Get("SERIALNUMBER"))
	_, hasFile := values["LOGFILE"]
	assert.False(t, hasFile, "file parts are not fields")
}

func TestReadBodyFieldsJSON(t *testing.T) {
	body := `{"mode":"STATUS","UPTIME":3600,"ratio":0.5,"BATTERYGOOD":true,"skip":null,"nested":{"a":1},"list":[1,2]}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	values, err := readBodyFields(httptest.NewRecorder(), req, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, url.Values{
		"mode":        {"STATUS"},
		"UPTIME":      {"3600"},
		"ratio":       {"0.5"},
		"BATTERYGOOD": {"true"},
	}, values)
}

func TestReadBodyFieldsIgnored(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
	}{
		{"no content type", "", "mode=STATUS"},
		{"plain text", "text/plain", "mode=STATUS"},
		{"empty json", "application/json", "   "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				req.Header.Set("Content-Type", tt.contentType)
			}
			values, err := readBodyFields(httptest.NewRecorder(), req, 0, 0)
			require.NoError(t, err)
			assert.Empty(t, values)
		})
	}
}

func TestReadBodyFieldsMalformed(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		maxBytes    int64
		wantErr     string
	}{
		{"bad media type", "multipart/form-data; boundary", "x", 0, "invalid content type"},
		{"missing boundary", "multipart/form-data", "x", 0, "boundary missing"},
		{"json array", "application/json", `[1,2]`, 0, "invalid JSON object"},
		{"broken json", "application/json", `{"mode":`, 0, "invalid JSON object"},
		{"bad escape", "application/x-www-form-urlencoded", "mode=%zz", 0, "invalid form encoding"},
		{"too large", "application/x-www-form-urlencoded", "mode=" + strings.Repeat("A", 64), 16, "request body too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			_, err := readBodyFields(httptest.NewRecorder(), req, tt.maxBytes, 0)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
